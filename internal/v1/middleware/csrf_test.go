package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csrfRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CSRF("session"))
	r.POST("/act", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/read", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestCSRFRequiresMatchingHeader(t *testing.T) {
	r := csrfRouter()
	token, err := NewCSRFToken()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/act", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "jwt"})
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.Header.Set(CSRFHeaderName, token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCSRFSkipsSafeAndSessionlessRequests(t *testing.T) {
	r := csrfRouter()

	// No session cookie at all: the auth layer decides, not CSRF.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/act", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Safe method with a session passes untouched.
	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "jwt"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Bearer requests are exempt even with a stray session cookie.
	req = httptest.NewRequest(http.MethodPost, "/act", nil)
	req.Header.Set("Authorization", "Bearer token")
	req.AddCookie(&http.Cookie{Name: "session", Value: "jwt"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
