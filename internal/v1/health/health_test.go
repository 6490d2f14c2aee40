package health

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/backend/go/internal/v1/bus"
	"github.com/veilchat/backend/go/internal/v1/store"
)

func TestProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b, err := bus.NewService("", "", "test")
	require.NoError(t, err)

	checker := NewChecker(st, b)
	r := gin.New()
	r.GET("/health/live", checker.Live)
	r.GET("/health/ready", checker.Ready)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestReadyFailsWhenStoreClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	b, err := bus.NewService("", "", "test")
	require.NoError(t, err)

	checker := NewChecker(st, b)
	r := gin.New()
	r.GET("/health/ready", checker.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
