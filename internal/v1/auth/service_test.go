package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/backend/go/internal/v1/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewService(s, NewTokenIssuer(testSecret)), s
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionToken)
	assert.NotZero(t, res.User.ID)

	// Username and email both work as identifiers.
	for _, id := range []string{"alice", "alice@example.com"} {
		got, err := svc.Login(ctx, id, "correct horse")
		require.NoError(t, err)
		assert.Equal(t, res.User.ID, got.User.ID)
		assert.False(t, got.MFARequired)
	}

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.Login(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = svc.Register(ctx, "bob", "bob@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestTwoFactorHandshake(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	secret, url, err := GenerateTOTPSecret("alice")
	require.NoError(t, err)
	assert.Contains(t, url, "otpauth://")

	user := res.User
	user.TwoFactorEnabled = true
	user.TOTPSecretEnc = secret
	require.NoError(t, st.UpdateUser(ctx, user))

	login, err := svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.True(t, login.MFARequired)
	assert.Empty(t, login.SessionToken)
	require.NotEmpty(t, login.MFAToken)

	// The mfa token is not a session token.
	_, err = svc.Issuer().ParseSession(login.MFAToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.CompleteMFA(ctx, login.MFAToken, "000000")
	assert.ErrorIs(t, err, ErrBadCode)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	done, err := svc.CompleteMFA(ctx, login.MFAToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, done.SessionToken)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	// Unknown emails do not reveal themselves.
	token, err := svc.ForgotPassword(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)

	token, err = svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.ResetPassword(ctx, token, "new password 1"))

	_, err = svc.Login(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.Login(ctx, "alice", "new password 1")
	assert.NoError(t, err)

	// Token is single use.
	err = svc.ResetPassword(ctx, token, "another password")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer(testSecret)
	token, err := issuer.IssueSession(7, store.UserRoleUser)
	require.NoError(t, err)

	claims, err := issuer.ParseSession(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)

	// Rewind-proof: a clock past the TTL rejects the token.
	issuer.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = issuer.ParseSession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := NewTokenIssuer(testSecret)
	token, err := issuer.IssueSession(42, store.UserRoleAdmin)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(issuer))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": CallerID(c), "role": CallerRole(c)})
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"bearer header", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}, http.StatusOK},
		{"session cookie", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
		}, http.StatusOK},
		{"query token", func(req *http.Request) {
			q := req.URL.Query()
			q.Set("token", token)
			req.URL.RawQuery = q.Encode()
		}, http.StatusOK},
		{"missing", func(req *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer nope")
		}, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	// Admin gate.
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	userToken, err := issuer.IssueSession(7, store.UserRoleUser)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
