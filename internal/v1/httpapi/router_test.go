package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/bus"
	"github.com/veilchat/backend/go/internal/v1/config"
	"github.com/veilchat/backend/go/internal/v1/health"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/profanity"
	"github.com/veilchat/backend/go/internal/v1/rooms"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/translate"
	"github.com/veilchat/backend/go/internal/v1/transport"
	"github.com/veilchat/backend/go/internal/v1/uploads"
)

type testAPI struct {
	router *gin.Engine
	store  store.Store
	auth   *auth.Service
	rooms  *rooms.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		GoEnv:    "test",
		TestMode: true,
	}

	issuer := auth.NewTokenIssuer("0123456789abcdef0123456789abcdef")
	authSvc := auth.NewService(st, issuer)
	roomSvc := rooms.NewService(st)

	storage, err := uploads.NewLocalStorage(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	signer := uploads.NewSigner("fedcba9876543210fedcba9876543210", 5*time.Minute)
	uploadSvc := uploads.NewService(st, storage, signer, "local", 1<<20, 5*time.Minute)

	msgSvc := message.NewService(st, profanity.NewFilter(),
		translate.NewService(false, "", 0, nil),
		noopEmitter{}, signer, 15*time.Minute, false)

	b, err := bus.NewService("", "", "test")
	require.NoError(t, err)

	hub := transport.NewHub(roomSvc, msgSvc, b, nil, nil)

	router := NewRouter(Deps{
		Cfg:      cfg,
		Store:    st,
		Auth:     authSvc,
		Rooms:    roomSvc,
		Messages: msgSvc,
		Uploads:  uploadSvc,
		Hub:      hub,
		Health:   health.NewChecker(st, b),
	})
	return &testAPI{router: router, store: st, auth: authSvc, rooms: roomSvc}
}

type noopEmitter struct{}

func (noopEmitter) EmitRoom(ctx context.Context, roomID int64, event string, payload any) {}
func (noopEmitter) EmitUser(ctx context.Context, userID int64, event string, payload any) {}

// register creates a user over the API and returns (user id, bearer token).
func (ta *testAPI) register(t *testing.T, username string) (int64, string) {
	t.Helper()
	w := ta.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter22!",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	user, err := ta.store.GetUser(context.Background(), resp.User.ID)
	require.NoError(t, err)
	token, err := ta.auth.Issuer().IssueSession(user.ID, user.Role)
	require.NoError(t, err)
	return user.ID, token
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func (ta *testAPI) makeRoom(t *testing.T, ownerToken string, memberIDs ...int64) int64 {
	t.Helper()
	w := ta.do(t, http.MethodPost, "/rooms", ownerToken, gin.H{"name": "general", "isGroup": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Room struct {
			ID int64 `json:"id"`
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	for _, id := range memberIDs {
		w := ta.do(t, http.MethodPost, fmt.Sprintf("/rooms/%d/participants", resp.Room.ID), ownerToken, gin.H{"userId": id})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	return resp.Room.ID
}

func TestRegisterLoginMe(t *testing.T) {
	ta := newTestAPI(t)
	_, token := ta.register(t, "alice")

	w := ta.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	// Login with email works and sets the session cookie.
	w = ta.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"identifier": "alice@example.com",
		"password":   "hunter22!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	var sessionSet bool
	for _, ck := range cookies {
		if ck.Name == auth.SessionCookieName && ck.Value != "" {
			sessionSet = true
		}
	}
	assert.True(t, sessionSet)

	// Wrong password is a 401, not an enumeration oracle.
	w = ta.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"identifier": "alice",
		"password":   "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Unauthenticated /auth/me is refused.
	w = ta.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTwoFactorLogin(t *testing.T) {
	ta := newTestAPI(t)
	aliceID, _ := ta.register(t, "alice")

	secret, _, err := auth.GenerateTOTPSecret("alice")
	require.NoError(t, err)
	user, err := ta.store.GetUser(context.Background(), aliceID)
	require.NoError(t, err)
	user.TwoFactorEnabled = true
	user.TOTPSecretEnc = secret
	require.NoError(t, ta.store.UpdateUser(context.Background(), user))

	w := ta.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"identifier": "alice",
		"password":   "hunter22!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		MFARequired bool   `json:"mfaRequired"`
		MFAToken    string `json:"mfaToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.MFARequired)
	require.NotEmpty(t, resp.MFAToken)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	w = ta.do(t, http.MethodPost, "/auth/2fa/login", "", gin.H{
		"mfaToken": resp.MFAToken,
		"code":     code,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ta.do(t, http.MethodPost, "/auth/2fa/login", "", gin.H{
		"mfaToken": resp.MFAToken,
		"code":     "000000",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, "alice")

	// Unknown email still answers 200 with no token.
	w := ta.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "resetToken")

	w = ta.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ResetToken string `json:"resetToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ResetToken)

	w = ta.do(t, http.MethodPost, "/auth/reset-password", "", gin.H{
		"token":       resp.ResetToken,
		"newPassword": "n3w-password!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Token is single use.
	w = ta.do(t, http.MethodPost, "/auth/reset-password", "", gin.H{
		"token":       resp.ResetToken,
		"newPassword": "another-pass!",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"identifier": "alice",
		"password":   "n3w-password!",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMessageLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	_, aliceToken := ta.register(t, "alice")
	bobID, bobToken := ta.register(t, "bob")
	roomID := ta.makeRoom(t, aliceToken, bobID)

	// Create with idempotency key.
	w := ta.do(t, http.MethodPost, "/messages", aliceToken, gin.H{
		"chatRoomId":      roomID,
		"content":         "hello",
		"clientMessageId": "c1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Item struct {
			ID int64 `json:"id"`
		} `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// Replay returns the original row, same id.
	w = ta.do(t, http.MethodPost, "/messages", aliceToken, gin.H{
		"chatRoomId":      roomID,
		"content":         "hello",
		"clientMessageId": "c1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var replay struct {
		Item struct {
			ID int64 `json:"id"`
		} `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
	assert.Equal(t, created.Item.ID, replay.Item.ID)

	// Non-member cannot post.
	_, eveToken := ta.register(t, "eve")
	w = ta.do(t, http.MethodPost, "/messages", eveToken, gin.H{
		"chatRoomId": roomID,
		"content":    "hi",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// List as the other member.
	w = ta.do(t, http.MethodGet, fmt.Sprintf("/messages/%d", roomID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []json.RawMessage `json:"items"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Count)

	w = ta.do(t, http.MethodGet, fmt.Sprintf("/messages/%d?limit=500", roomID), bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Edit gate: bob is not the sender.
	w = ta.do(t, http.MethodPatch, fmt.Sprintf("/messages/%d/edit", created.Item.ID), bobToken, gin.H{
		"newContent": "hacked",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "not_sender")

	// Reactions toggle on and off.
	w = ta.do(t, http.MethodPost, fmt.Sprintf("/messages/%d/reactions", created.Item.ID), bobToken, gin.H{"emoji": "👍"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"op":"added"`)
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/messages/%d/reactions/%s", created.Item.ID, url.PathEscape("👍")), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Read receipt and bulk.
	w = ta.do(t, http.MethodPatch, fmt.Sprintf("/messages/%d/read", created.Item.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ta.do(t, http.MethodPost, "/messages/read-bulk", bobToken, gin.H{"ids": []int64{created.Item.ID}})
	require.Equal(t, http.StatusOK, w.Code)

	// Two-scope deletion.
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/messages/%d?scope=bogus", created.Item.ID), aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/messages/%d?scope=me", created.Item.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/messages/%d?scope=all", created.Item.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Delete-for-all by a non-sender is refused.
	w = ta.do(t, http.MethodPost, "/messages", aliceToken, gin.H{"chatRoomId": roomID, "content": "second"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/messages/%d?scope=all", created.Item.ID), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSchedulePremiumGate(t *testing.T) {
	ta := newTestAPI(t)
	aliceID, aliceToken := ta.register(t, "alice")
	roomID := ta.makeRoom(t, aliceToken)

	body := gin.H{"content": "later", "scheduledAt": time.Now().Add(time.Hour).Format(time.RFC3339)}
	w := ta.do(t, http.MethodPost, fmt.Sprintf("/messages/%d/schedule", roomID), aliceToken, body)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	user, err := ta.store.GetUser(context.Background(), aliceID)
	require.NoError(t, err)
	user.Plan = store.PlanPremium
	require.NoError(t, ta.store.UpdateUser(context.Background(), user))

	w = ta.do(t, http.MethodPost, fmt.Sprintf("/messages/%d/schedule", roomID), aliceToken, body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRoomAdministration(t *testing.T) {
	ta := newTestAPI(t)
	_, aliceToken := ta.register(t, "alice")
	bobID, bobToken := ta.register(t, "bob")
	roomID := ta.makeRoom(t, aliceToken, bobID)

	// Owner promotes bob through the ranks.
	w := ta.do(t, http.MethodPost, fmt.Sprintf("/rooms/%d/participants/%d/promote", roomID, bobID), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ta.do(t, http.MethodPatch, fmt.Sprintf("/rooms/%d/participants/%d/role", roomID, bobID), aliceToken, gin.H{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)

	// Nobody can be granted OWNER.
	w = ta.do(t, http.MethodPatch, fmt.Sprintf("/rooms/%d/participants/%d/role", roomID, bobID), aliceToken, gin.H{"role": "OWNER"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ta.do(t, http.MethodGet, fmt.Sprintf("/rooms/%d/participants", roomID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"ADMIN"`)

	// Bob leaves; the owner cannot.
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/rooms/%d/participants/%d", roomID, bobID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var aliceID int64
	{
		user, err := ta.store.GetUserByUsername(context.Background(), "alice")
		require.NoError(t, err)
		aliceID = user.ID
	}
	w = ta.do(t, http.MethodDelete, fmt.Sprintf("/rooms/%d/participants/%d", roomID, aliceID), aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInviteFlow(t *testing.T) {
	ta := newTestAPI(t)
	_, aliceToken := ta.register(t, "alice")
	_, bobToken := ta.register(t, "bob")
	roomID := ta.makeRoom(t, aliceToken)

	w := ta.do(t, http.MethodPost, fmt.Sprintf("/group-invites/%d", roomID), aliceToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Code, 32)

	w = ta.do(t, http.MethodPost, "/group-invites/"+resp.Code+"/join", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Redeeming twice conflicts.
	w = ta.do(t, http.MethodPost, "/group-invites/"+resp.Code+"/join", bobToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func uploadRequest(t *testing.T, path, token, filename, mimeType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadAndSignedStream(t *testing.T) {
	ta := newTestAPI(t)
	aliceID, aliceToken := ta.register(t, "alice")
	roomID := ta.makeRoom(t, aliceToken)

	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, uploadRequest(t, "/uploads", aliceToken, "pic.png", "image/png", []byte("pixels")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	// Owner streams it back; another user is refused.
	w = ta.do(t, http.MethodGet, fmt.Sprintf("/uploads/%d", up.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pixels", w.Body.String())

	_, bobToken := ta.register(t, "bob")
	w = ta.do(t, http.MethodGet, fmt.Sprintf("/uploads/%d", up.ID), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// SVG is rejected on intake.
	w = httptest.NewRecorder()
	ta.router.ServeHTTP(w, uploadRequest(t, "/uploads", aliceToken, "vec.svg", "image/svg+xml", []byte("<svg/>")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	// A message attachment surfaces as a signed URL that streams without a
	// session.
	upload, err := ta.store.GetUpload(context.Background(), up.ID)
	require.NoError(t, err)
	w = ta.do(t, http.MethodPost, "/messages", aliceToken, gin.H{
		"chatRoomId": roomID,
		"content":    "look",
		"attachmentsInline": []gin.H{{
			"kind":     "IMAGE",
			"url":      upload.Key,
			"mimeType": "image/png",
		}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Item struct {
			Attachments []struct {
				URL string `json:"url"`
			} `json:"attachments"`
		} `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Item.Attachments, 1)
	signedURL := created.Item.Attachments[0].URL
	require.True(t, strings.HasPrefix(signedURL, "/uploads/file/"), signedURL)
	assert.Contains(t, signedURL, fmt.Sprintf("owner=%d", aliceID))

	w = ta.do(t, http.MethodGet, signedURL, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pixels", w.Body.String())

	// Tampering with the signature is refused.
	w = ta.do(t, http.MethodGet, strings.Replace(signedURL, "sig=", "sig=00", 1), "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCSRFOnCookieAuth(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, "alice")

	// Cookie-authenticated state change without the CSRF header is refused.
	login := ta.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"identifier": "alice",
		"password":   "hunter22!",
	})
	require.Equal(t, http.StatusOK, login.Code)

	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range login.Result().Cookies() {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Echoing the CSRF cookie into the header passes.
	var csrf string
	for _, ck := range login.Result().Cookies() {
		if ck.Name == "veilchat_csrf" {
			csrf = ck.Value
		}
	}
	require.NotEmpty(t, csrf)
	req = httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", csrf)
	for _, ck := range login.Result().Cookies() {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAdminAuditGate(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()
	aliceID, aliceToken := ta.register(t, "alice")
	_, bobToken := ta.register(t, "bob")
	roomID := ta.makeRoom(t, aliceToken)

	w := ta.do(t, http.MethodPost, "/messages", aliceToken, gin.H{"chatRoomId": roomID, "content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Ordinary users cannot read the audit trail.
	w = ta.do(t, http.MethodGet, "/admin/audit", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	alice, err := ta.store.GetUser(ctx, aliceID)
	require.NoError(t, err)
	alice.Role = store.UserRoleAdmin
	require.NoError(t, ta.store.UpdateUser(ctx, alice))
	adminToken, err := ta.auth.Issuer().IssueSession(alice.ID, alice.Role)
	require.NoError(t, err)

	w = ta.do(t, http.MethodGet, "/admin/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Items []struct {
			ActorID int64  `json:"actorId"`
			Action  string `json:"action"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, "message.create", resp.Items[0].Action)
	assert.Equal(t, aliceID, resp.Items[0].ActorID)

	// Bad limits are rejected.
	w = ta.do(t, http.MethodGet, "/admin/audit?limit=0", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetricsExposed(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		w := ta.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
