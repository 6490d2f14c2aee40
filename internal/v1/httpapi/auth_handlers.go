package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/middleware"
	"github.com/veilchat/backend/go/internal/v1/store"
)

const sessionCookieMaxAge = int(7 * 24 * time.Hour / time.Second)

// userView is the caller-facing shape of a user. The password hash and
// TOTP secret never leave the store layer.
type userView struct {
	ID                   int64     `json:"id"`
	Username             string    `json:"username"`
	Email                string    `json:"email"`
	Role                 string    `json:"role"`
	Plan                 string    `json:"plan"`
	PreferredLanguage    string    `json:"preferredLanguage,omitempty"`
	AllowExplicitContent bool      `json:"allowExplicitContent"`
	StrictE2EE           bool      `json:"strictE2EE"`
	ShowReadReceipts     bool      `json:"showReadReceipts"`
	AutoDeleteSeconds    int       `json:"autoDeleteSeconds,omitempty"`
	TwoFactorEnabled     bool      `json:"twoFactorEnabled"`
	AvatarURL            string    `json:"avatarUrl,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

func toUserView(u *store.User) userView {
	return userView{
		ID:                   u.ID,
		Username:             u.Username,
		Email:                u.Email,
		Role:                 string(u.Role),
		Plan:                 string(u.Plan),
		PreferredLanguage:    u.PreferredLanguage,
		AllowExplicitContent: u.AllowExplicitContent,
		StrictE2EE:           u.StrictE2EE,
		ShowReadReceipts:     u.ShowReadReceipts,
		AutoDeleteSeconds:    u.AutoDeleteSeconds,
		TwoFactorEnabled:     u.TwoFactorEnabled,
		AvatarURL:            u.AvatarURL,
		CreatedAt:            u.CreatedAt,
	}
}

// setSession installs the session cookie plus a fresh CSRF cookie for the
// double-submit check.
func (a *api) setSession(c *gin.Context, token string) {
	secure := a.Cfg.GoEnv == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookieName, token, sessionCookieMaxAge, "/", "", secure, true)
	if csrf, err := middleware.NewCSRFToken(); err == nil {
		c.SetCookie(middleware.CSRFCookieName, csrf, sessionCookieMaxAge, "/", "", secure, false)
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (a *api) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username, email and password are required")
		return
	}
	result, err := a.Auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	a.setSession(c, result.SessionToken)
	c.JSON(http.StatusCreated, gin.H{"user": toUserView(result.User)})
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (a *api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "identifier and password are required")
		return
	}
	result, err := a.Auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.MFARequired {
		c.JSON(http.StatusOK, gin.H{"mfaRequired": true, "mfaToken": result.MFAToken})
		return
	}
	a.setSession(c, result.SessionToken)
	c.JSON(http.StatusOK, gin.H{"user": toUserView(result.User)})
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfaToken" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

func (a *api) loginMFA(c *gin.Context) {
	var req mfaLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "mfaToken and code are required")
		return
	}
	result, err := a.Auth.CompleteMFA(c.Request.Context(), req.MFAToken, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	a.setSession(c, result.SessionToken)
	c.JSON(http.StatusOK, gin.H{"user": toUserView(result.User)})
}

func (a *api) logout(c *gin.Context) {
	secure := a.Cfg.GoEnv == "production"
	c.SetCookie(auth.SessionCookieName, "", -1, "/", "", secure, true)
	c.SetCookie(middleware.CSRFCookieName, "", -1, "/", "", secure, false)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) me(c *gin.Context) {
	user, err := a.Store.GetUser(c.Request.Context(), auth.CallerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(user)})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// forgotPassword always answers 200 so account existence stays private.
// The reset token is only surfaced in test mode; production delivery is
// out of band.
func (a *api) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}
	token, err := a.Auth.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"ok": true}
	if a.Cfg.TestMode && token != "" {
		resp["resetToken"] = token
	}
	c.JSON(http.StatusOK, resp)
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (a *api) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token and newPassword are required")
		return
	}
	if err := a.Auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			badRequest(c, "invalid or expired reset token")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
