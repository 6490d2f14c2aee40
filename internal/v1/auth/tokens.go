// Package auth owns credentials: password hashing, session and 2FA tokens,
// TOTP verification and the gin middleware that authenticates requests.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veilchat/backend/go/internal/v1/store"
)

// Token types carried in the "typ" claim. A session token never opens the
// 2FA door and an mfa token never authenticates a request.
const (
	tokenTypeSession = "session"
	tokenTypeMFA     = "mfa"
)

const (
	// SessionCookieName is the cookie carrying the session JWT.
	SessionCookieName = "veilchat_session"

	sessionTTL = 7 * 24 * time.Hour
	mfaTTL     = 5 * time.Minute
)

// ErrInvalidToken is returned for expired, malformed or mistyped tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload for both session and mfa tokens.
type Claims struct {
	UserID int64          `json:"uid"`
	Role   store.UserRole `json:"role"`
	Type   string         `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies the service's first-party JWTs.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer creates an issuer around an HS256 secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

func (ti *TokenIssuer) issue(userID int64, role store.UserRole, typ string, ttl time.Duration) (string, error) {
	now := ti.now().UTC()
	claims := Claims{
		UserID: userID,
		Role:   role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "veilchat",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

// IssueSession returns a signed session token for the user.
func (ti *TokenIssuer) IssueSession(userID int64, role store.UserRole) (string, error) {
	return ti.issue(userID, role, tokenTypeSession, sessionTTL)
}

// IssueMFA returns the short-lived token bridging password check and 2FA code.
func (ti *TokenIssuer) IssueMFA(userID int64) (string, error) {
	return ti.issue(userID, "", tokenTypeMFA, mfaTTL)
}

func (ti *TokenIssuer) parse(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return ti.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseSession verifies a session token and returns its claims.
func (ti *TokenIssuer) ParseSession(tokenString string) (*Claims, error) {
	return ti.parse(tokenString, tokenTypeSession)
}

// ParseMFA verifies an mfa token and returns its claims.
func (ti *TokenIssuer) ParseMFA(tokenString string) (*Claims, error) {
	return ti.parse(tokenString, tokenTypeMFA)
}

// NewResetToken returns a 32-byte random hex token for password resets.
func NewResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
