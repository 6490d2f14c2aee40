package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veilchat/backend/go/internal/v1/store"
)

var (
	// ErrBadCredentials covers unknown identifier and wrong password alike.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrBadCode is returned for a wrong or replayed 2FA code.
	ErrBadCode = errors.New("invalid 2fa code")
)

const resetTokenTTL = 1 * time.Hour

// Service implements the login, 2FA and password reset flows.
type Service struct {
	store  store.Store
	issuer *TokenIssuer
}

// NewService wires the auth flows to the store and token issuer.
func NewService(s store.Store, issuer *TokenIssuer) *Service {
	return &Service{store: s, issuer: issuer}
}

// Issuer exposes the token issuer for the middleware and handlers.
func (s *Service) Issuer() *TokenIssuer { return s.issuer }

// LoginResult is the outcome of a password check. When MFARequired is set
// the caller must complete the 2FA handshake before a session exists.
type LoginResult struct {
	User         *store.User
	SessionToken string
	MFARequired  bool
	MFAToken     string
}

// Login verifies identifier (username or email) and password. Accounts with
// 2FA enabled get a short-lived mfa token instead of a session.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	if user.TwoFactorEnabled {
		mfaToken, err := s.issuer.IssueMFA(user.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{User: user, MFARequired: true, MFAToken: mfaToken}, nil
	}

	session, err := s.issuer.IssueSession(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, SessionToken: session}, nil
}

// CompleteMFA exchanges a valid (mfaToken, TOTP code) pair for a session.
func (s *Service) CompleteMFA(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	claims, err := s.issuer.ParseMFA(mfaToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.TwoFactorEnabled || !ValidateTOTP(user.TOTPSecretEnc, code) {
		return nil, ErrBadCode
	}

	session, err := s.issuer.IssueSession(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, SessionToken: session}, nil
}

// Register creates a user with a hashed password and returns a session.
func (s *Service) Register(ctx context.Context, username, email, password string) (*LoginResult, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &store.User{
		Username:         username,
		Email:            email,
		PasswordHash:     hash,
		ShowReadReceipts: true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	session, err := s.issuer.IssueSession(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, SessionToken: session}, nil
}

// ForgotPassword mints a single-use reset token for the account, if any.
// Returns ("", nil) for unknown emails so the endpoint stays non-enumerable.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	token, err := NewResetToken()
	if err != nil {
		return "", err
	}
	reset := &store.PasswordReset{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	}
	if err := s.store.CreatePasswordReset(ctx, reset); err != nil {
		return "", fmt.Errorf("storing reset token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token and replaces the user's password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	reset, err := s.store.ConsumePasswordReset(ctx, token, time.Now().UTC())
	if err != nil {
		return err
	}
	user, err := s.store.GetUser(ctx, reset.UserID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.store.UpdateUser(ctx, user)
}

func (s *Service) lookup(ctx context.Context, identifier string) (*store.User, error) {
	if strings.Contains(identifier, "@") {
		return s.store.GetUserByEmail(ctx, identifier)
	}
	return s.store.GetUserByUsername(ctx, identifier)
}
