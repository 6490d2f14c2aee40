package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, username, email, password_hash, role, plan, public_key,
	preferred_language, allow_explicit, strict_e2ee, show_read_receipts,
	auto_delete_seconds, two_factor_enabled, totp_secret_enc, avatar_url, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt int64
	var publicKey []byte
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Plan, &publicKey,
		&u.PreferredLanguage, &u.AllowExplicitContent, &u.StrictE2EE, &u.ShowReadReceipts,
		&u.AutoDeleteSeconds, &u.TwoFactorEnabled, &u.TOTPSecretEnc, &u.AvatarURL, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PublicKey = publicKey
	u.CreatedAt = fromMS(createdAt)
	return &u, nil
}

// CreateUser inserts a new user and fills in its assigned id.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = "en"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, role, plan, public_key,
			preferred_language, allow_explicit, strict_e2ee, show_read_receipts,
			auto_delete_seconds, two_factor_enabled, totp_secret_enc, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Role, u.Plan, u.PublicKey,
		u.PreferredLanguage, u.AllowExplicitContent, u.StrictE2EE, u.ShowReadReceipts,
		u.AutoDeleteSeconds, u.TwoFactorEnabled, u.TOTPSecretEnc, u.AvatarURL, ms(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	return err
}

// GetUser returns the user with the given id.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername returns the user with the given username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByEmail returns the user with the given email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email)
	return scanUser(row)
}

// UsersByIDs returns public summaries for a set of user ids, keyed by id.
// Missing ids are simply absent from the result.
func (s *SQLiteStore) UsersByIDs(ctx context.Context, ids []int64) (map[int64]UserSummary, error) {
	out := make(map[int64]UserSummary)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, avatar_url FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// UpdateUser persists mutable user fields (settings PATCH, password change).
func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			email = ?, password_hash = ?, role = ?, plan = ?, public_key = ?,
			preferred_language = ?, allow_explicit = ?, strict_e2ee = ?,
			show_read_receipts = ?, auto_delete_seconds = ?,
			two_factor_enabled = ?, totp_secret_enc = ?, avatar_url = ?
		WHERE id = ?`,
		u.Email, u.PasswordHash, u.Role, u.Plan, u.PublicKey,
		u.PreferredLanguage, u.AllowExplicitContent, u.StrictE2EE,
		u.ShowReadReceipts, u.AutoDeleteSeconds,
		u.TwoFactorEnabled, u.TOTPSecretEnc, u.AvatarURL,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("updating user %d: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePasswordReset stores a single-use reset token.
func (s *SQLiteStore) CreatePasswordReset(ctx context.Context, r *PasswordReset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO password_resets (token, user_id, expires_at) VALUES (?, ?, ?)`,
		r.Token, r.UserID, ms(r.ExpiresAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ConsumePasswordReset atomically marks an unexpired token used and returns it.
func (s *SQLiteStore) ConsumePasswordReset(ctx context.Context, token string, now time.Time) (*PasswordReset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var r PasswordReset
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at FROM password_resets
		 WHERE token = ? AND used = 0 AND expires_at > ?`,
		token, ms(now)).Scan(&r.Token, &r.UserID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = fromMS(expiresAt)

	if _, err := tx.ExecContext(ctx,
		`UPDATE password_resets SET used = 1 WHERE token = ?`, token); err != nil {
		return nil, err
	}

	return &r, tx.Commit()
}
