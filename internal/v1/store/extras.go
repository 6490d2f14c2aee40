package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateScheduledMessage stores a deferred send.
func (s *SQLiteStore) CreateScheduledMessage(ctx context.Context, sm *ScheduledMessage) error {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (chat_room_id, sender_id, content, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sm.ChatRoomID, sm.SenderID, sm.Content, ms(sm.ScheduledAt), ms(sm.CreatedAt))
	if err != nil {
		return err
	}
	sm.ID, err = res.LastInsertId()
	return err
}

// DueScheduledMessages returns up to limit rows whose scheduled_at has passed.
func (s *SQLiteStore) DueScheduledMessages(ctx context.Context, now time.Time, limit int) ([]*ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_room_id, sender_id, content, scheduled_at, created_at
		FROM scheduled_messages
		WHERE scheduled_at <= ?
		ORDER BY scheduled_at LIMIT ?`, ms(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledMessage
	for rows.Next() {
		var sm ScheduledMessage
		var scheduledAt, createdAt int64
		if err := rows.Scan(&sm.ID, &sm.ChatRoomID, &sm.SenderID, &sm.Content,
			&scheduledAt, &createdAt); err != nil {
			return nil, err
		}
		sm.ScheduledAt = fromMS(scheduledAt)
		sm.CreatedAt = fromMS(createdAt)
		out = append(out, &sm)
	}
	return out, rows.Err()
}

// DeleteScheduledMessage removes a row once it has been delivered.
func (s *SQLiteStore) DeleteScheduledMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_messages WHERE id = ?`, id)
	if err != nil {
		return err
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

const uploadColumns = `id, owner_id, key, sha256, original_name, mime_type, size, width, height, duration_sec, driver, created_at`

func scanUpload(row interface{ Scan(...any) error }) (*Upload, error) {
	var u Upload
	var createdAt int64
	err := row.Scan(&u.ID, &u.OwnerID, &u.Key, &u.SHA256, &u.OriginalName,
		&u.MimeType, &u.Size, &u.Width, &u.Height, &u.DurationSec, &u.Driver, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = fromMS(createdAt)
	return &u, nil
}

// CreateUpload registers a stored blob.
func (s *SQLiteStore) CreateUpload(ctx context.Context, u *Upload) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Driver == "" {
		u.Driver = "local"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (owner_id, key, sha256, original_name, mime_type, size, width, height, duration_sec, driver, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.OwnerID, u.Key, u.SHA256, u.OriginalName, u.MimeType, u.Size,
		u.Width, u.Height, u.DurationSec, u.Driver, ms(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUpload returns the upload with the given id.
func (s *SQLiteStore) GetUpload(ctx context.Context, id int64) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	return scanUpload(row)
}

// GetUploadByKey returns the upload with the given storage key.
func (s *SQLiteStore) GetUploadByKey(ctx context.Context, key string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE key = ?`, key)
	return scanUpload(row)
}

// FindUploadBySHA returns an existing upload with the same content hash owned
// by the same user, for dedup.
func (s *SQLiteStore) FindUploadBySHA(ctx context.Context, ownerID int64, sha256 string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE owner_id = ? AND sha256 = ?`,
		ownerID, sha256)
	return scanUpload(row)
}

// AppendAudit records a privileged or destructive action.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, target_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ActorID, e.Action, e.TargetID, e.Detail, ms(e.CreatedAt))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListAudit returns the newest audit entries, up to limit.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, target_id, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetID, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMS(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}
