package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, chat_room_id, sender_id, client_message_id, raw_content,
	content_ciphertext, translations, translated_from, is_explicit, is_auto_reply,
	created_at, expires_at, edited_at, deleted_for_all, deleted_at, deleted_by_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var clientID, ciphertext, translations, translatedFrom sql.NullString
	var createdAt int64
	var expiresAt, editedAt, deletedAt, deletedBy sql.NullInt64
	err := row.Scan(
		&m.ID, &m.ChatRoomID, &m.SenderID, &clientID, &m.RawContent,
		&ciphertext, &translations, &translatedFrom, &m.IsExplicit, &m.IsAutoReply,
		&createdAt, &expiresAt, &editedAt, &m.DeletedForAll, &deletedAt, &deletedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		m.ClientMessageID = &clientID.String
	}
	if ciphertext.Valid {
		m.ContentCiphertext = &ciphertext.String
	}
	if translations.Valid && translations.String != "" {
		if err := json.Unmarshal([]byte(translations.String), &m.Translations); err != nil {
			return nil, fmt.Errorf("decoding translations for message %d: %w", m.ID, err)
		}
	}
	if translatedFrom.Valid {
		m.TranslatedFrom = &translatedFrom.String
	}
	m.CreatedAt = fromMS(createdAt)
	m.ExpiresAt = fromMSNull(expiresAt)
	m.EditedAt = fromMSNull(editedAt)
	m.DeletedAt = fromMSNull(deletedAt)
	if deletedBy.Valid {
		m.DeletedByID = &deletedBy.Int64
	}
	return &m, nil
}

func encodeTranslations(t map[string]string) (any, error) {
	if len(t) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CreateMessage inserts the message row, its per-recipient wrapped keys and
// its attachments in a single transaction. A failure anywhere leaves no
// half-written message behind. Duplicate keys are skipped silently.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message, keys map[int64]string, attachments []*Attachment) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	translations, err := encodeTranslations(msg.Translations)
	if err != nil {
		return fmt.Errorf("encoding translations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (chat_room_id, sender_id, client_message_id, raw_content,
			content_ciphertext, translations, translated_from, is_explicit, is_auto_reply,
			created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatRoomID, msg.SenderID, msg.ClientMessageID, msg.RawContent,
		msg.ContentCiphertext, translations, msg.TranslatedFrom, msg.IsExplicit, msg.IsAutoReply,
		ms(msg.CreatedAt), msPtr(msg.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for userID, sealed := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_keys (message_id, user_id, encrypted_key)
			VALUES (?, ?, ?)`,
			msg.ID, userID, sealed); err != nil {
			return fmt.Errorf("inserting message key for user %d: %w", userID, err)
		}
	}

	for _, a := range attachments {
		a.MessageID = msg.ID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = msg.CreatedAt
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, kind, url, mime_type, width, height,
				duration_sec, caption, thumb_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.MessageID, a.Kind, a.URL, a.MimeType, a.Width, a.Height,
			a.DurationSec, a.Caption, a.ThumbURL, ms(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting attachment: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetMessage returns the message with the given id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// GetMessageByClientID looks up the idempotency row for
// (roomID, senderID, clientMessageID).
func (s *SQLiteStore) GetMessageByClientID(ctx context.Context, roomID, senderID int64, clientMessageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE chat_room_id = ? AND sender_id = ? AND client_message_id = ?`,
		roomID, senderID, clientMessageID)
	return scanMessage(row)
}

// ListMessages pages a room's log newest-first by id. Expired rows are
// hidden; when visibleAfter is set only rows created strictly after it are
// returned (per-user clear cutoff). beforeID = 0 means start from the top.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit int, beforeID int64, visibleAfter *time.Time, now time.Time) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE chat_room_id = ?
		AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{roomID, ms(now)}

	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	if visibleAfter != nil {
		query += ` AND created_at > ?`
		args = append(args, ms(*visibleAfter))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageContent applies an edit. Tombstoned rows are never edited.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET raw_content = ?, edited_at = ?
		WHERE id = ? AND deleted_for_all = 0`,
		content, ms(editedAt), id)
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

const tombstoneSet = `deleted_for_all = 1, deleted_at = ?, deleted_by_id = ?,
	raw_content = '', content_ciphertext = NULL, translations = NULL, translated_from = NULL`

// TombstoneMessage marks a message deleted-for-all and clears its content.
// Idempotent: a second call on a tombstone is a no-op success.
func (s *SQLiteStore) TombstoneMessage(ctx context.Context, id, deletedBy int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET `+tombstoneSet+`
		WHERE id = ? AND deleted_for_all = 0`,
		ms(at), deletedBy, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already tombstoned (fine) or missing.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// TombstoneRoom tombstones every live message in a room and returns the
// affected ids so callers can emit upserts.
func (s *SQLiteStore) TombstoneRoom(ctx context.Context, roomID int64, deletedBy int64, at time.Time) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM messages WHERE chat_room_id = ? AND deleted_for_all = 0`, roomID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET `+tombstoneSet+`
		WHERE chat_room_id = ? AND deleted_for_all = 0`,
		ms(at), deletedBy, roomID); err != nil {
		return nil, err
	}

	return ids, tx.Commit()
}

// ExpireCandidates returns up to limit live message ids whose TTL has
// elapsed, ordered by id.
func (s *SQLiteStore) ExpireCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE expires_at IS NOT NULL AND expires_at <= ? AND deleted_for_all = 0
		ORDER BY id LIMIT ?`, ms(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TombstoneBatch tombstones the given ids in one statement. The worker's
// claim: rows already tombstoned by a concurrent writer are left alone.
func (s *SQLiteStore) TombstoneBatch(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{ms(at), nil}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET `+tombstoneSet+`
		WHERE deleted_for_all = 0 AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	return err
}

// ListTombstonedAt re-fetches the rows claimed by a TombstoneBatch pass.
func (s *SQLiteStore) ListTombstonedAt(ctx context.Context, at time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE deleted_for_all = 1 AND deleted_at = ? ORDER BY id`, ms(at))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneMessagesBefore hard-deletes messages (with their attachments, keys
// and engagement rows) sent by users on the given plan before cutoff.
func (s *SQLiteStore) PruneMessagesBefore(ctx context.Context, plan Plan, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	where := `SELECT m.id FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE u.plan = ? AND m.created_at < ?`

	for _, table := range []string{"attachments", "message_keys", "message_reactions", "message_reads", "message_deletions"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE message_id IN (`+where+`)`,
			plan, ms(cutoff)); err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE id IN (`+where+`)`, plan, ms(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func scanAttachment(row interface{ Scan(...any) error }) (*Attachment, error) {
	var a Attachment
	var width, height sql.NullInt64
	var duration sql.NullFloat64
	var createdAt int64
	err := row.Scan(&a.ID, &a.MessageID, &a.Kind, &a.URL, &a.MimeType,
		&width, &height, &duration, &a.Caption, &a.ThumbURL, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if width.Valid {
		w := int(width.Int64)
		a.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		a.Height = &h
	}
	if duration.Valid {
		a.DurationSec = &duration.Float64
	}
	a.CreatedAt = fromMS(createdAt)
	return &a, nil
}

const attachmentColumns = `id, message_id, kind, url, mime_type, width, height,
	duration_sec, caption, thumb_url, created_at`

// ListAttachments returns the attachments of a single message.
func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID int64) ([]*Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE message_id = ? ORDER BY id`,
		messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachmentsFor returns the attachments of a page of messages keyed by
// message id.
func (s *SQLiteStore) AttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]*Attachment, error) {
	out := make(map[int64][]*Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments
		 WHERE message_id IN (`+placeholders(len(messageIDs))+`) ORDER BY id`,
		int64Args(messageIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

// KeysForUser returns the caller's sealed keys for a page of messages,
// keyed by message id.
func (s *SQLiteStore) KeysForUser(ctx context.Context, userID int64, messageIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	args := append([]any{userID}, int64Args(messageIDs)...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, encrypted_key FROM message_keys
		 WHERE user_id = ? AND message_id IN (`+placeholders(len(messageIDs))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		out[id] = key
	}
	return out, rows.Err()
}

// GetMessageKey returns the sealed session key for (messageID, userID).
func (s *SQLiteStore) GetMessageKey(ctx context.Context, messageID, userID int64) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_key FROM message_keys WHERE message_id = ? AND user_id = ?`,
		messageID, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}
