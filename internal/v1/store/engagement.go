package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AddReaction records (messageID, userID, emoji). Returns false when the
// triplet already exists so callers can skip the broadcast.
func (s *SQLiteStore) AddReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)`,
		messageID, userID, emoji, ms(time.Now().UTC()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveReaction deletes (messageID, userID, emoji). Returns false when the
// triplet was not present.
func (s *SQLiteStore) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountReactions returns the current count for one (message, emoji) pair.
func (s *SQLiteStore) CountReactions(ctx context.Context, messageID int64, emoji string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_reactions
		WHERE message_id = ? AND emoji = ?`,
		messageID, emoji).Scan(&n)
	return n, err
}

// ReactionSummaries aggregates reaction counts per emoji for a page of
// messages, keyed by message id.
func (s *SQLiteStore) ReactionSummaries(ctx context.Context, messageIDs []int64) (map[int64][]ReactionCount, error) {
	out := make(map[int64][]ReactionCount)
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, emoji, COUNT(*)
		FROM message_reactions
		WHERE message_id IN (`+placeholders(len(messageIDs))+`)
		GROUP BY message_id, emoji
		ORDER BY message_id, emoji`,
		int64Args(messageIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var rc ReactionCount
		if err := rows.Scan(&id, &rc.Emoji, &rc.Count); err != nil {
			return nil, err
		}
		out[id] = append(out[id], rc)
	}
	return out, rows.Err()
}

// UserReactions returns the emoji the given user has placed on each of the
// given messages, keyed by message id.
func (s *SQLiteStore) UserReactions(ctx context.Context, userID int64, messageIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	args := append([]any{userID}, int64Args(messageIDs)...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, emoji FROM message_reactions
		WHERE user_id = ? AND message_id IN (`+placeholders(len(messageIDs))+`)
		ORDER BY message_id, emoji`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var emoji string
		if err := rows.Scan(&id, &emoji); err != nil {
			return nil, err
		}
		out[id] = append(out[id], emoji)
	}
	return out, rows.Err()
}

// UpsertRead records that userID has read messageID. The first read_at wins;
// re-reading does not move the timestamp. Returns whether a new receipt
// was inserted.
func (s *SQLiteStore) UpsertRead(ctx context.Context, messageID, userID int64, readAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		VALUES (?, ?, ?)`,
		messageID, userID, ms(readAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReadersFor returns the read set of each message joined with user summaries.
func (s *SQLiteStore) ReadersFor(ctx context.Context, messageIDs []int64) (map[int64][]Reader, error) {
	out := make(map[int64][]Reader)
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id, u.username, u.avatar_url, r.read_at
		FROM message_reads r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id IN (`+placeholders(len(messageIDs))+`)
		ORDER BY r.read_at`,
		int64Args(messageIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var r Reader
		var readAt int64
		if err := rows.Scan(&id, &r.UserID, &r.Username, &r.AvatarURL, &readAt); err != nil {
			return nil, err
		}
		r.ReadAt = fromMS(readAt)
		out[id] = append(out[id], r)
	}
	return out, rows.Err()
}

// HasReaderBesides reports whether anyone other than senderID has read the
// message. Gates the sender's unsend window.
func (s *SQLiteStore) HasReaderBesides(ctx context.Context, messageID, senderID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM message_reads
		WHERE message_id = ? AND user_id != ? LIMIT 1`,
		messageID, senderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkDeletedForUser hides a message from one user's view. Idempotent.
func (s *SQLiteStore) MarkDeletedForUser(ctx context.Context, messageID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_deletions (message_id, user_id, deleted_at)
		VALUES (?, ?, ?)`,
		messageID, userID, ms(time.Now().UTC()))
	return err
}

// DeletedForUser returns which of the given messages the user has hidden.
func (s *SQLiteStore) DeletedForUser(ctx context.Context, userID int64, messageIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(messageIDs) == 0 {
		return out, nil
	}
	args := append([]any{userID}, int64Args(messageIDs)...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM message_deletions
		WHERE user_id = ? AND message_id IN (`+placeholders(len(messageIDs))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
