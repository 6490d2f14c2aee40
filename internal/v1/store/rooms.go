package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRoom inserts a room and its OWNER participant in one transaction.
// Every room with an owner has exactly one OWNER participant row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *ChatRoom, ownerID int64) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	if room.AutoTranslateMode == "" {
		room.AutoTranslateMode = TranslateOff
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room.OwnerID = &ownerID
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (name, is_group, owner_id, auto_translate_mode, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		room.Name, room.IsGroup, ownerID, room.AutoTranslateMode, ms(room.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}
	room.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO participants (chat_room_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)`,
		room.ID, ownerID, RoleOwner, ms(room.CreatedAt)); err != nil {
		return fmt.Errorf("inserting owner participant: %w", err)
	}

	return tx.Commit()
}

// GetRoom returns the room with the given id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*ChatRoom, error) {
	var r ChatRoom
	var ownerID sql.NullInt64
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, owner_id, auto_translate_mode, created_at
		FROM chat_rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.IsGroup, &ownerID, &r.AutoTranslateMode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		r.OwnerID = &ownerID.Int64
	}
	r.CreatedAt = fromMS(createdAt)
	return &r, nil
}

// AddParticipant inserts a membership row.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = RoleMember
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (chat_room_id, user_id, role, archived_at, joined_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ChatRoomID, p.UserID, p.Role, msPtr(p.ArchivedAt), ms(p.JoinedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetParticipant returns the membership row for (roomID, userID).
func (s *SQLiteStore) GetParticipant(ctx context.Context, roomID, userID int64) (*Participant, error) {
	var p Participant
	var archivedAt sql.NullInt64
	var joinedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_room_id, user_id, role, archived_at, joined_at
		FROM participants WHERE chat_room_id = ? AND user_id = ?`,
		roomID, userID).
		Scan(&p.ChatRoomID, &p.UserID, &p.Role, &archivedAt, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ArchivedAt = fromMSNull(archivedAt)
	p.JoinedAt = fromMS(joinedAt)
	return &p, nil
}

// ListParticipants returns all members of a room joined with user details.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID int64) ([]*ParticipantInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.chat_room_id, p.user_id, p.role, p.archived_at, p.joined_at,
			u.username, u.avatar_url, u.preferred_language, u.allow_explicit, u.public_key
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_room_id = ?
		ORDER BY p.joined_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ParticipantInfo
	for rows.Next() {
		var pi ParticipantInfo
		var archivedAt sql.NullInt64
		var joinedAt int64
		if err := rows.Scan(
			&pi.ChatRoomID, &pi.UserID, &pi.Role, &archivedAt, &joinedAt,
			&pi.Username, &pi.AvatarURL, &pi.PreferredLanguage, &pi.AllowExplicit, &pi.PublicKey,
		); err != nil {
			return nil, err
		}
		pi.ArchivedAt = fromMSNull(archivedAt)
		pi.JoinedAt = fromMS(joinedAt)
		out = append(out, &pi)
	}
	return out, rows.Err()
}

// UpdateParticipantRole changes a member's role.
func (s *SQLiteStore) UpdateParticipantRole(ctx context.Context, roomID, userID int64, role ParticipantRole) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET role = ? WHERE chat_room_id = ? AND user_id = ?`,
		role, roomID, userID)
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

// RemoveParticipant deletes a membership row.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, roomID, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM participants WHERE chat_room_id = ? AND user_id = ?`,
		roomID, userID)
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

// CreateInvite stores an invite code for a room.
func (s *SQLiteStore) CreateInvite(ctx context.Context, inv *Invite) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (code, chat_room_id, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		inv.Code, inv.ChatRoomID, inv.CreatedBy, ms(inv.CreatedAt), msPtr(inv.ExpiresAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetInvite returns the invite with the given code.
func (s *SQLiteStore) GetInvite(ctx context.Context, code string) (*Invite, error) {
	var inv Invite
	var createdAt int64
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT code, chat_room_id, created_by, created_at, expires_at
		FROM invites WHERE code = ?`, code).
		Scan(&inv.Code, &inv.ChatRoomID, &inv.CreatedBy, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = fromMS(createdAt)
	inv.ExpiresAt = fromMSNull(expiresAt)
	return &inv, nil
}

// UpsertThreadClear records the caller's per-room hide cutoff. Insert or
// update only; removing the row restores visibility.
func (s *SQLiteStore) UpsertThreadClear(ctx context.Context, userID, roomID int64, clearedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_clears (user_id, chat_room_id, cleared_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, chat_room_id) DO UPDATE SET cleared_at = excluded.cleared_at`,
		userID, roomID, ms(clearedAt))
	return err
}

// GetThreadClear returns the clear cutoff for (userID, roomID), nil if unset.
func (s *SQLiteStore) GetThreadClear(ctx context.Context, userID, roomID int64) (*time.Time, error) {
	var clearedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT cleared_at FROM thread_clears WHERE user_id = ? AND chat_room_id = ?`,
		userID, roomID).Scan(&clearedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := fromMS(clearedAt)
	return &t, nil
}
