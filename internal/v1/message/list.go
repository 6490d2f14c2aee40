package message

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/backend/go/internal/v1/store"
)

// Page is the list response: items newest-first plus a cursor for the next
// older page.
type Page struct {
	Items      []*Item `json:"items"`
	NextCursor *int64  `json:"nextCursor"`
	Count      int     `json:"count"`
}

// List returns a visibility-composed page of a room's log for the caller:
// the per-user cutoff (archive or clear) hides older rows, expired rows are
// gone, tombstones keep their shape, and delete-for-me rows are filtered.
func (s *Service) List(ctx context.Context, callerID, roomID int64, limit int, cursor int64) (*Page, error) {
	if limit < 1 || limit > maxListLimit {
		return nil, ErrBadLimit
	}

	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	isAdmin := caller.Role == store.UserRoleAdmin

	var cutoff *time.Time
	if !isAdmin {
		participant, err := s.store.GetParticipant(ctx, roomID, callerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotMember
			}
			return nil, err
		}
		cutoff = participant.ArchivedAt
	}

	cleared, err := s.store.GetThreadClear(ctx, callerID, roomID)
	if err != nil {
		return nil, err
	}
	if cleared != nil && (cutoff == nil || cleared.After(*cutoff)) {
		cutoff = cleared
	}

	msgs, err := s.store.ListMessages(ctx, roomID, limit, cursor, cutoff, s.now().UTC())
	if err != nil {
		return nil, err
	}

	items, err := s.composeItems(ctx, msgs, composeOpts{
		CallerID:    callerID,
		CallerLang:  caller.PreferredLanguage,
		CallerAdmin: isAdmin,
	})
	if err != nil {
		return nil, err
	}

	// Delete-for-me rows vanish from this caller's view only.
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	hidden, err := s.store.DeletedForUser(ctx, callerID, ids)
	if err != nil {
		return nil, err
	}
	visible := items[:0]
	for _, item := range items {
		if !hidden[item.ID] {
			visible = append(visible, item)
		}
	}

	page := &Page{Items: visible, Count: len(visible)}
	// Cursor comes from the raw page so hidden rows do not stall paging.
	if len(msgs) == limit {
		last := msgs[len(msgs)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// Clear records the caller's per-room hide cutoff at now. Messages created
// at-or-before it disappear from this caller's reads only.
func (s *Service) Clear(ctx context.Context, callerID, roomID int64) error {
	if _, err := s.requireParticipantOrAdmin(ctx, roomID, callerID); err != nil {
		return err
	}
	return s.store.UpsertThreadClear(ctx, callerID, roomID, s.now().UTC())
}

// ClearAll tombstones every live message in the room. Room owner, room
// admin or global ADMIN only. Every affected row gets an upsert.
func (s *Service) ClearAll(ctx context.Context, callerID, roomID int64) error {
	caller, err := s.requireParticipantOrAdmin(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if caller.Role != store.UserRoleAdmin {
		participant, err := s.store.GetParticipant(ctx, roomID, callerID)
		if err != nil {
			return err
		}
		if participant.Role.Rank() < store.RoleAdmin.Rank() {
			return ErrForbidden
		}
	}

	ids, err := s.store.TombstoneRoom(ctx, roomID, callerID, s.now().UTC())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.EmitUpsertByID(ctx, id); err != nil {
			// Emit failures never rewind the tombstones.
			continue
		}
	}
	s.audit(ctx, callerID, "room.clear_all", roomID, "")
	return nil
}
