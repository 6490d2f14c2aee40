package message

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/backend/go/internal/v1/store"
)

// EditReason distinguishes why an edit was refused. All reasons map to the
// single canonical edit_not_allowed error; the reason travels as detail.
type EditReason string

const (
	EditReasonNotSender     EditReason = "not_sender"
	EditReasonAlreadyRead   EditReason = "already_read"
	EditReasonWindowExpired EditReason = "window_expired"
	EditReasonDeleted       EditReason = "deleted"
)

// EditError wraps ErrEditNotAllowed with its reason.
type EditError struct {
	Reason EditReason
}

func (e *EditError) Error() string { return ErrEditNotAllowed.Error() + ": " + string(e.Reason) }
func (e *EditError) Unwrap() error { return ErrEditNotAllowed }

// Edit rewrites a message's plaintext. Sender only, before anyone else has
// read it, inside the edit window, never on tombstones.
func (s *Service) Edit(ctx context.Context, callerID, messageID int64, newContent string) (*Item, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if msg.DeletedForAll {
		return nil, &EditError{Reason: EditReasonDeleted}
	}
	if msg.SenderID != callerID {
		return nil, &EditError{Reason: EditReasonNotSender}
	}
	read, err := s.store.HasReaderBesides(ctx, messageID, callerID)
	if err != nil {
		return nil, err
	}
	if read {
		return nil, &EditError{Reason: EditReasonAlreadyRead}
	}
	now := s.now().UTC()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return nil, &EditError{Reason: EditReasonWindowExpired}
	}
	if newContent == "" {
		return nil, ErrEmptyMessage
	}

	if s.filter.IsExplicit(newContent) {
		newContent = s.filter.Censor(newContent)
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, newContent, now); err != nil {
		return nil, err
	}

	msg.RawContent = newContent
	msg.EditedAt = &now

	if s.legacyEvents {
		s.emitter.EmitRoom(ctx, msg.ChatRoomID, "message_edited", map[string]any{
			"roomId":     msg.ChatRoomID,
			"messageId":  msg.ID,
			"newContent": newContent,
			"editedAt":   now,
		})
	}
	s.EmitUpsert(ctx, msg)

	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return s.itemForCaller(ctx, msg, caller)
}

// DeleteScope selects the two-scope deletion behavior.
type DeleteScope string

const (
	ScopeMe  DeleteScope = "me"
	ScopeAll DeleteScope = "all"
)

// Delete removes a message in one of two scopes. Scope me hides it from
// the caller only; scope all tombstones it for everyone (sender or global
// ADMIN, idempotent on tombstones).
func (s *Service) Delete(ctx context.Context, callerID int64, messageID int64, scope DeleteScope) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	switch scope {
	case ScopeMe:
		if _, err := s.store.GetParticipant(ctx, msg.ChatRoomID, callerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotMember
			}
			return err
		}
		if err := s.store.MarkDeletedForUser(ctx, messageID, callerID); err != nil {
			return err
		}
		// Only the originating client needs to hide it.
		s.emitter.EmitUser(ctx, callerID, "message_deleted", map[string]any{
			"messageId": messageID,
			"roomId":    msg.ChatRoomID,
			"scope":     "me",
			"userId":    callerID,
		})
		return nil

	case ScopeAll:
		if msg.SenderID != callerID && caller.Role != store.UserRoleAdmin {
			return ErrForbidden
		}
		if msg.DeletedForAll {
			// Second attempt succeeds without a new emit.
			return nil
		}
		now := s.now().UTC()
		if err := s.store.TombstoneMessage(ctx, messageID, callerID, now); err != nil {
			return err
		}
		if s.legacyEvents {
			s.emitter.EmitRoom(ctx, msg.ChatRoomID, "message_deleted", map[string]any{
				"messageId": messageID,
				"roomId":    msg.ChatRoomID,
				"scope":     "all",
				"deletedBy": callerID,
			})
		}
		if err := s.EmitUpsertByID(ctx, messageID); err != nil {
			return nil
		}
		s.audit(ctx, callerID, "message.delete_all", messageID, "")
		return nil

	default:
		return ErrForbidden
	}
}

// Forward copies a message's content into another room as a fresh send
// from the caller. The copy goes through the full create pipeline.
func (s *Service) Forward(ctx context.Context, callerID, messageID, toRoomID int64, note string) (*Item, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if msg.DeletedForAll {
		return nil, ErrTombstoned
	}
	if _, err := s.store.GetParticipant(ctx, msg.ChatRoomID, callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}

	content := msg.RawContent
	if note != "" {
		if content != "" {
			content = note + "\n" + content
		} else {
			content = note
		}
	}

	atts, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	inputs := make([]AttachmentInput, 0, len(atts))
	for _, a := range atts {
		inputs = append(inputs, AttachmentInput{
			Kind:        a.Kind,
			URL:         a.URL,
			MimeType:    a.MimeType,
			Width:       a.Width,
			Height:      a.Height,
			DurationSec: a.DurationSec,
			Caption:     a.Caption,
			ThumbURL:    a.ThumbURL,
		})
	}

	item, _, err := s.Create(ctx, CreateInput{
		SenderID:    callerID,
		ChatRoomID:  toRoomID,
		Content:     content,
		Attachments: inputs,
	})
	return item, err
}

// Schedule stores a premium sender's deferred message.
func (s *Service) Schedule(ctx context.Context, callerID, roomID int64, content string, at time.Time) (*store.ScheduledMessage, error) {
	caller, err := s.requireParticipantOrAdmin(ctx, roomID, callerID)
	if err != nil {
		return nil, err
	}
	if caller.Plan != store.PlanPremium {
		return nil, ErrPremiumRequired
	}
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if at.Before(s.now().UTC().Add(minScheduleGap)) {
		return nil, ErrBadSchedule
	}

	sm := &store.ScheduledMessage{
		ChatRoomID:  roomID,
		SenderID:    callerID,
		Content:     content,
		ScheduledAt: at.UTC(),
	}
	if err := s.store.CreateScheduledMessage(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// DeliverDue sends every due scheduled message through the create pipeline
// and removes the rows that were delivered. Called by the retention worker.
func (s *Service) DeliverDue(ctx context.Context, limit int) (int, error) {
	due, err := s.store.DueScheduledMessages(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, sm := range due {
		if _, _, err := s.Create(ctx, CreateInput{
			SenderID:   sm.SenderID,
			ChatRoomID: sm.ChatRoomID,
			Content:    sm.Content,
		}); err != nil {
			// Undeliverable rows (sender left the room) are dropped too,
			// otherwise they jam the queue forever.
			if !errors.Is(err, ErrNotMember) && !errors.Is(err, ErrUnauthorized) {
				return delivered, err
			}
		}
		if err := s.store.DeleteScheduledMessage(ctx, sm.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
