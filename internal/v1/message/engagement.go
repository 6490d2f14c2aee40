package message

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/backend/go/internal/v1/store"
)

// ReactionOp is the direction of a reaction toggle.
type ReactionOp string

const (
	ReactionAdded   ReactionOp = "added"
	ReactionRemoved ReactionOp = "removed"
	ReactionNoop    ReactionOp = "noop"
)

// ReactionResult carries the outcome of a toggle, including the new
// aggregate count for the emoji.
type ReactionResult struct {
	MessageID int64      `json:"messageId"`
	Emoji     string     `json:"emoji"`
	Op        ReactionOp `json:"op"`
	Count     int        `json:"count"`
}

// ToggleReaction flips (messageID, callerID, emoji): present means remove,
// absent means add. Tombstones refuse with op=noop and no emit.
func (s *Service) ToggleReaction(ctx context.Context, callerID, messageID int64, emoji string) (*ReactionResult, error) {
	msg, caller, err := s.loadForEngagement(ctx, callerID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.DeletedForAll {
		return &ReactionResult{MessageID: messageID, Emoji: emoji, Op: ReactionNoop}, nil
	}

	removed, err := s.store.RemoveReaction(ctx, messageID, callerID, emoji)
	if err != nil {
		return nil, err
	}
	op := ReactionRemoved
	if !removed {
		if _, err := s.store.AddReaction(ctx, messageID, callerID, emoji); err != nil {
			return nil, err
		}
		op = ReactionAdded
	}

	count, err := s.store.CountReactions(ctx, messageID, emoji)
	if err != nil {
		return nil, err
	}

	res := &ReactionResult{MessageID: messageID, Emoji: emoji, Op: op, Count: count}
	s.emitter.EmitRoom(ctx, msg.ChatRoomID, "reaction_updated", map[string]any{
		"messageId": messageID,
		"emoji":     emoji,
		"op":        op,
		"user":      caller.Summary(),
		"count":     count,
	})
	return res, nil
}

// RemoveReaction deletes a specific reaction, emitting op=removed only
// when a row actually went away.
func (s *Service) RemoveReaction(ctx context.Context, callerID, messageID int64, emoji string) (*ReactionResult, error) {
	msg, caller, err := s.loadForEngagement(ctx, callerID, messageID)
	if err != nil {
		return nil, err
	}

	removed, err := s.store.RemoveReaction(ctx, messageID, callerID, emoji)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountReactions(ctx, messageID, emoji)
	if err != nil {
		return nil, err
	}

	res := &ReactionResult{MessageID: messageID, Emoji: emoji, Op: ReactionNoop, Count: count}
	if removed {
		res.Op = ReactionRemoved
		s.emitter.EmitRoom(ctx, msg.ChatRoomID, "reaction_updated", map[string]any{
			"messageId": messageID,
			"emoji":     emoji,
			"op":        ReactionRemoved,
			"user":      caller.Summary(),
			"count":     count,
		})
	}
	return res, nil
}

// MarkRead upserts the caller's read receipt and emits message_read to the
// room. Re-reads keep the original readAt and do not re-emit.
func (s *Service) MarkRead(ctx context.Context, callerID, messageID int64) error {
	msg, caller, err := s.loadForEngagement(ctx, callerID, messageID)
	if err != nil {
		return err
	}

	readAt := s.now().UTC()
	inserted, err := s.store.UpsertRead(ctx, messageID, callerID, readAt)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	s.emitter.EmitRoom(ctx, msg.ChatRoomID, "message_read", map[string]any{
		"messageId":  messageID,
		"chatRoomId": msg.ChatRoomID,
		"reader":     caller.Summary(),
		"readAt":     readAt,
	})
	return nil
}

// MarkReadBulk upserts read receipts for many messages, silently skipping
// ids already read and ids in rooms the caller is not a member of, and
// emits one grouped message_read per room covering the fresh receipts.
func (s *Service) MarkReadBulk(ctx context.Context, callerID int64, messageIDs []int64) (int, error) {
	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnauthorized
		}
		return 0, err
	}

	readAt := s.now().UTC()
	byRoom := make(map[int64][]int64)
	membership := make(map[int64]bool)
	marked := 0

	for _, id := range messageIDs {
		msg, err := s.store.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return marked, err
		}
		member, checked := membership[msg.ChatRoomID]
		if !checked {
			_, err := s.store.GetParticipant(ctx, msg.ChatRoomID, callerID)
			member = err == nil
			membership[msg.ChatRoomID] = member
		}
		if !member {
			continue
		}
		inserted, err := s.store.UpsertRead(ctx, id, callerID, readAt)
		if err != nil {
			return marked, err
		}
		if !inserted {
			continue
		}
		byRoom[msg.ChatRoomID] = append(byRoom[msg.ChatRoomID], id)
		marked++
	}

	for roomID, ids := range byRoom {
		s.emitter.EmitRoom(ctx, roomID, "message_read", map[string]any{
			"messageIds": ids,
			"chatRoomId": roomID,
			"reader":     caller.Summary(),
			"readAt":     readAt,
		})
	}
	return marked, nil
}

// RelayCopied forwards a copy notice to the original sender's inbox only.
func (s *Service) RelayCopied(ctx context.Context, callerID, messageID int64) error {
	msg, caller, err := s.loadForEngagement(ctx, callerID, messageID)
	if err != nil {
		return err
	}
	s.emitter.EmitUser(ctx, msg.SenderID, "message_copied", map[string]any{
		"messageId": messageID,
		"roomId":    msg.ChatRoomID,
		"copiedBy":  caller.Summary(),
		"copiedAt":  s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

// loadForEngagement fetches the message and verifies the caller belongs to
// its room.
func (s *Service) loadForEngagement(ctx context.Context, callerID, messageID int64) (*store.Message, *store.User, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	caller, err := s.requireParticipantOrAdmin(ctx, msg.ChatRoomID, callerID)
	if err != nil {
		return nil, nil, err
	}
	return msg, caller, nil
}
