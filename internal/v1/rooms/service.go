// Package rooms implements the room/participant state machine: creation,
// membership, role transitions, invites, leave and kick.
package rooms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/backend/go/internal/v1/store"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrNotMember      = errors.New("not a participant")
	ErrAlreadyJoined  = errors.New("already a participant")
	ErrOwnerImmutable = errors.New("owner role cannot change")
	ErrInviteExpired  = errors.New("invite expired")
	ErrBadRole        = errors.New("invalid role")
)

const defaultInviteTTL = 7 * 24 * time.Hour

// Service is the room/participant state machine.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService wires the room service to the store.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// ParticipantView is one member in a listing, joined with a user summary.
type ParticipantView struct {
	UserID    int64                 `json:"userId"`
	Username  string                `json:"username"`
	AvatarURL string                `json:"avatarUrl,omitempty"`
	Role      store.ParticipantRole `json:"role"`
	JoinedAt  time.Time             `json:"joinedAt"`
}

// Create makes a room with the caller as OWNER.
func (s *Service) Create(ctx context.Context, callerID int64, name string, isGroup bool) (*store.ChatRoom, error) {
	if _, err := s.store.GetUser(ctx, callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	room := &store.ChatRoom{Name: strings.TrimSpace(name), IsGroup: isGroup}
	if err := s.store.CreateRoom(ctx, room, callerID); err != nil {
		return nil, err
	}
	return room, nil
}

// ListParticipants returns the room's members. Caller must belong to the
// room or be a global ADMIN.
func (s *Service) ListParticipants(ctx context.Context, callerID, roomID int64) ([]ParticipantView, error) {
	if _, err := s.requireAccess(ctx, callerID, roomID); err != nil {
		return nil, err
	}
	infos, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]ParticipantView, 0, len(infos))
	for _, pi := range infos {
		out = append(out, ParticipantView{
			UserID:    pi.UserID,
			Username:  pi.Username,
			AvatarURL: pi.AvatarURL,
			Role:      pi.Role,
			JoinedAt:  pi.JoinedAt,
		})
	}
	return out, nil
}

// AddParticipant adds a user as MEMBER. Room owner or global ADMIN only.
func (s *Service) AddParticipant(ctx context.Context, callerID, roomID, userID int64) error {
	if err := s.requireOwnerOrAdmin(ctx, callerID, roomID); err != nil {
		return err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	err := s.store.AddParticipant(ctx, &store.Participant{
		ChatRoomID: roomID,
		UserID:     userID,
		Role:       store.RoleMember,
	})
	if errors.Is(err, store.ErrConflict) {
		return ErrAlreadyJoined
	}
	return err
}

// ChangeRole applies the transition rules: only the owner grants ADMIN,
// OWNER|ADMIN grant MODERATOR|MEMBER, the owner's own role never changes.
func (s *Service) ChangeRole(ctx context.Context, callerID, roomID, userID int64, newRole store.ParticipantRole) error {
	switch newRole {
	case store.RoleAdmin, store.RoleModerator, store.RoleMember:
	case store.RoleOwner:
		// OWNER is assigned at creation only; no transfer here.
		return ErrOwnerImmutable
	default:
		return ErrBadRole
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	target, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if target.Role == store.RoleOwner {
		return ErrOwnerImmutable
	}

	isOwner := room.OwnerID != nil && *room.OwnerID == callerID
	if newRole == store.RoleAdmin {
		if !isOwner {
			return ErrForbidden
		}
	} else {
		if !isOwner {
			caller, err := s.store.GetParticipant(ctx, roomID, callerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrForbidden
				}
				return err
			}
			if caller.Role.Rank() < store.RoleAdmin.Rank() {
				return ErrForbidden
			}
		}
	}

	return s.store.UpdateParticipantRole(ctx, roomID, userID, newRole)
}

// Promote is the owner-only shortcut for role → ADMIN.
func (s *Service) Promote(ctx context.Context, callerID, roomID, userID int64) error {
	return s.ChangeRole(ctx, callerID, roomID, userID, store.RoleAdmin)
}

// Kick removes a participant. Room owner or global ADMIN; never the owner.
func (s *Service) Kick(ctx context.Context, callerID, roomID, userID int64) error {
	if err := s.requireOwnerOrAdmin(ctx, callerID, roomID); err != nil {
		return err
	}
	target, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if target.Role == store.RoleOwner {
		return ErrForbidden
	}
	return s.store.RemoveParticipant(ctx, roomID, userID)
}

// Leave is self-removal. The owner cannot leave: that would strand the
// room with zero OWNER rows.
func (s *Service) Leave(ctx context.Context, callerID, roomID int64) error {
	participant, err := s.store.GetParticipant(ctx, roomID, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotMember
		}
		return err
	}
	if participant.Role == store.RoleOwner {
		return ErrForbidden
	}
	return s.store.RemoveParticipant(ctx, roomID, callerID)
}

// CreateInvite mints an opaque code for the room. Owner or global ADMIN.
func (s *Service) CreateInvite(ctx context.Context, callerID, roomID int64) (*store.Invite, error) {
	if err := s.requireOwnerOrAdmin(ctx, callerID, roomID); err != nil {
		return nil, err
	}
	expires := s.now().UTC().Add(defaultInviteTTL)
	inv := &store.Invite{
		Code:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		ChatRoomID: roomID,
		CreatedBy:  callerID,
		ExpiresAt:  &expires,
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Join redeems an invite code, adding the caller as MEMBER.
func (s *Service) Join(ctx context.Context, callerID int64, code string) (*store.ChatRoom, error) {
	inv, err := s.store.GetInvite(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if inv.ExpiresAt != nil && inv.ExpiresAt.Before(s.now().UTC()) {
		return nil, ErrInviteExpired
	}

	err = s.store.AddParticipant(ctx, &store.Participant{
		ChatRoomID: inv.ChatRoomID,
		UserID:     callerID,
		Role:       store.RoleMember,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyJoined
		}
		return nil, err
	}
	return s.store.GetRoom(ctx, inv.ChatRoomID)
}

// IsMember reports whether the user belongs to the room. The socket
// gateway uses it to verify join:rooms subscriptions.
func (s *Service) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	_, err := s.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) requireAccess(ctx context.Context, callerID, roomID int64) (*store.User, error) {
	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if caller.Role == store.UserRoleAdmin {
		return caller, nil
	}
	if _, err := s.store.GetParticipant(ctx, roomID, callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return caller, nil
}

// requireOwnerOrAdmin: room owner or global ADMIN.
func (s *Service) requireOwnerOrAdmin(ctx context.Context, callerID, roomID int64) error {
	caller, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if caller.Role == store.UserRoleAdmin {
		return nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if room.OwnerID == nil || *room.OwnerID != callerID {
		return ErrForbidden
	}
	return nil
}
