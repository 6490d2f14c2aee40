// Package store defines the persistence interface and data types for the
// messaging backbone. The production implementation is SQLite; tests run
// against a temporary database file.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint is violated
var ErrConflict = errors.New("conflict")

// UserRole is the global role of a user account.
type UserRole string

const (
	UserRoleUser  UserRole = "USER"
	UserRoleAdmin UserRole = "ADMIN"
)

// Plan is the billing plan of a user account.
type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanPremium Plan = "PREMIUM"
)

// ParticipantRole is the per-room role of a participant.
type ParticipantRole string

const (
	RoleOwner     ParticipantRole = "OWNER"
	RoleAdmin     ParticipantRole = "ADMIN"
	RoleModerator ParticipantRole = "MODERATOR"
	RoleMember    ParticipantRole = "MEMBER"
)

// Rank orders participant roles for permission checks. Higher outranks lower.
func (r ParticipantRole) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	case RoleMember:
		return 0
	}
	return -1
}

// AttachmentKind classifies an attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "IMAGE"
	AttachmentVideo AttachmentKind = "VIDEO"
	AttachmentAudio AttachmentKind = "AUDIO"
	AttachmentFile  AttachmentKind = "FILE"
)

// AutoTranslateMode controls room-level translation behavior.
type AutoTranslateMode string

const (
	TranslateOff    AutoTranslateMode = "off"
	TranslateAlways AutoTranslateMode = "always"
	TranslateTagged AutoTranslateMode = "tagged"
)

// User is a registered account. Never hard-deleted by the core.
type User struct {
	ID                   int64
	Username             string
	Email                string
	PasswordHash         string
	Role                 UserRole
	Plan                 Plan
	PublicKey            []byte
	PreferredLanguage    string
	AllowExplicitContent bool
	StrictE2EE           bool
	ShowReadReceipts     bool
	AutoDeleteSeconds    int
	TwoFactorEnabled     bool
	TOTPSecretEnc        string
	AvatarURL            string
	CreatedAt            time.Time
}

// UserSummary is the public shape of a user embedded in message payloads.
type UserSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Summary returns the public shape of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

// ChatRoom is a chat container.
type ChatRoom struct {
	ID                int64
	Name              string
	IsGroup           bool
	OwnerID           *int64
	AutoTranslateMode AutoTranslateMode
	CreatedAt         time.Time
}

// Participant is a room membership row. Composite key (ChatRoomID, UserID).
type Participant struct {
	ChatRoomID int64
	UserID     int64
	Role       ParticipantRole
	ArchivedAt *time.Time
	JoinedAt   time.Time
}

// ParticipantInfo joins a participant row with its user summary for reads.
type ParticipantInfo struct {
	Participant
	Username          string
	AvatarURL         string
	PreferredLanguage string
	AllowExplicit     bool
	PublicKey         []byte
}

// Message is one row of the canonical per-room log.
type Message struct {
	ID                int64
	ChatRoomID        int64
	SenderID          int64
	ClientMessageID   *string
	RawContent        string
	ContentCiphertext *string
	Translations      map[string]string
	TranslatedFrom    *string
	IsExplicit        bool
	IsAutoReply       bool
	CreatedAt         time.Time
	ExpiresAt         *time.Time
	EditedAt          *time.Time
	DeletedForAll     bool
	DeletedAt         *time.Time
	DeletedByID       *int64
}

// Attachment belongs to a message. On tombstone the read layer returns none.
type Attachment struct {
	ID          int64
	MessageID   int64
	Kind        AttachmentKind
	URL         string
	MimeType    string
	Width       *int
	Height      *int
	DurationSec *float64
	Caption     string
	ThumbURL    string
	CreatedAt   time.Time
}

// Reader is one entry of a message's read set.
type Reader struct {
	UserID    int64
	Username  string
	AvatarURL string
	ReadAt    time.Time
}

// ReactionCount is one (emoji, count) aggregate for a message.
type ReactionCount struct {
	Emoji string
	Count int
}

// ScheduledMessage is a premium-only deferred send.
type ScheduledMessage struct {
	ID          int64
	ChatRoomID  int64
	SenderID    int64
	Content     string
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// Invite maps an opaque code to a room.
type Invite struct {
	Code       string
	ChatRoomID int64
	CreatedBy  int64
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// Upload is a stored blob registered for dedup and retrieval ACL.
// Media metadata is optional: client-reported on the presigned path,
// probed at intake where the blob is local.
type Upload struct {
	ID           int64
	OwnerID      int64
	Key          string
	SHA256       string
	OriginalName string
	MimeType     string
	Size         int64
	Width        *int
	Height       *int
	DurationSec  *float64
	Driver       string
	CreatedAt    time.Time
}

// PasswordReset is a single-use reset token.
type PasswordReset struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// AuditEntry records a privileged or destructive action.
type AuditEntry struct {
	ID        int64
	ActorID   int64
	Action    string
	TargetID  int64
	Detail    string
	CreatedAt time.Time
}

// Store is the persistence boundary of the messaging core.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]UserSummary, error)
	UpdateUser(ctx context.Context, u *User) error
	CreatePasswordReset(ctx context.Context, r *PasswordReset) error
	ConsumePasswordReset(ctx context.Context, token string, now time.Time) (*PasswordReset, error)

	// Rooms & membership
	CreateRoom(ctx context.Context, room *ChatRoom, ownerID int64) error
	GetRoom(ctx context.Context, id int64) (*ChatRoom, error)
	AddParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, roomID, userID int64) (*Participant, error)
	ListParticipants(ctx context.Context, roomID int64) ([]*ParticipantInfo, error)
	UpdateParticipantRole(ctx context.Context, roomID, userID int64, role ParticipantRole) error
	RemoveParticipant(ctx context.Context, roomID, userID int64) error
	CreateInvite(ctx context.Context, inv *Invite) error
	GetInvite(ctx context.Context, code string) (*Invite, error)

	// Per-user clear cutoff
	UpsertThreadClear(ctx context.Context, userID, roomID int64, clearedAt time.Time) error
	GetThreadClear(ctx context.Context, userID, roomID int64) (*time.Time, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message, keys map[int64]string, attachments []*Attachment) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	GetMessageByClientID(ctx context.Context, roomID, senderID int64, clientMessageID string) (*Message, error)
	ListMessages(ctx context.Context, roomID int64, limit int, beforeID int64, visibleAfter *time.Time, now time.Time) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) error
	TombstoneMessage(ctx context.Context, id, deletedBy int64, at time.Time) error
	TombstoneRoom(ctx context.Context, roomID int64, deletedBy int64, at time.Time) ([]int64, error)
	ExpireCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error)
	TombstoneBatch(ctx context.Context, ids []int64, at time.Time) error
	ListTombstonedAt(ctx context.Context, at time.Time) ([]*Message, error)
	PruneMessagesBefore(ctx context.Context, plan Plan, cutoff time.Time) (int64, error)
	ListAttachments(ctx context.Context, messageID int64) ([]*Attachment, error)
	AttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]*Attachment, error)

	// Per-recipient wrapped keys
	GetMessageKey(ctx context.Context, messageID, userID int64) (string, error)
	KeysForUser(ctx context.Context, userID int64, messageIDs []int64) (map[int64]string, error)

	// Reactions
	AddReaction(ctx context.Context, messageID, userID int64, emoji string) (added bool, err error)
	RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (removed bool, err error)
	CountReactions(ctx context.Context, messageID int64, emoji string) (int, error)
	ReactionSummaries(ctx context.Context, messageIDs []int64) (map[int64][]ReactionCount, error)
	UserReactions(ctx context.Context, userID int64, messageIDs []int64) (map[int64][]string, error)

	// Read receipts
	UpsertRead(ctx context.Context, messageID, userID int64, readAt time.Time) (bool, error)
	ReadersFor(ctx context.Context, messageIDs []int64) (map[int64][]Reader, error)
	HasReaderBesides(ctx context.Context, messageID, senderID int64) (bool, error)

	// Per-user deletions
	MarkDeletedForUser(ctx context.Context, messageID, userID int64) error
	DeletedForUser(ctx context.Context, userID int64, messageIDs []int64) (map[int64]bool, error)

	// Scheduled messages
	CreateScheduledMessage(ctx context.Context, sm *ScheduledMessage) error
	DueScheduledMessages(ctx context.Context, now time.Time, limit int) ([]*ScheduledMessage, error)
	DeleteScheduledMessage(ctx context.Context, id int64) error

	// Uploads
	CreateUpload(ctx context.Context, u *Upload) error
	GetUpload(ctx context.Context, id int64) (*Upload, error)
	GetUploadByKey(ctx context.Context, key string) (*Upload, error)
	FindUploadBySHA(ctx context.Context, ownerID int64, sha256 string) (*Upload, error)

	// Audit log
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
