package message

import (
	"context"
	"time"

	"github.com/veilchat/backend/go/internal/v1/store"
)

// Item is the wire shape of a message row: the payload of message:upsert
// and of list responses. Per-caller fields (EncryptedKeyForMe,
// TranslatedForMe, MyReactions) are filled only when composed for a caller.
type Item struct {
	ID                int64              `json:"id"`
	ChatRoomID        int64              `json:"chatRoomId"`
	SenderID          int64              `json:"senderId"`
	Sender            *store.UserSummary `json:"sender,omitempty"`
	ClientMessageID   *string            `json:"clientMessageId,omitempty"`
	RawContent        *string            `json:"rawContent"`
	ContentCiphertext *string            `json:"contentCiphertext,omitempty"`
	EncryptedKeyForMe *string            `json:"encryptedKeyForMe,omitempty"`
	TranslatedForMe   *string            `json:"translatedForMe,omitempty"`
	IsExplicit        bool               `json:"isExplicit"`
	IsAutoReply       bool               `json:"isAutoReply"`
	CreatedAt         time.Time          `json:"createdAt"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty"`
	EditedAt          *time.Time         `json:"editedAt,omitempty"`
	DeletedForAll     bool               `json:"deletedForAll"`
	DeletedAt         *time.Time         `json:"deletedAt,omitempty"`
	DeletedByID       *int64             `json:"deletedById,omitempty"`
	Attachments       []AttachmentItem   `json:"attachments"`
	ReactionSummary   map[string]int     `json:"reactionSummary"`
	MyReactions       []string           `json:"myReactions"`
	ReadBy            []ReadByEntry      `json:"readBy"`
}

// AttachmentItem is the wire shape of one attachment. URLs for internal
// storage keys are signed; absolute URLs pass through.
type AttachmentItem struct {
	ID          int64                `json:"id"`
	Kind        store.AttachmentKind `json:"kind"`
	URL         string               `json:"url"`
	MimeType    string               `json:"mimeType,omitempty"`
	Width       *int                 `json:"width,omitempty"`
	Height      *int                 `json:"height,omitempty"`
	DurationSec *float64             `json:"durationSec,omitempty"`
	Caption     string               `json:"caption,omitempty"`
	ThumbURL    string               `json:"thumbUrl,omitempty"`
}

// ReadByEntry is one member of a message's read set.
type ReadByEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	ReadAt    time.Time `json:"readAt"`
}

// URLSigner mints short-lived signed URLs for internal storage keys.
// Absolute URLs must be returned unchanged.
type URLSigner interface {
	SignedURL(storageKey string, ownerID int64) string
}

// composeOpts selects the caller-specific view. Zero CallerID means a
// neutral composition for room broadcast.
type composeOpts struct {
	CallerID    int64
	CallerLang  string
	CallerAdmin bool
}

// composeItems shapes a batch of rows into wire items. Tombstones come out
// with no content and an empty attachment list; per-caller fields are
// filled from the caller's key, language and reaction rows.
func (s *Service) composeItems(ctx context.Context, msgs []*store.Message, opts composeOpts) ([]*Item, error) {
	if len(msgs) == 0 {
		return []*Item{}, nil
	}

	ids := make([]int64, 0, len(msgs))
	senderSet := make(map[int64]struct{})
	for _, m := range msgs {
		ids = append(ids, m.ID)
		senderSet[m.SenderID] = struct{}{}
	}
	senderIDs := make([]int64, 0, len(senderSet))
	for id := range senderSet {
		senderIDs = append(senderIDs, id)
	}

	senders, err := s.store.UsersByIDs(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	attachments, err := s.store.AttachmentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.ReactionSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	readers, err := s.store.ReadersFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	var myReactions map[int64][]string
	var myKeys map[int64]string
	if opts.CallerID != 0 {
		if myReactions, err = s.store.UserReactions(ctx, opts.CallerID, ids); err != nil {
			return nil, err
		}
		if myKeys, err = s.store.KeysForUser(ctx, opts.CallerID, ids); err != nil {
			return nil, err
		}
	}

	items := make([]*Item, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, s.composeItem(ctx, m, opts, senders,
			attachments[m.ID], reactions[m.ID], readers[m.ID],
			myReactions[m.ID], myKeys))
	}
	return items, nil
}

func (s *Service) composeItem(ctx context.Context, m *store.Message, opts composeOpts,
	senders map[int64]store.UserSummary, atts []*store.Attachment,
	reactions []store.ReactionCount, readers []store.Reader,
	myReactions []string, myKeys map[int64]string) *Item {

	item := &Item{
		ID:              m.ID,
		ChatRoomID:      m.ChatRoomID,
		SenderID:        m.SenderID,
		ClientMessageID: m.ClientMessageID,
		IsExplicit:      m.IsExplicit,
		IsAutoReply:     m.IsAutoReply,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		EditedAt:        m.EditedAt,
		DeletedForAll:   m.DeletedForAll,
		DeletedAt:       m.DeletedAt,
		DeletedByID:     m.DeletedByID,
		Attachments:     []AttachmentItem{},
		ReactionSummary: map[string]int{},
		MyReactions:     []string{},
		ReadBy:          []ReadByEntry{},
	}

	if sender, ok := senders[m.SenderID]; ok {
		item.Sender = &sender
	}
	for _, rc := range reactions {
		item.ReactionSummary[rc.Emoji] = rc.Count
	}
	if myReactions != nil {
		item.MyReactions = myReactions
	}
	for _, r := range readers {
		item.ReadBy = append(item.ReadBy, ReadByEntry{
			ID: r.UserID, Username: r.Username, AvatarURL: r.AvatarURL, ReadAt: r.ReadAt,
		})
	}

	// Tombstone shape: identity and receipts survive, content does not.
	if m.DeletedForAll {
		return item
	}

	item.ContentCiphertext = m.ContentCiphertext

	// Plaintext is withheld from non-senders when ciphertext exists.
	if m.RawContent != "" {
		hideRaw := m.ContentCiphertext != nil &&
			opts.CallerID != 0 && opts.CallerID != m.SenderID && !opts.CallerAdmin
		if !hideRaw {
			content := m.RawContent
			item.RawContent = &content
		}
	}

	if key, ok := myKeys[m.ID]; ok {
		item.EncryptedKeyForMe = &key
	}

	item.TranslatedForMe = s.translatedFor(ctx, m, opts.CallerLang)

	for _, a := range atts {
		item.Attachments = append(item.Attachments, AttachmentItem{
			ID:          a.ID,
			Kind:        a.Kind,
			URL:         s.signer.SignedURL(a.URL, m.SenderID),
			MimeType:    a.MimeType,
			Width:       a.Width,
			Height:      a.Height,
			DurationSec: a.DurationSec,
			Caption:     a.Caption,
			ThumbURL:    s.signer.SignedURL(a.ThumbURL, m.SenderID),
		})
	}
	return item
}

// translatedFor picks the caller's translation: pre-cached first, then a
// live cache-backed attempt for plaintext. Failures mean no translation.
func (s *Service) translatedFor(ctx context.Context, m *store.Message, lang string) *string {
	if lang == "" {
		return nil
	}
	if t, ok := m.Translations[lang]; ok {
		return &t
	}
	if m.TranslatedFrom != nil && *m.TranslatedFrom == lang {
		return nil
	}
	if m.RawContent == "" || !s.translator.Enabled() {
		return nil
	}
	translated, err := s.translator.Translate(ctx, m.RawContent, "", lang)
	if err != nil || translated == "" {
		return nil
	}
	return &translated
}
