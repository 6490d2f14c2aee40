// Package message implements the central pipeline: create with idempotency,
// profanity policy, translation fan-out, TTL clamping and the strict-E2EE
// gate; visibility-composed reads; edits, two-scope deletion, reactions,
// read receipts, clears, scheduling and forwarding. Every mutation that
// changes a row's authoritative state ends in a message:upsert emit.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/metrics"
	"github.com/veilchat/backend/go/internal/v1/profanity"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/translate"
)

const (
	minTTL         = 5 * time.Second
	freeMaxTTL     = 24 * time.Hour
	premiumMaxTTL  = 7 * 24 * time.Hour
	translateTag   = "#translate"
	maxListLimit   = 100
	minScheduleGap = 5 * time.Second
)

// Emitter delivers realtime events. The websocket hub implements it; the
// service never blocks on delivery.
type Emitter interface {
	EmitRoom(ctx context.Context, roomID int64, event string, payload any)
	EmitUser(ctx context.Context, userID int64, event string, payload any)
}

// TranslationBudget meters translation fan-out per room and per target
// language. A nil budget means unmetered.
type TranslationBudget interface {
	AllowRoom(ctx context.Context, roomID int64) bool
	AllowLang(ctx context.Context, roomID int64, lang string) bool
}

// UpsertPayload is the canonical room event body.
type UpsertPayload struct {
	RoomID int64 `json:"roomId"`
	Item   *Item `json:"item"`
}

// Service is the message pipeline.
type Service struct {
	store      store.Store
	filter     *profanity.Filter
	translator *translate.Service
	emitter    Emitter
	signer     URLSigner

	editWindow   time.Duration
	legacyEvents bool
	budget       TranslationBudget
	now          func() time.Time
}

// NewService wires the pipeline.
func NewService(st store.Store, filter *profanity.Filter, translator *translate.Service,
	emitter Emitter, signer URLSigner, editWindow time.Duration, legacyEvents bool) *Service {
	return &Service{
		store:        st,
		filter:       filter,
		translator:   translator,
		emitter:      emitter,
		signer:       signer,
		editWindow:   editWindow,
		legacyEvents: legacyEvents,
		now:          time.Now,
	}
}

// SetTranslationBudget installs the fan-out meter.
func (s *Service) SetTranslationBudget(b TranslationBudget) { s.budget = b }

// SetEmitter replaces the event sink. The socket hub consumes this
// service as its message gateway, so wiring runs in two steps.
func (s *Service) SetEmitter(e Emitter) { s.emitter = e }

// AttachmentInput is one attachment on create.
type AttachmentInput struct {
	Kind        store.AttachmentKind `json:"kind"`
	URL         string               `json:"url"`
	MimeType    string               `json:"mimeType"`
	Width       *int                 `json:"width,omitempty"`
	Height      *int                 `json:"height,omitempty"`
	DurationSec *float64             `json:"durationSec,omitempty"`
	Caption     string               `json:"caption,omitempty"`
	ThumbURL    string               `json:"thumbUrl,omitempty"`
}

// CreateInput carries everything a create accepts.
type CreateInput struct {
	SenderID          int64
	ChatRoomID        int64
	Content           string
	ContentCiphertext string
	EncryptedKeys     map[int64]string
	ClientMessageID   string
	ExpireSeconds     *int
	Attachments       []AttachmentInput
	IsAutoReply       bool
}

// Create runs the pipeline of §4.1. Returns the composed item and whether a
// new row was written; an idempotent replay returns the original item with
// created=false and no re-emit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Item, bool, error) {
	sender, err := s.store.GetUser(ctx, in.SenderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrUnauthorized
		}
		return nil, false, err
	}

	if _, err := s.store.GetParticipant(ctx, in.ChatRoomID, in.SenderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrNotMember
		}
		return nil, false, err
	}

	// Idempotency: same (room, sender, clientMessageId) returns the
	// original row, shaped like a fresh create.
	if in.ClientMessageID != "" {
		existing, err := s.store.GetMessageByClientID(ctx, in.ChatRoomID, in.SenderID, in.ClientMessageID)
		if err == nil {
			item, err := s.itemForCaller(ctx, existing, sender)
			if err != nil {
				return nil, false, err
			}
			metrics.MessagesCreated.WithLabelValues("duplicate").Inc()
			return item, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	if in.Content == "" && in.ContentCiphertext == "" && len(in.Attachments) == 0 {
		return nil, false, ErrEmptyMessage
	}

	room, err := s.store.GetRoom(ctx, in.ChatRoomID)
	if err != nil {
		return nil, false, err
	}
	participants, err := s.store.ListParticipants(ctx, in.ChatRoomID)
	if err != nil {
		return nil, false, err
	}

	content := in.Content
	isExplicit := false
	if content != "" {
		isExplicit = s.filter.IsExplicit(content)
		if isExplicit && mustClean(sender, participants) {
			// The original plaintext is not retained.
			content = s.filter.Censor(content)
		}
	}

	translations := s.translateFanOut(ctx, room, sender, participants, content)

	expiresAt := s.clampTTL(sender, in.ExpireSeconds)

	ciphertext := normalizeCiphertext(in.ContentCiphertext)

	// Strict-E2EE gate: a body from a strict sender must arrive sealed.
	if sender.StrictE2EE {
		if ciphertext == nil || len(in.EncryptedKeys) == 0 {
			return nil, false, ErrE2EERequired
		}
	}

	now := s.now().UTC()
	msg := &store.Message{
		ChatRoomID:        in.ChatRoomID,
		SenderID:          in.SenderID,
		RawContent:        content,
		ContentCiphertext: ciphertext,
		Translations:      translations,
		IsExplicit:        isExplicit,
		IsAutoReply:       in.IsAutoReply,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}
	if in.ClientMessageID != "" {
		msg.ClientMessageID = &in.ClientMessageID
	}
	if len(translations) > 0 {
		lang := sender.PreferredLanguage
		msg.TranslatedFrom = &lang
	}

	attachments := make([]*store.Attachment, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		att := &store.Attachment{
			Kind:        a.Kind,
			URL:         a.URL,
			MimeType:    a.MimeType,
			Width:       a.Width,
			Height:      a.Height,
			DurationSec: a.DurationSec,
			Caption:     a.Caption,
			ThumbURL:    a.ThumbURL,
			CreatedAt:   now,
		}
		// Missing media metadata is filled from the upload registry when
		// the URL is one of our storage keys.
		if att.Width == nil && att.Height == nil && att.DurationSec == nil {
			if up, err := s.store.GetUploadByKey(ctx, a.URL); err == nil {
				att.Width, att.Height, att.DurationSec = up.Width, up.Height, up.DurationSec
			}
		}
		attachments = append(attachments, att)
	}

	if err := s.store.CreateMessage(ctx, msg, in.EncryptedKeys, attachments); err != nil {
		if errors.Is(err, store.ErrConflict) && in.ClientMessageID != "" {
			// Concurrent duplicate lost the race on the unique index.
			existing, lookupErr := s.store.GetMessageByClientID(ctx, in.ChatRoomID, in.SenderID, in.ClientMessageID)
			if lookupErr == nil {
				item, composeErr := s.itemForCaller(ctx, existing, sender)
				if composeErr != nil {
					return nil, false, composeErr
				}
				metrics.MessagesCreated.WithLabelValues("duplicate").Inc()
				return item, false, nil
			}
		}
		metrics.MessagesCreated.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("persisting message: %w", err)
	}
	metrics.MessagesCreated.WithLabelValues("created").Inc()
	metrics.MessagePipelineDuration.Observe(time.Since(now).Seconds())

	s.EmitUpsert(ctx, msg)

	s.audit(ctx, in.SenderID, "message.create", msg.ID, "")

	item, err := s.itemForCaller(ctx, msg, sender)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// mustClean: plaintext gets censored when the sender or any recipient
// disallows explicit content.
func mustClean(sender *store.User, participants []*store.ParticipantInfo) bool {
	if !sender.AllowExplicitContent {
		return true
	}
	for _, p := range participants {
		if !p.AllowExplicit {
			return true
		}
	}
	return false
}

// translateFanOut resolves the room's translation policy and returns a
// lang→text mapping. Targets that fail are dropped.
func (s *Service) translateFanOut(ctx context.Context, room *store.ChatRoom,
	sender *store.User, participants []*store.ParticipantInfo, content string) map[string]string {

	if content == "" || !s.translator.Enabled() {
		return nil
	}
	switch room.AutoTranslateMode {
	case store.TranslateOff:
		return nil
	case store.TranslateTagged:
		if !strings.Contains(content, translateTag) {
			return nil
		}
	}

	if s.budget != nil && !s.budget.AllowRoom(ctx, room.ID) {
		logging.Warn(ctx, "Translation room budget exhausted", zap.Int64("room_id", room.ID))
		return nil
	}

	targetSet := make(map[string]struct{})
	for _, p := range participants {
		if p.PreferredLanguage != "" && p.PreferredLanguage != sender.PreferredLanguage {
			targetSet[p.PreferredLanguage] = struct{}{}
		}
	}
	if len(targetSet) == 0 {
		return nil
	}
	targets := make([]string, 0, len(targetSet))
	for lang := range targetSet {
		if s.budget != nil && !s.budget.AllowLang(ctx, room.ID, lang) {
			continue
		}
		targets = append(targets, lang)
	}
	if len(targets) == 0 {
		return nil
	}

	out := s.translator.FanOut(ctx, content, sender.PreferredLanguage, targets)
	if len(out) == 0 {
		return nil
	}
	return out
}

// clampTTL applies §4.1 step 7: requested seconds fall back to the
// sender's auto-delete default, then clamp into [5s, plan max].
func (s *Service) clampTTL(sender *store.User, expireSeconds *int) *time.Time {
	requested := 0
	if expireSeconds != nil {
		requested = *expireSeconds
	} else if sender.AutoDeleteSeconds > 0 {
		requested = sender.AutoDeleteSeconds
	}
	if requested <= 0 {
		return nil
	}

	planMax := freeMaxTTL
	if sender.Plan == store.PlanPremium {
		planMax = premiumMaxTTL
	}
	ttl := time.Duration(requested) * time.Second
	if ttl < minTTL {
		ttl = minTTL
	}
	if ttl > planMax {
		ttl = planMax
	}
	t := s.now().UTC().Add(ttl)
	return &t
}

// normalizeCiphertext stores one canonical representation: valid JSON is
// compacted, anything else is kept verbatim. Empty input means none.
func normalizeCiphertext(raw string) *string {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if compact, err := json.Marshal(v); err == nil {
			c := string(compact)
			return &c
		}
	}
	return &raw
}

// EmitUpsert publishes the authoritative row to its room. The retention
// worker uses it too.
func (s *Service) EmitUpsert(ctx context.Context, msg *store.Message) {
	items, err := s.composeItems(ctx, []*store.Message{msg}, composeOpts{})
	if err != nil {
		logging.Error(ctx, "Failed to compose upsert",
			zap.Int64("message_id", msg.ID), zap.Error(err))
		return
	}
	s.emitter.EmitRoom(ctx, msg.ChatRoomID, "message:upsert",
		UpsertPayload{RoomID: msg.ChatRoomID, Item: items[0]})
	metrics.UpsertsEmitted.WithLabelValues("service").Inc()
}

// EmitUpsertByID loads a row and publishes it; the narrow capability the
// socket bus and workers use without knowing the storage layer.
func (s *Service) EmitUpsertByID(ctx context.Context, messageID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	s.EmitUpsert(ctx, msg)
	return nil
}

// itemForCaller composes a single row from the caller's point of view.
func (s *Service) itemForCaller(ctx context.Context, msg *store.Message, caller *store.User) (*Item, error) {
	items, err := s.composeItems(ctx, []*store.Message{msg}, composeOpts{
		CallerID:    caller.ID,
		CallerLang:  caller.PreferredLanguage,
		CallerAdmin: caller.Role == store.UserRoleAdmin,
	})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, targetID int64, detail string) {
	if err := s.store.AppendAudit(ctx, &store.AuditEntry{
		ActorID:  actorID,
		Action:   action,
		TargetID: targetID,
		Detail:   detail,
	}); err != nil {
		logging.Warn(ctx, "Audit append failed",
			zap.String("action", action), zap.Error(err))
	}
}

// requireParticipantOrAdmin loads the caller and checks room access.
func (s *Service) requireParticipantOrAdmin(ctx context.Context, roomID, userID int64) (*store.User, error) {
	caller, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if caller.Role == store.UserRoleAdmin {
		return caller, nil
	}
	if _, err := s.store.GetParticipant(ctx, roomID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return caller, nil
}
