package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/store"
)

const defaultListLimit = 50

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

type createMessageRequest struct {
	ChatRoomID        int64                     `json:"chatRoomId" binding:"required"`
	Content           string                    `json:"content"`
	ContentCiphertext json.RawMessage           `json:"contentCiphertext"`
	EncryptedKeys     map[string]string         `json:"encryptedKeys"`
	ClientMessageID   string                    `json:"clientMessageId"`
	ExpireSeconds     *int                      `json:"expireSeconds"`
	AttachmentsInline []message.AttachmentInput `json:"attachmentsInline"`
}

// ciphertextString accepts both wire shapes: a JSON string holding the
// sealed box, or the sealed box object itself.
func ciphertextString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseEncryptedKeys(in map[string]string) (map[int64]string, bool) {
	if len(in) == 0 {
		return nil, true
	}
	out := make(map[int64]string, len(in))
	for k, v := range in {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 {
			return nil, false
		}
		out[id] = v
	}
	return out, true
}

func kindFromMime(mimeType string) store.AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return store.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return store.AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return store.AttachmentAudio
	default:
		return store.AttachmentFile
	}
}

// createMessage accepts JSON or multipart. Multipart carries the same
// fields plus files[]; each file goes through the upload pipeline and
// becomes an attachment on the new message.
func (a *api) createMessage(c *gin.Context) {
	callerID := auth.CallerID(c)

	var in message.CreateInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, ok := a.parseMultipartCreate(c, callerID)
		if !ok {
			return
		}
		in = *parsed
	} else {
		var req createMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "chatRoomId is required")
			return
		}
		keys, ok := parseEncryptedKeys(req.EncryptedKeys)
		if !ok {
			badRequest(c, "encryptedKeys must map user ids to sealed keys")
			return
		}
		in = message.CreateInput{
			SenderID:          callerID,
			ChatRoomID:        req.ChatRoomID,
			Content:           req.Content,
			ContentCiphertext: ciphertextString(req.ContentCiphertext),
			EncryptedKeys:     keys,
			ClientMessageID:   req.ClientMessageID,
			ExpireSeconds:     req.ExpireSeconds,
			Attachments:       req.AttachmentsInline,
		}
	}

	// Idempotent replays answer 201 with the original row; callers see
	// the same id either way.
	item, _, err := a.Messages.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (a *api) parseMultipartCreate(c *gin.Context, callerID int64) (*message.CreateInput, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "invalid multipart form")
		return nil, false
	}
	field := func(name string) string {
		if vals := form.Value[name]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	roomID, err := strconv.ParseInt(field("chatRoomId"), 10, 64)
	if err != nil || roomID <= 0 {
		badRequest(c, "chatRoomId is required")
		return nil, false
	}

	in := &message.CreateInput{
		SenderID:        callerID,
		ChatRoomID:      roomID,
		Content:         field("content"),
		ClientMessageID: field("clientMessageId"),
	}
	if raw := field("contentCiphertext"); raw != "" {
		in.ContentCiphertext = ciphertextString(json.RawMessage(raw))
	}
	if raw := field("encryptedKeys"); raw != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			badRequest(c, "encryptedKeys must be a JSON object")
			return nil, false
		}
		keys, ok := parseEncryptedKeys(m)
		if !ok {
			badRequest(c, "encryptedKeys must map user ids to sealed keys")
			return nil, false
		}
		in.EncryptedKeys = keys
	}
	if raw := field("expireSeconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "expireSeconds must be an integer")
			return nil, false
		}
		in.ExpireSeconds = &n
	}
	if raw := field("attachmentsMeta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Attachments); err != nil {
			badRequest(c, "attachmentsMeta must be a JSON array")
			return nil, false
		}
	}

	for _, header := range form.File["files"] {
		upload, err := a.Uploads.Direct(c.Request.Context(), callerID, header)
		if err != nil {
			respondError(c, err)
			return nil, false
		}
		in.Attachments = append(in.Attachments, message.AttachmentInput{
			Kind:        kindFromMime(upload.MimeType),
			URL:         upload.Key,
			MimeType:    upload.MimeType,
			Width:       upload.Width,
			Height:      upload.Height,
			DurationSec: upload.DurationSec,
		})
	}
	return in, true
}

func (a *api) listMessages(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}
	var cursor int64
	if raw := c.Query("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "cursor must be a message id")
			return
		}
		cursor = n
	}

	page, err := a.Messages.List(c.Request.Context(), auth.CallerID(c), roomID, limit, cursor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type editMessageRequest struct {
	NewContent string `json:"newContent" binding:"required"`
}

func (a *api) editMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "newContent is required")
		return
	}
	item, err := a.Messages.Edit(c.Request.Context(), auth.CallerID(c), messageID, req.NewContent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (a *api) markRead(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.Messages.MarkRead(c.Request.Context(), auth.CallerID(c), messageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type readBulkRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

func (a *api) markReadBulk(c *gin.Context) {
	var req readBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ids is required")
		return
	}
	count, err := a.Messages.MarkReadBulk(c.Request.Context(), auth.CallerID(c), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (a *api) toggleReaction(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "emoji is required")
		return
	}
	result, err := a.Messages.ToggleReaction(c.Request.Context(), auth.CallerID(c), messageID, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) removeReaction(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	emoji := c.Param("emoji")
	if emoji == "" {
		badRequest(c, "emoji is required")
		return
	}
	result, err := a.Messages.RemoveReaction(c.Request.Context(), auth.CallerID(c), messageID, emoji)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) deleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	scope := message.DeleteScope(c.DefaultQuery("scope", string(message.ScopeMe)))
	if scope != message.ScopeMe && scope != message.ScopeAll {
		badRequest(c, "scope must be me or all")
		return
	}
	if err := a.Messages.Delete(c.Request.Context(), auth.CallerID(c), messageID, scope); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) clearThread(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.Messages.Clear(c.Request.Context(), auth.CallerID(c), roomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) clearRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := a.Messages.ClearAll(c.Request.Context(), auth.CallerID(c), roomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type scheduleRequest struct {
	Content     string    `json:"content" binding:"required"`
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`
}

func (a *api) scheduleMessage(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content and scheduledAt are required")
		return
	}
	scheduled, err := a.Messages.Schedule(c.Request.Context(), auth.CallerID(c), roomID, req.Content, req.ScheduledAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":          scheduled.ID,
		"chatRoomId":  scheduled.ChatRoomID,
		"scheduledAt": scheduled.ScheduledAt,
	})
}

type forwardRequest struct {
	ToRoomID int64  `json:"toRoomId" binding:"required"`
	Note     string `json:"note"`
}

func (a *api) forwardMessage(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "toRoomId is required")
		return
	}
	item, err := a.Messages.Forward(c.Request.Context(), auth.CallerID(c), messageID, req.ToRoomID, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}
