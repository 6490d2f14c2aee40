package transport

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/message"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// wsConnection is the subset of the gorilla connection the client uses.
// Tests substitute fakes.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one user's socket session.
type Client struct {
	hub      *Hub
	conn     wsConnection
	userID   int64
	username string

	// rooms is the client's subscription set, guarded by hub.mu.
	rooms map[int64]struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	send      chan []byte
}

func newClient(h *Hub, conn wsConnection, userID int64, username string) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		userID:   userID,
		username: username,
		rooms:    make(map[int64]struct{}),
		send:     make(chan []byte, sendBufferSize),
	}
}

// enqueue hands a frame to the write pump. A full buffer drops the frame;
// the client re-syncs from the list endpoint on reconnect.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		logging.Warn(context.Background(), "Client send buffer full, dropping frame",
			zap.Int64("user_id", c.userID))
	}
}

// Disconnect closes the send channel; the write pump drains and sends the
// close frame.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logging.Warn(context.Background(), "Websocket write failed",
				zap.Int64("user_id", c.userID), zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Disconnect()
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("invalid_frame", "")
			continue
		}
		c.route(context.Background(), env)
	}
}

// flexibleID tolerates both numeric and string-encoded ids on the wire.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexibleID(n)
	return nil
}

type joinRoomsData struct {
	RoomIDs []flexibleID `json:"roomIds"`
}

type leaveRoomData struct {
	RoomID flexibleID `json:"roomId"`
}

type typingData struct {
	RoomID   flexibleID `json:"roomId"`
	IsTyping bool       `json:"isTyping"`
}

type typingBroadcast struct {
	RoomID   int64  `json:"roomId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type sendMessageData struct {
	ChatRoomID        flexibleID        `json:"chatRoomId"`
	Content           string            `json:"content"`
	ContentCiphertext string            `json:"contentCiphertext,omitempty"`
	EncryptedKeys     map[string]string `json:"encryptedKeys,omitempty"`
	ClientMessageID   string            `json:"clientMessageId,omitempty"`
	ExpireSeconds     *int              `json:"expireSeconds,omitempty"`
}

type messageCopiedData struct {
	MessageID flexibleID `json:"messageId"`
}

type readBulkData struct {
	MessageIDs []flexibleID `json:"messageIds"`
}

func (c *Client) route(ctx context.Context, env Envelope) {
	switch env.Event {
	case "join:rooms":
		c.handleJoinRooms(ctx, env.Data)
	case "leave_room":
		c.handleLeaveRoom(env.Data)
	case "typing:update":
		c.handleTyping(ctx, env.Data)
	case "send_message":
		c.handleSendMessage(ctx, env.Data)
	case "message_copied":
		c.handleMessageCopied(ctx, env.Data)
	case "read:bulk":
		c.handleReadBulk(ctx, env.Data)
	default:
		c.sendError("unknown_event", env.Event)
	}
}

// handleJoinRooms verifies membership per room id; unknown rooms are
// refused individually without dropping the connection.
func (c *Client) handleJoinRooms(ctx context.Context, data json.RawMessage) {
	var d joinRoomsData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "join:rooms")
		return
	}
	for _, id := range d.RoomIDs {
		roomID := int64(id)
		ok, err := c.hub.members.IsMember(ctx, c.userID, roomID)
		if err != nil {
			logging.Error(ctx, "Membership check failed",
				zap.Int64("room_id", roomID), zap.Error(err))
			continue
		}
		if !ok {
			c.sendError("not_member", strconv.FormatInt(roomID, 10))
			continue
		}
		c.hub.subscribeRoom(c, roomID)
	}
}

func (c *Client) handleLeaveRoom(data json.RawMessage) {
	var d leaveRoomData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "leave_room")
		return
	}
	c.hub.unsubscribeRoom(c, int64(d.RoomID))
}

// handleTyping broadcasts presence to the room. Nothing is stored and the
// event never crosses to rooms the client is not subscribed to.
func (c *Client) handleTyping(ctx context.Context, data json.RawMessage) {
	var d typingData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "typing:update")
		return
	}
	roomID := int64(d.RoomID)

	c.hub.mu.RLock()
	_, subscribed := c.rooms[roomID]
	c.hub.mu.RUnlock()
	if !subscribed {
		c.sendError("not_member", strconv.FormatInt(roomID, 10))
		return
	}

	c.hub.EmitRoom(ctx, roomID, "typing:update", typingBroadcast{
		RoomID:   roomID,
		Username: c.username,
		IsTyping: d.IsTyping,
	})
}

// handleSendMessage is the socket fast path into the create pipeline. The
// pipeline emits the canonical upsert itself.
func (c *Client) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var d sendMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "send_message")
		return
	}

	var keys map[int64]string
	if len(d.EncryptedKeys) > 0 {
		keys = make(map[int64]string, len(d.EncryptedKeys))
		for k, v := range d.EncryptedKeys {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				c.sendError("invalid_payload", "send_message")
				return
			}
			keys[id] = v
		}
	}

	_, _, err := c.hub.gateway.Create(ctx, message.CreateInput{
		SenderID:          c.userID,
		ChatRoomID:        int64(d.ChatRoomID),
		Content:           d.Content,
		ContentCiphertext: d.ContentCiphertext,
		EncryptedKeys:     keys,
		ClientMessageID:   d.ClientMessageID,
		ExpireSeconds:     d.ExpireSeconds,
	})
	if err != nil {
		c.sendError("send_failed", err.Error())
	}
}

func (c *Client) handleMessageCopied(ctx context.Context, data json.RawMessage) {
	var d messageCopiedData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "message_copied")
		return
	}
	if err := c.hub.gateway.RelayCopied(ctx, c.userID, int64(d.MessageID)); err != nil {
		c.sendError("copy_failed", err.Error())
	}
}

func (c *Client) handleReadBulk(ctx context.Context, data json.RawMessage) {
	var d readBulkData
	if err := json.Unmarshal(data, &d); err != nil {
		c.sendError("invalid_payload", "read:bulk")
		return
	}
	ids := make([]int64, 0, len(d.MessageIDs))
	for _, id := range d.MessageIDs {
		ids = append(ids, int64(id))
	}
	if _, err := c.hub.gateway.MarkReadBulk(ctx, c.userID, ids); err != nil {
		c.sendError("read_failed", err.Error())
	}
}

type errorData struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (c *Client) sendError(code, detail string) {
	data, err := json.Marshal(errorData{Code: code, Detail: detail})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: "error", Data: data})
	if err != nil {
		return
	}
	c.enqueue(frame)
}
