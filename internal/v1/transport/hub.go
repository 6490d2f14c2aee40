// Package transport is the realtime gateway: one websocket per client,
// room subscriptions verified against membership, and a hub that fans
// canonical events out locally and across instances over the bus.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/bus"
	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/metrics"
	"github.com/veilchat/backend/go/internal/v1/ratelimit"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MembershipChecker verifies a user belongs to a room before the hub
// subscribes their socket to it.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
}

// MessageGateway is the slice of the message pipeline the socket fast
// paths use.
type MessageGateway interface {
	Create(ctx context.Context, in message.CreateInput) (*message.Item, bool, error)
	MarkReadBulk(ctx context.Context, callerID int64, messageIDs []int64) (int, error)
	RelayCopied(ctx context.Context, callerID, messageID int64) error
}

// Hub tracks connected clients and their room subscriptions. It implements
// the emitter the message pipeline publishes through.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[int64]map[*Client]struct{}
	byRoom  map[int64]map[*Client]struct{}
	members MembershipChecker
	gateway MessageGateway

	bus            *bus.Service
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// NewHub wires the gateway. bus may be a nil-client service and
// rateLimiter may be nil (tests, single-instance dev mode).
func NewHub(members MembershipChecker, gateway MessageGateway, b *bus.Service, rl *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		byUser:         make(map[int64]map[*Client]struct{}),
		byRoom:         make(map[int64]map[*Client]struct{}),
		members:        members,
		gateway:        gateway,
		bus:            b,
		rateLimiter:    rl,
		allowedOrigins: allowedOrigins,
	}
}

// StartBus subscribes the hub to cross-instance events. Envelopes from
// this instance are already filtered by the bus.
func (h *Hub) StartBus(ctx context.Context, wg *sync.WaitGroup) {
	if h.bus == nil {
		return
	}
	h.bus.SubscribeRooms(ctx, wg, func(p bus.PubSubPayload) {
		h.deliverRoom(p.RoomID, p.Event, p.Payload)
	})
	h.bus.SubscribeUsers(ctx, wg, func(p bus.PubSubPayload) {
		h.deliverUser(p.UserID, p.Event, p.Payload)
	})
}

// EmitRoom delivers an event to every local socket subscribed to the room
// and forwards it to the other instances.
func (h *Hub) EmitRoom(ctx context.Context, roomID int64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal room event",
			zap.String("event", event), zap.Error(err))
		return
	}
	h.deliverRoom(roomID, event, data)
	if h.bus != nil {
		if err := h.bus.PublishRoom(ctx, roomID, event, json.RawMessage(data)); err != nil {
			logging.Error(ctx, "Bus room publish failed",
				zap.Int64("room_id", roomID), zap.Error(err))
		}
	}
}

// EmitUser delivers an event to one user's sockets everywhere.
func (h *Hub) EmitUser(ctx context.Context, userID int64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal user event",
			zap.String("event", event), zap.Error(err))
		return
	}
	h.deliverUser(userID, event, data)
	if h.bus != nil {
		if err := h.bus.PublishUser(ctx, userID, event, json.RawMessage(data)); err != nil {
			logging.Error(ctx, "Bus user publish failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func (h *Hub) deliverRoom(roomID int64, event string, data json.RawMessage) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byRoom[roomID] {
		c.enqueue(frame)
	}
}

func (h *Hub) deliverUser(userID int64, event string, data json.RawMessage) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		c.enqueue(frame)
	}
}

// register adds a connected client to its user inbox.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	metrics.IncConnection()
}

// unregister drops the client from every index.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID := range c.rooms {
		h.dropFromRoomLocked(c, roomID)
	}
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	metrics.DecConnection()
}

func (h *Hub) subscribeRoom(c *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byRoom[roomID] == nil {
		h.byRoom[roomID] = make(map[*Client]struct{})
		metrics.SubscribedRooms.Inc()
	}
	h.byRoom[roomID][c] = struct{}{}
	c.rooms[roomID] = struct{}{}
}

func (h *Hub) unsubscribeRoom(c *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoomLocked(c, roomID)
}

func (h *Hub) dropFromRoomLocked(c *Client, roomID int64) {
	delete(c.rooms, roomID)
	if set, ok := h.byRoom[roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byRoom, roomID)
			metrics.SubscribedRooms.Dec()
		}
	}
}

// validateOrigin rejects browser connections from unknown origins.
// Requests without an Origin header (non-browser clients) pass.
func validateOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(strings.TrimSpace(a))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs upgrades an authenticated request to a websocket session. Auth
// middleware must run first; the session token may arrive via cookie or
// the token query parameter.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocketIP(c) {
		return
	}

	userID := auth.CallerID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
			return
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Websocket upgrade failed", zap.Error(err))
		return
	}

	h.HandleConnection(conn, userID, c.Query("username"))
}

// HandleConnection registers an established connection and starts its
// pumps. Split from ServeWs so tests can drive fake connections.
func (h *Hub) HandleConnection(conn wsConnection, userID int64, username string) *Client {
	client := newClient(h, conn, userID, username)
	h.register(client)

	logging.Info(context.Background(), "Websocket connected",
		zap.Int64("user_id", userID))

	go client.writePump()
	go client.readPump()
	return client
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, set := range h.byUser {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Disconnect()
	}
	logging.Info(ctx, "Websocket hub shut down", zap.Int("clients", len(clients)))
}
