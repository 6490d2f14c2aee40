// Package bus moves realtime events between server instances over Redis
// Pub/Sub. With no Redis configured every method degrades to a no-op and the
// hub runs in single-instance mode.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/metrics"
)

// PubSubPayload is the envelope moving events between instances.
type PubSubPayload struct {
	RoomID  int64           `json:"roomId,omitempty"`
	UserID  int64           `json:"userId,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Origin identifies the publishing instance so it can skip its own echo.
	Origin string `json:"origin"`
}

// Service handles all interaction with Redis.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	origin string
}

// Client returns the underlying Redis client, nil in single-instance mode.
// The translation cache and the rate limiter share this connection pool.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Origin returns this instance's identity used for echo suppression.
func (s *Service) Origin() string {
	if s == nil {
		return ""
	}
	return s.origin
}

// NewService connects to Redis and wraps publishes in a circuit breaker.
// An empty addr yields a nil-client Service that no-ops everything.
func NewService(addr, password, origin string) (*Service, error) {
	if addr == "" {
		return &Service{origin: origin}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis Pub/Sub", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		origin: origin,
	}, nil
}

func roomChannel(roomID int64) string {
	return fmt.Sprintf("chat:room:%d", roomID)
}

func userChannel(userID int64) string {
	return fmt.Sprintf("chat:user:%d", userID)
}

func (s *Service) publish(ctx context.Context, channel string, msg PubSubPayload) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshaling pubsub envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open, dropping publish",
				zap.String("channel", channel))
			// Graceful degradation: local delivery already happened.
			return nil
		}
		logging.Error(ctx, "Redis publish failed",
			zap.String("channel", channel), zap.Error(err))
		return err
	}
	return nil
}

// PublishRoom broadcasts an event to every other instance serving the room.
func (s *Service) PublishRoom(ctx context.Context, roomID int64, event string, payload any) error {
	if s == nil || s.client == nil {
		return nil
	}
	inner, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return s.publish(ctx, roomChannel(roomID), PubSubPayload{
		RoomID:  roomID,
		Event:   event,
		Payload: inner,
		Origin:  s.origin,
	})
}

// PublishUser sends an event to one user's inbox on every instance.
func (s *Service) PublishUser(ctx context.Context, userID int64, event string, payload any) error {
	if s == nil || s.client == nil {
		return nil
	}
	inner, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return s.publish(ctx, userChannel(userID), PubSubPayload{
		UserID:  userID,
		Event:   event,
		Payload: inner,
		Origin:  s.origin,
	})
}

// SubscribeRooms listens on the room pattern and invokes handler for every
// envelope published by another instance. Runs until ctx is cancelled.
func (s *Service) SubscribeRooms(ctx context.Context, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribe(ctx, "chat:room:*", wg, handler)
}

// SubscribeUsers listens on the user inbox pattern.
func (s *Service) SubscribeUsers(ctx context.Context, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribe(ctx, "chat:user:*", wg, handler)
}

func (s *Service) subscribe(ctx context.Context, pattern string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.PSubscribe(ctx, pattern)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "Subscribed to Redis pattern", zap.String("pattern", pattern))
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "Redis subscription channel closed",
						zap.String("pattern", pattern))
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "Failed to unmarshal Redis message", zap.Error(err))
					continue
				}
				if payload.Origin == s.origin {
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity for health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
