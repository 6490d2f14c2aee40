// Package ratelimit enforces the request budgets over Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/config"
	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/metrics"
)

// RateLimiter holds the limiter instances. All limits share one store so
// counters survive pod restarts when Redis is on.
type RateLimiter struct {
	apiGlobal       *limiter.Limiter
	apiPublic       *limiter.Limiter
	messages        *limiter.Limiter
	translationRoom *limiter.Limiter
	translationLang *limiter.Limiter
	wsIP            *limiter.Limiter
	wsUser          *limiter.Limiter
	store           limiter.Store
}

// NewRateLimiter builds every limit from config. A nil redis client falls
// back to the in-process memory store.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}
	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}

	messagesRate := limiter.Rate{Period: cfg.MessageRateWindow, Limit: cfg.MessageRateLimit}
	translationRoomRate := limiter.Rate{Period: cfg.TranslationRateWindow, Limit: cfg.TranslationRoomRate}
	translationLangRate := limiter.Rate{Period: cfg.TranslationRateWindow, Limit: cfg.TranslationLangRate}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		apiGlobal:       limiter.New(store, apiGlobalRate),
		apiPublic:       limiter.New(store, apiPublicRate),
		messages:        limiter.New(store, messagesRate),
		translationRoom: limiter.New(store, translationRoomRate),
		translationLang: limiter.New(store, translationLangRate),
		wsIP:            limiter.New(store, wsIPRate),
		wsUser:          limiter.New(store, wsUserRate),
		store:           store,
	}, nil
}

// GlobalMiddleware applies the baseline budget: authenticated callers get
// the per-user global rate, everyone else shares the per-IP public rate.
// Store failures fail open.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst := rl.apiPublic
		key := "ip:" + c.ClientIP()
		limitType := "ip"
		if userID := auth.CallerID(c); userID != 0 {
			inst = rl.apiGlobal
			key = "user:" + strconv.FormatInt(userID, 10)
			limitType = "user"
		}

		ctx := c.Request.Context()
		lctx, err := inst.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too_many_requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// MessageMiddleware enforces the per-user message creation budget. It must
// run after auth; unauthenticated requests fall back to IP keys.
func (rl *RateLimiter) MessageMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "msg:ip:" + c.ClientIP()
		if userID := auth.CallerID(c); userID != 0 {
			key = "msg:user:" + strconv.FormatInt(userID, 10)
		}

		ctx := c.Request.Context()
		lctx, err := rl.messages.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "messages").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too_many_requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// AllowRoom consumes one unit of the room's translation budget. Fails open
// on store errors so translation never blocks message delivery.
func (rl *RateLimiter) AllowRoom(ctx context.Context, roomID int64) bool {
	lctx, err := rl.translationRoom.Get(ctx, "translate:room:"+strconv.FormatInt(roomID, 10))
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("translation", "room").Inc()
		return false
	}
	return true
}

// AllowLang consumes one unit of the room+language translation budget.
func (rl *RateLimiter) AllowLang(ctx context.Context, roomID int64, lang string) bool {
	key := "translate:room:" + strconv.FormatInt(roomID, 10) + ":" + lang
	lctx, err := rl.translationLang.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("translation", "lang").Inc()
		return false
	}
	return true
}

// CheckWebSocketIP gates socket upgrades per client IP. Writes the 429
// itself and returns false when the limit is hit.
func (rl *RateLimiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.wsIP.Get(ctx, "ws:ip:"+c.ClientIP())
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
		return false
	}
	return true
}

// CheckWebSocketUser gates socket upgrades per authenticated user. Call
// after authentication.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID int64) error {
	lctx, err := rl.wsUser.Get(ctx, "ws:user:"+strconv.FormatInt(userID, 10))
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("connection rate limit exceeded for user %d", userID)
	}
	return nil
}
