// Package httpapi wires the HTTP surface: auth flows, the message
// pipeline endpoints, room administration, uploads and the realtime
// upgrade, with the shared middleware stack in front.
package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/config"
	"github.com/veilchat/backend/go/internal/v1/health"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/middleware"
	"github.com/veilchat/backend/go/internal/v1/ratelimit"
	"github.com/veilchat/backend/go/internal/v1/rooms"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/transport"
	"github.com/veilchat/backend/go/internal/v1/uploads"
)

// Deps carries everything the router mounts. Limiter and Hub may be nil
// in tests; the affected routes degrade gracefully.
type Deps struct {
	Cfg      *config.Config
	Store    store.Store
	Auth     *auth.Service
	Rooms    *rooms.Service
	Messages *message.Service
	Uploads  *uploads.Service
	Hub      *transport.Hub
	Health   *health.Checker
	Limiter  *ratelimit.RateLimiter
}

type api struct {
	Deps
}

// NewRouter builds the gin engine with the full route table.
func NewRouter(deps Deps) *gin.Engine {
	a := &api{Deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware("veilchat-backend"))

	if deps.Cfg.AllowedOrigins != "" {
		corsCfg := cors.Config{
			AllowOrigins:     splitOrigins(deps.Cfg.AllowedOrigins),
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.CSRFHeaderName, middleware.HeaderXCorrelationID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsCfg))
	}

	r.GET("/health/live", deps.Health.Live)
	r.GET("/health/ready", deps.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.CSRF(auth.SessionCookieName))

	public := r.Group("/")
	if deps.Limiter != nil {
		public.Use(deps.Limiter.GlobalMiddleware())
	}
	public.POST("/auth/register", a.register)
	public.POST("/auth/login", a.login)
	public.POST("/auth/2fa/login", a.loginMFA)
	public.POST("/auth/forgot-password", a.forgotPassword)
	public.POST("/auth/reset-password", a.resetPassword)

	authed := r.Group("/")
	authed.Use(auth.Middleware(deps.Auth.Issuer()))
	if deps.Limiter != nil {
		authed.Use(deps.Limiter.GlobalMiddleware())
	}

	authed.POST("/auth/logout", a.logout)
	authed.GET("/auth/me", a.me)

	msgs := authed.Group("/messages")
	if deps.Limiter != nil {
		msgs.POST("", deps.Limiter.MessageMiddleware(), a.createMessage)
	} else {
		msgs.POST("", a.createMessage)
	}
	msgs.GET("/:id", a.listMessages)
	msgs.PATCH("/:id/edit", a.editMessage)
	msgs.PATCH("/:id/read", a.markRead)
	msgs.POST("/read-bulk", a.markReadBulk)
	msgs.POST("/:id/reactions", a.toggleReaction)
	msgs.DELETE("/:id/reactions/:emoji", a.removeReaction)
	msgs.DELETE("/:id", a.deleteMessage)
	msgs.POST("/:id/clear", a.clearThread)
	msgs.POST("/:id/clear-all", a.clearRoom)
	msgs.POST("/:id/schedule", a.scheduleMessage)
	msgs.POST("/:id/forward", a.forwardMessage)

	authed.POST("/rooms", a.createRoom)
	authed.GET("/rooms/:id/participants", a.listParticipants)
	authed.POST("/rooms/:id/participants", a.addParticipant)
	authed.PATCH("/rooms/:id/participants/:userId/role", a.changeRole)
	authed.POST("/rooms/:id/participants/:userId/promote", a.promote)
	authed.DELETE("/rooms/:id/participants/:userId", a.removeParticipant)

	authed.POST("/group-invites/:id", a.createInvite)
	authed.POST("/group-invites/:id/join", a.joinInvite)

	authed.GET("/admin/audit", auth.RequireAdmin(), a.listAudit)

	authed.POST("/uploads", a.uploadDirect)
	authed.POST("/uploads/intent", a.uploadIntent)
	authed.POST("/uploads/complete", a.uploadComplete)
	authed.GET("/uploads/:id", a.streamUpload)

	// Signed attachment URLs carry their own authorization in the query.
	r.GET("/uploads/file/*key", a.streamSigned)

	if deps.Hub != nil {
		authed.GET("/ws", deps.Hub.ServeWs)
	}

	return r
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
