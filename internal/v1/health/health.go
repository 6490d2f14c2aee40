// Package health exposes the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/bus"
	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/store"
)

const probeTimeout = 2 * time.Second

// Checker answers the probes. Live is always ok while the process runs;
// Ready requires the database and, when configured, Redis.
type Checker struct {
	store store.Store
	bus   *bus.Service
}

func NewChecker(st store.Store, b *bus.Service) *Checker {
	return &Checker{store: st, bus: b}
}

func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Checker) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "Readiness: database ping failed", zap.Error(err))
		checks["database"] = "unavailable"
		healthy = false
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "Readiness: redis ping failed", zap.Error(err))
		checks["redis"] = "unavailable"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": checks})
}
