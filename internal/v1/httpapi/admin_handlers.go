package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultAuditLimit = 100

type auditView struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"actorId"`
	Action    string    `json:"action"`
	TargetID  int64     `json:"targetId"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// listAudit returns the newest audit entries. The route is gated on the
// global ADMIN role.
func (a *api) listAudit(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := a.Store.ListAudit(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]auditView, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditView{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			TargetID:  e.TargetID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
