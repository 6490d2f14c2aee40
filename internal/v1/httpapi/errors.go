package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/rooms"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/uploads"
)

// respondError maps service errors onto the wire taxonomy. Bodies are
// {error, details?}; anything unmapped becomes an opaque 500.
func respondError(c *gin.Context, err error) {
	var editErr *message.EditError
	if errors.As(err, &editErr) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "edit_not_allowed",
			"details": string(editErr.Reason),
		})
		return
	}

	switch {
	case errors.Is(err, message.ErrUnauthorized),
		errors.Is(err, rooms.ErrUnauthorized),
		errors.Is(err, auth.ErrBadCredentials),
		errors.Is(err, auth.ErrBadCode),
		errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

	case errors.Is(err, message.ErrPremiumRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})

	case errors.Is(err, message.ErrForbidden),
		errors.Is(err, message.ErrNotMember),
		errors.Is(err, message.ErrTombstoned),
		errors.Is(err, rooms.ErrForbidden),
		errors.Is(err, rooms.ErrNotMember),
		errors.Is(err, rooms.ErrOwnerImmutable),
		errors.Is(err, uploads.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, message.ErrNotFound),
		errors.Is(err, rooms.ErrNotFound),
		errors.Is(err, uploads.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})

	case errors.Is(err, store.ErrConflict),
		errors.Is(err, rooms.ErrAlreadyJoined):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, uploads.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})

	case errors.Is(err, uploads.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})

	case errors.Is(err, message.ErrEmptyMessage),
		errors.Is(err, message.ErrE2EERequired),
		errors.Is(err, message.ErrBadSchedule),
		errors.Is(err, message.ErrBadLimit),
		errors.Is(err, rooms.ErrBadRole),
		errors.Is(err, rooms.ErrInviteExpired),
		errors.Is(err, uploads.ErrBadKey),
		errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		logging.Error(c.Request.Context(), "Unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
