package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/store"
)

type roomView struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	IsGroup           bool      `json:"isGroup"`
	OwnerID           *int64    `json:"ownerId,omitempty"`
	AutoTranslateMode string    `json:"autoTranslateMode"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toRoomView(r *store.ChatRoom) roomView {
	return roomView{
		ID:                r.ID,
		Name:              r.Name,
		IsGroup:           r.IsGroup,
		OwnerID:           r.OwnerID,
		AutoTranslateMode: string(r.AutoTranslateMode),
		CreatedAt:         r.CreatedAt,
	}
}

type createRoomRequest struct {
	Name    string `json:"name" binding:"required"`
	IsGroup bool   `json:"isGroup"`
}

func (a *api) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	room, err := a.Rooms.Create(c.Request.Context(), auth.CallerID(c), req.Name, req.IsGroup)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": toRoomView(room)})
}

func (a *api) listParticipants(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	participants, err := a.Rooms.ListParticipants(c.Request.Context(), auth.CallerID(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

type addParticipantRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

func (a *api) addParticipant(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "userId is required")
		return
	}
	if err := a.Rooms.AddParticipant(c.Request.Context(), auth.CallerID(c), roomID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (a *api) changeRole(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "role is required")
		return
	}
	err := a.Rooms.ChangeRole(c.Request.Context(), auth.CallerID(c), roomID, userID, store.ParticipantRole(req.Role))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) promote(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if err := a.Rooms.Promote(c.Request.Context(), auth.CallerID(c), roomID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// removeParticipant kicks the target; the caller removing themselves is a
// leave instead.
func (a *api) removeParticipant(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	callerID := auth.CallerID(c)

	var err error
	if userID == callerID {
		err = a.Rooms.Leave(c.Request.Context(), callerID, roomID)
	} else {
		err = a.Rooms.Kick(c.Request.Context(), callerID, roomID, userID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) createInvite(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	invite, err := a.Rooms.CreateInvite(c.Request.Context(), auth.CallerID(c), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": invite.Code})
}

func (a *api) joinInvite(c *gin.Context) {
	code := c.Param("id")
	if code == "" {
		badRequest(c, "invite code is required")
		return
	}
	room, err := a.Rooms.Join(c.Request.Context(), auth.CallerID(c), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": toRoomView(room)})
}
