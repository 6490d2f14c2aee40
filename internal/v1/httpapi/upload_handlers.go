package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/uploads"
)

type uploadView struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	Width       *int      `json:"width,omitempty"`
	Height      *int      `json:"height,omitempty"`
	DurationSec *float64  `json:"durationSec,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toUploadView(u *store.Upload) uploadView {
	return uploadView{
		ID:          u.ID,
		Key:         u.Key,
		Name:        u.OriginalName,
		MimeType:    u.MimeType,
		Size:        u.Size,
		Width:       u.Width,
		Height:      u.Height,
		DurationSec: u.DurationSec,
		SHA256:      u.SHA256,
		CreatedAt:   u.CreatedAt,
	}
}

func (a *api) uploadDirect(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field 'file' is required")
		return
	}
	upload, err := a.Uploads.Direct(c.Request.Context(), auth.CallerID(c), header)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":       upload.ID,
		"name":     upload.OriginalName,
		"mimeType": upload.MimeType,
		"size":     upload.Size,
	})
}

type uploadIntentRequest struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
}

func (a *api) uploadIntent(c *gin.Context) {
	var req uploadIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name, mimeType and size are required")
		return
	}
	intent, err := a.Uploads.CreateIntent(c.Request.Context(), auth.CallerID(c), req.Name, req.MimeType, req.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"uploadUrl":        intent.UploadURL,
		"key":              intent.Key,
		"expiresIn":        intent.ExpiresIn,
		"requiresComplete": intent.RequiresComplete,
	}
	if base := a.Cfg.StoragePublicBaseURL; base != "" {
		resp["publicUrl"] = strings.TrimSuffix(base, "/") + "/" + intent.Key
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *api) uploadComplete(c *gin.Context) {
	var req uploads.CompleteInput
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		badRequest(c, "key, name, mimeType and size are required")
		return
	}
	upload, err := a.Uploads.Complete(c.Request.Context(), auth.CallerID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "file": toUploadView(upload)})
}

func (a *api) streamUpload(c *gin.Context) {
	uploadID, ok := pathID(c, "id")
	if !ok {
		return
	}
	upload, rc, err := a.Uploads.Open(c.Request.Context(), auth.CallerID(c), uploadID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, upload.Size, upload.MimeType, rc, nil)
}

// streamSigned serves the signed attachment URLs minted on the read path.
// Authorization is entirely in the query signature.
func (a *api) streamSigned(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	owner, err := strconv.ParseInt(c.Query("owner"), 10, 64)
	if err != nil {
		badRequest(c, "owner is required")
		return
	}
	exp, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil {
		badRequest(c, "exp is required")
		return
	}
	rc, mimeType, err := a.Uploads.OpenSigned(c.Request.Context(), key, owner, exp, c.Query("sig"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, mimeType, rc, nil)
}
