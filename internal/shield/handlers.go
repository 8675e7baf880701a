package shield

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumen-social/trustcore/internal/detection"
)

// Handler provides HTTP endpoints for the harassment shield.
type Handler struct {
	service  *Service
	detector *detection.Detector
}

// NewHandler creates a shield handler.
func NewHandler(service *Service, detector *detection.Detector) *Handler {
	return &Handler{service: service, detector: detector}
}

// RegisterRoutes sets up shield endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/shield/detect", h.Detect)
	r.POST("/shield/activate", h.Activate)
	r.GET("/shield/active", h.GetActive)
	r.GET("/shield/active/list", h.ListActive)
	r.POST("/shield/resolve", h.Resolve)
}

type detectRequest struct {
	SenderID           string `json:"senderId" binding:"required"`
	RecipientID        string `json:"recipientId" binding:"required"`
	Text               string `json:"text"`
	SenderDisplayName  string `json:"senderDisplayName"`
	DeviceFingerprint  string `json:"deviceFingerprint"`
	MessagesLastMinute int    `json:"messagesLastMinute"`
	UnansweredCount    int    `json:"unansweredCount"`
	ReplyCount         int    `json:"replyCount"`
	// Activate runs the shield over any detected signals in the same call.
	Activate bool `json:"activate"`
}

// Detect runs the message detectors and optionally activates the shield for
// the recipient with whatever was found.
func (h *Handler) Detect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	signals := h.detector.DetectFromMessage(
		detection.MessageEvent{
			SenderID:          req.SenderID,
			RecipientID:       req.RecipientID,
			Text:              req.Text,
			SenderDisplayName: req.SenderDisplayName,
			DeviceFingerprint: req.DeviceFingerprint,
		},
		detection.WindowCounters{
			MessagesLastMinute: req.MessagesLastMinute,
			UnansweredCount:    req.UnansweredCount,
			ReplyCount:         req.ReplyCount,
		},
	)

	resp := gin.H{"signals": signals}
	if req.Activate && len(signals) > 0 {
		st, err := h.service.Activate(c.Request.Context(), req.RecipientID, req.SenderID, signals)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["shield"] = st
	}
	c.JSON(http.StatusOK, resp)
}

type activateRequest struct {
	ProtectedUserID string             `json:"protectedUserId" binding:"required"`
	CounterpartID   string             `json:"counterpartId" binding:"required"`
	Signals         []detection.Signal `json:"signals" binding:"required"`
}

func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	st, err := h.service.Activate(c.Request.Context(), req.ProtectedUserID, req.CounterpartID, req.Signals)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shield": st})
}

func (h *Handler) GetActive(c *gin.Context) {
	st, err := h.service.GetActive(c.Request.Context(), c.Query("protected"), c.Query("counterpart"))
	if err != nil {
		writeError(c, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "shield": st})
}

func (h *Handler) ListActive(c *gin.Context) {
	shields, err := h.service.ListActiveForUser(c.Request.Context(), c.Query("protected"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shields": shields})
}

type resolveRequest struct {
	ProtectedUserID string `json:"protectedUserId" binding:"required"`
	CounterpartID   string `json:"counterpartId" binding:"required"`
	Actor           string `json:"actor" binding:"required"`
	Reason          string `json:"reason"`
}

func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	st, err := h.service.Resolve(c.Request.Context(), req.ProtectedUserID, req.CounterpartID, req.Actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shield": st})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "shield_not_found", "message": err.Error()})
	case errors.Is(err, ErrResolved), errors.Is(err, ErrLevelConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "shield_conflict", "message": err.Error()})
	case errors.Is(err, ErrNoSignals), errors.Is(err, ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
