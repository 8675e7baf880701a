package consent

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the consent ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a consent handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up consent endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/consent/initialize", h.Initialize)
	r.POST("/consent/request", h.RequestActive)
	r.POST("/consent/grant", h.Grant)
	r.POST("/consent/pause", h.Pause)
	r.POST("/consent/revoke", h.Revoke)
	r.POST("/consent/resume", h.Resume)
	r.GET("/consent/check", h.Check)
	r.POST("/consent/check/batch", h.BatchCheck)
	r.GET("/consent/record", h.Get)
	r.POST("/consent/transactions", h.TrackTransaction)
	r.POST("/consent/transactions/delivered", h.MarkDelivered)
}

type pairRequest struct {
	UserA  string `json:"userA" binding:"required"`
	UserB  string `json:"userB" binding:"required"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// writeError maps domain errors to HTTP statuses: not-found and precondition
// violations are distinct so clients can show the right message.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "consent_not_found", "message": err.Error()})
	case errors.Is(err, ErrRevoked):
		c.JSON(http.StatusConflict, gin.H{"error": "consent_revoked", "message": err.Error()})
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrInvalidUserID), errors.Is(err, ErrSamePair), errors.Is(err, ErrUnknownCapability):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}

func (h *Handler) Initialize(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	initiator := req.Actor
	if initiator == "" {
		initiator = req.UserA
	}
	rec, err := h.service.Initialize(c.Request.Context(), req.UserA, req.UserB, initiator, req.Source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) RequestActive(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, err := h.service.RequestActive(c.Request.Context(), req.UserA, req.UserB)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Grant(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, err := h.service.Grant(c.Request.Context(), req.UserA, req.UserB, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Pause(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, err := h.service.Pause(c.Request.Context(), req.UserA, req.UserB, req.Actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Revoke(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, refunds, err := h.service.Revoke(c.Request.Context(), req.UserA, req.UserB, req.Actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "refundedTransactions": refunds})
}

func (h *Handler) Resume(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, err := h.service.Resume(c.Request.Context(), req.UserA, req.UserB, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Check(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	capability := c.DefaultQuery("capability", CapMessage)
	res, err := h.service.Check(c.Request.Context(), from, to, capability)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type batchCheckRequest struct {
	From       string   `json:"from" binding:"required"`
	Others     []string `json:"others" binding:"required"`
	Capability string   `json:"capability"`
}

func (h *Handler) BatchCheck(c *gin.Context) {
	var req batchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Capability == "" {
		req.Capability = CapMessage
	}
	results, err := h.service.BatchCheck(c.Request.Context(), req.From, req.Others, req.Capability)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Query("userA"), c.Query("userB"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

type transactionRequest struct {
	UserA string `json:"userA" binding:"required"`
	UserB string `json:"userB" binding:"required"`
	TxID  string `json:"txId" binding:"required"`
}

func (h *Handler) TrackTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.service.TrackPendingTransaction(c.Request.Context(), req.UserA, req.UserB, req.TxID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracked": true})
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.service.MarkDelivered(c.Request.Context(), req.UserA, req.UserB, req.TxID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
