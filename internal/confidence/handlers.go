package confidence

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumen-social/trustcore/internal/detection"
)

// Handler provides HTTP endpoints for the confidence model.
type Handler struct {
	service *Service
}

// NewHandler creates a confidence handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up confidence endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/confidence/feedback", h.RecordFeedback)
	r.GET("/confidence/rules", h.ListRules)
	r.GET("/confidence/rules/:type", h.GetRule)
	r.POST("/confidence/apply", h.Apply)
}

type feedbackRequest struct {
	SignalType  string `json:"signalType" binding:"required"`
	Label       string `json:"label" binding:"required"`
	CaseID      string `json:"caseId"`
	ModeratorID string `json:"moderatorId"`
	Notes       string `json:"notes"`
}

func (h *Handler) RecordFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	fb, err := h.service.RecordFeedback(c.Request.Context(),
		detection.SignalType(req.SignalType), Label(req.Label),
		req.CaseID, req.ModeratorID, req.Notes)
	if err != nil {
		if err == ErrInvalidLabel || err == ErrInvalidType {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": fb})
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.service.Rules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.service.Rule(c.Request.Context(), detection.SignalType(c.Param("type")))
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// Apply runs one application pass on demand, same as the scheduled sweep.
func (h *Handler) Apply(c *gin.Context) {
	applied := h.service.ApplyAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
