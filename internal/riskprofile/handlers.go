package riskprofile

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for risk profiles.
type Handler struct {
	service *Service
}

// NewHandler creates a risk profile handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up risk profile endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/profiles/:id/evaluate", h.Evaluate)
	r.POST("/risk/profiles/:id/triggers", h.ExecuteTriggers)
	r.GET("/risk/profiles/:id", h.Get)
	r.GET("/risk/profiles/:id/transitions", h.Transitions)
}

func (h *Handler) Evaluate(c *gin.Context) {
	profile, err := h.service.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrInvalidUserID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":            profile,
		"recommendedActions": profile.RecommendedActions(),
	})
}

func (h *Handler) ExecuteTriggers(c *gin.Context) {
	userID := c.Param("id")
	profile, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	result, err := h.service.ExecuteTriggers(c.Request.Context(), userID, profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *Handler) Get(c *gin.Context) {
	profile, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":            profile,
		"recommendedActions": profile.RecommendedActions(),
	})
}

func (h *Handler) Transitions(c *gin.Context) {
	transitions, err := h.service.Transitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}
