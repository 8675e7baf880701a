package orchestrator

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for risk assessments.
type Handler struct {
	service *Service
}

// NewHandler creates an orchestrator handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up assessment endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/assess", h.Assess)
	r.GET("/risk/assessments/:id", h.Get)
	r.GET("/risk/users/:id/assessments", h.ListByUser)
}

func (h *Handler) Assess(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	assessment, err := h.service.Assess(c.Request.Context(), req)
	if err != nil {
		if err == ErrInvalidUserID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

func (h *Handler) Get(c *gin.Context) {
	assessment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

func (h *Handler) ListByUser(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	assessments, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments})
}
