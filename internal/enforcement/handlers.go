package enforcement

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for account enforcement state.
type Handler struct {
	service *Service
}

// NewHandler creates an enforcement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up enforcement endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/enforcement/:id", h.Status)
	r.PUT("/enforcement/:id", h.SetStatus)
	r.GET("/enforcement/:id/history", h.History)
}

func (h *Handler) Status(c *gin.Context) {
	status, err := h.service.AccountStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": c.Param("id"), "status": status})
}

type setStatusRequest struct {
	Status      string   `json:"status" binding:"required"`
	ReasonCodes []string `json:"reasonCodes"`
}

func (h *Handler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	err := h.service.SetAccountStatus(c.Request.Context(), c.Param("id"), req.Status, req.ReasonCodes)
	if err != nil {
		if err == ErrInvalidStatus || err == ErrInvalidUserID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": c.Param("id"), "status": req.Status})
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	changes, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes, "count": len(changes)})
}
