package notify

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lumen-social/trustcore/internal/security"
)

// Handler provides HTTP endpoints for notifications.
type Handler struct {
	service *Service
}

// NewHandler creates a notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up notification endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/notify/subscriptions", h.Subscribe)
	r.DELETE("/notify/subscriptions/:id", h.Unsubscribe)
	r.GET("/notify/users/:id/deliveries", h.Deliveries)
}

type subscribeRequest struct {
	UserID     string   `json:"userId" binding:"required"`
	URL        string   `json:"url" binding:"required,url"`
	Secret     string   `json:"secret"`
	Categories []string `json:"categories"`
}

func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}
	sub, err := h.service.Subscribe(c.Request.Context(), req.UserID, req.URL, req.Secret, req.Categories)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	if err := h.service.Unsubscribe(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) Deliveries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	deliveries, err := h.service.Deliveries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}
