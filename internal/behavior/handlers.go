package behavior

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lumen-social/trustcore/internal/detection"
)

// Handler provides HTTP endpoints for the behavior memory.
type Handler struct {
	service *Service
}

// NewHandler creates a behavior handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up behavior endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/behavior/events", h.LogEvent)
	r.GET("/behavior/users/:id/patterns", h.Patterns)
	r.GET("/behavior/users/:id/cyclic", h.Cyclic)
	r.GET("/behavior/users/:id/bypass", h.PolicyBypass)
	r.GET("/behavior/targets/:id/coordinated", h.Coordinated)
}

type logEventRequest struct {
	UserID       string          `json:"userId" binding:"required"`
	EventType    string          `json:"eventType" binding:"required"`
	CounterpartID string         `json:"counterpartId"`
	Importance   float64         `json:"importance"`
	Evidence     json.RawMessage `json:"evidence"`
}

func (h *Handler) LogEvent(c *gin.Context) {
	var req logEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	var ev detection.Evidence
	if len(req.Evidence) > 0 {
		parsed, err := detection.UnmarshalEvidence(req.Evidence)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_evidence", "message": err.Error()})
			return
		}
		ev = parsed
	}

	entry, err := h.service.LogEvent(c.Request.Context(), req.UserID, EventType(req.EventType), ev, req.CounterpartID, req.Importance)
	if err != nil {
		if err == ErrInvalidUserID || err == ErrInvalidType {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func lookbackMonths(c *gin.Context) int {
	months, err := strconv.Atoi(c.DefaultQuery("lookbackMonths", "12"))
	if err != nil || months < 1 {
		return 12
	}
	return months
}

func (h *Handler) Patterns(c *gin.Context) {
	patterns, err := h.service.DetectPatterns(c.Request.Context(), c.Param("id"), lookbackMonths(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (h *Handler) Cyclic(c *gin.Context) {
	cycles, err := h.service.DetectCyclicHarassment(c.Request.Context(), c.Param("id"), lookbackMonths(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

func (h *Handler) PolicyBypass(c *gin.Context) {
	suspected, nearMisses, err := h.service.DetectPolicyBypass(c.Request.Context(), c.Param("id"), lookbackMonths(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspected": suspected, "nearMisses": nearMisses})
}

func (h *Handler) Coordinated(c *gin.Context) {
	attack, err := h.service.DetectCoordinatedAttack(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if attack == nil {
		c.JSON(http.StatusOK, gin.H{"detected": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detected": true, "attack": attack})
}
