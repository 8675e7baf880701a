package cases

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the moderation case queue.
type Handler struct {
	service *Service
}

// NewHandler creates a cases handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up case endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/cases", h.OpenCase)
	r.GET("/cases/queue", h.Queue)
	r.GET("/cases/:id", h.GetCase)
	r.POST("/cases/:id/close", h.CloseCase)
	r.GET("/cases/subjects/:id", h.History)
}

type openCaseRequest struct {
	Subject      string   `json:"subject" binding:"required"`
	Reporter     string   `json:"reporter"`
	ReasonCodes  []string `json:"reasonCodes"`
	Priority     string   `json:"priority"`
	EvidenceRefs []string `json:"evidenceRefs"`
}

func (h *Handler) OpenCase(c *gin.Context) {
	var req openCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	id, err := h.service.OpenCase(c.Request.Context(),
		req.Subject, req.Reporter, req.ReasonCodes, req.Priority, req.EvidenceRefs)
	if err != nil {
		if err == ErrInvalidSubject {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"caseId": id})
}

func (h *Handler) Queue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	queue, err := h.service.Queue(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": queue, "count": len(queue)})
}

func (h *Handler) GetCase(c *gin.Context) {
	got, err := h.service.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "case_not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": got})
}

type closeCaseRequest struct {
	ModeratorID string `json:"moderatorId" binding:"required"`
	Outcome     string `json:"outcome" binding:"required"`
}

func (h *Handler) CloseCase(c *gin.Context) {
	var req closeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	closed, err := h.service.CloseCase(c.Request.Context(), c.Param("id"), req.ModeratorID, req.Outcome)
	if err != nil {
		switch err {
		case ErrNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "case_not_found", "message": err.Error()})
		case ErrAlreadyClosed:
			c.JSON(http.StatusConflict, gin.H{"error": "case_closed", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": closed})
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": history, "count": len(history)})
}
