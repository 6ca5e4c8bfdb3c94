package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dispatch-backend/internal/services"
)

type DeadLetterHandler struct {
	dlq services.DeadLetterService
}

func NewDeadLetterHandler(dlq services.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{dlq: dlq}
}

// GET /api/dead-letter
func (h *DeadLetterHandler) ListDeadLetter(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	items, total, err := h.dlq.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondServiceError(c, "list_dead_letter_failed", err)
		return
	}
	RespondOK(c, gin.H{"dead_letter_jobs": items, "total": total})
}

// GET /api/dead-letter/:id
func (h *DeadLetterHandler) GetDeadLetterByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dead_letter_id", err)
		return
	}
	entry, err := h.dlq.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, "dead_letter_not_found", err)
		return
	}
	RespondOK(c, gin.H{"dead_letter_job": entry})
}

// POST /api/dead-letter/:id/retry
func (h *DeadLetterHandler) RetryDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dead_letter_id", err)
		return
	}
	job, err := h.dlq.Retry(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, "retry_dead_letter_failed", err)
		return
	}
	RespondCreated(c, gin.H{"job": job})
}

// DELETE /api/dead-letter/:id
func (h *DeadLetterHandler) DeleteDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dead_letter_id", err)
		return
	}
	if err := h.dlq.Delete(c.Request.Context(), id); err != nil {
		RespondServiceError(c, "delete_dead_letter_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// GET /api/dead-letter/stats
func (h *DeadLetterHandler) DeadLetterStats(c *gin.Context) {
	stats, err := h.dlq.Stats(c.Request.Context())
	if err != nil {
		RespondServiceError(c, "dead_letter_stats_failed", err)
		return
	}
	RespondOK(c, gin.H{"stats": stats})
}
