package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dispatch-backend/internal/services"
)

type SchedulesHandler struct {
	schedules services.ScheduleService
}

func NewSchedulesHandler(schedules services.ScheduleService) *SchedulesHandler {
	return &SchedulesHandler{schedules: schedules}
}

// POST /api/schedules
func (h *SchedulesHandler) CreateSchedule(c *gin.Context) {
	var input services.CreateScheduleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	schedule, err := h.schedules.Create(c.Request.Context(), input)
	if err != nil {
		RespondServiceError(c, "create_schedule_failed", err)
		return
	}
	RespondCreated(c, gin.H{"schedule": schedule})
}

// GET /api/schedules/:id
func (h *SchedulesHandler) GetScheduleByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	schedule, err := h.schedules.GetByID(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, "schedule_not_found", err)
		return
	}
	RespondOK(c, gin.H{"schedule": schedule})
}

// GET /api/schedules
func (h *SchedulesHandler) ListSchedules(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	items, total, err := h.schedules.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondServiceError(c, "list_schedules_failed", err)
		return
	}
	RespondOK(c, gin.H{"schedules": items, "total": total})
}

// PATCH /api/schedules/:id
func (h *SchedulesHandler) UpdateSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	var input services.UpdateScheduleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	schedule, err := h.schedules.Update(c.Request.Context(), id, input)
	if err != nil {
		RespondServiceError(c, "update_schedule_failed", err)
		return
	}
	RespondOK(c, gin.H{"schedule": schedule})
}

// DELETE /api/schedules/:id
func (h *SchedulesHandler) DeleteSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	if err := h.schedules.Delete(c.Request.Context(), id); err != nil {
		RespondServiceError(c, "delete_schedule_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// POST /api/schedules/:id/enable
func (h *SchedulesHandler) EnableSchedule(c *gin.Context) {
	h.setEnabled(c, true)
}

// POST /api/schedules/:id/disable
func (h *SchedulesHandler) DisableSchedule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *SchedulesHandler) setEnabled(c *gin.Context, enabled bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	schedule, err := h.schedules.SetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		RespondServiceError(c, "toggle_schedule_failed", err)
		return
	}
	RespondOK(c, gin.H{"schedule": schedule})
}

// POST /api/schedules/:id/trigger
func (h *SchedulesHandler) TriggerSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	job, err := h.schedules.TriggerNow(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, "trigger_schedule_failed", err)
		return
	}
	RespondCreated(c, gin.H{"job": job})
}

// GET /api/schedules/:id/next-runs?count=
func (h *SchedulesHandler) NextRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schedule_id", err)
		return
	}
	count, _ := strconv.Atoi(c.DefaultQuery("count", "5"))
	runs, err := h.schedules.NextRuns(c.Request.Context(), id, count)
	if err != nil {
		RespondServiceError(c, "next_runs_failed", err)
		return
	}
	RespondOK(c, gin.H{"next_runs": runs})
}
