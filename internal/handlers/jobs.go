package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/dispatch-backend/internal/services"
	"github.com/yungbote/dispatch-backend/internal/types"
)

type JobsHandler struct {
	jobs services.JobService
}

func NewJobsHandler(jobs services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// POST /api/jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var input services.CreateJobInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), input)
	if err != nil {
		RespondServiceError(c, "create_job_failed", err)
		return
	}
	RespondCreated(c, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, "job_not_found", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs?status=&limit=&offset=
func (h *JobsHandler) ListJobs(c *gin.Context) {
	var status *types.JobStatus
	if raw := c.Query("status"); raw != "" {
		s := types.JobStatus(raw)
		status = &s
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.jobs.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		RespondServiceError(c, "list_jobs_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": items, "total": total})
}

// POST /api/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, "cancel_job_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
