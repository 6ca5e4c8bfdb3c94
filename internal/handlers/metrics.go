package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/dispatch-backend/internal/services"
)

type MetricsHandler struct {
	stats services.StatsService
	jobs  services.JobService
}

func NewMetricsHandler(stats services.StatsService, jobs services.JobService) *MetricsHandler {
	return &MetricsHandler{stats: stats, jobs: jobs}
}

// GET /api/metrics/overview
func (h *MetricsHandler) Overview(c *gin.Context) {
	overview, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		RespondServiceError(c, "metrics_overview_failed", err)
		return
	}
	RespondOK(c, overview)
}

// GET /api/metrics/queue
func (h *MetricsHandler) QueueStats(c *gin.Context) {
	stats, err := h.jobs.QueueStats(c.Request.Context())
	if err != nil {
		RespondServiceError(c, "queue_stats_failed", err)
		return
	}
	RespondOK(c, gin.H{"queue": stats})
}
