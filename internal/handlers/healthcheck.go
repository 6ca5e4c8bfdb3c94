package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dispatch-backend/internal/services"
)

type HealthHandler struct {
	health services.HealthService
}

func NewHealthHandler(health services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	report := h.health.Ready(c.Request.Context())
	status := http.StatusOK
	if report.State == services.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
