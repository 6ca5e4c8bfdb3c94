package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/dispatch-backend/internal/handlers"
	"github.com/yungbote/dispatch-backend/internal/middleware"
)

type RouterConfig struct {
	JobsHandler       *handlers.JobsHandler
	SchedulesHandler  *handlers.SchedulesHandler
	DeadLetterHandler *handlers.DeadLetterHandler
	MetricsHandler    *handlers.MetricsHandler
	HealthHandler     *handlers.HealthHandler

	AllowOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.RequestID())

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	router.GET("/health/live", cfg.HealthHandler.Live)
	router.GET("/health/ready", cfg.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/jobs", cfg.JobsHandler.CreateJob)
		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.CancelJob)

		api.POST("/schedules", cfg.SchedulesHandler.CreateSchedule)
		api.GET("/schedules", cfg.SchedulesHandler.ListSchedules)
		api.GET("/schedules/:id", cfg.SchedulesHandler.GetScheduleByID)
		api.PATCH("/schedules/:id", cfg.SchedulesHandler.UpdateSchedule)
		api.DELETE("/schedules/:id", cfg.SchedulesHandler.DeleteSchedule)
		api.POST("/schedules/:id/enable", cfg.SchedulesHandler.EnableSchedule)
		api.POST("/schedules/:id/disable", cfg.SchedulesHandler.DisableSchedule)
		api.POST("/schedules/:id/trigger", cfg.SchedulesHandler.TriggerSchedule)
		api.GET("/schedules/:id/next-runs", cfg.SchedulesHandler.NextRuns)

		api.GET("/dead-letter", cfg.DeadLetterHandler.ListDeadLetter)
		api.GET("/dead-letter/stats", cfg.DeadLetterHandler.DeadLetterStats)
		api.GET("/dead-letter/:id", cfg.DeadLetterHandler.GetDeadLetterByID)
		api.POST("/dead-letter/:id/retry", cfg.DeadLetterHandler.RetryDeadLetter)
		api.DELETE("/dead-letter/:id", cfg.DeadLetterHandler.DeleteDeadLetter)

		api.GET("/metrics/overview", cfg.MetricsHandler.Overview)
		api.GET("/metrics/queue", cfg.MetricsHandler.QueueStats)
	}

	return router
}
