package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/dispatch-backend/internal/clients/redis"
	"github.com/yungbote/dispatch-backend/internal/db"
	"github.com/yungbote/dispatch-backend/internal/jobs"
	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/metrics"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/recovery"
	"github.com/yungbote/dispatch-backend/internal/scheduler"
	"github.com/yungbote/dispatch-backend/internal/server"
	"github.com/yungbote/dispatch-backend/internal/webhooks"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Redis    *goredis.Client
	Queue    *queue.Manager
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Registry *jobs.Registry
	Webhooks *webhooks.Dispatcher

	cancel context.CancelFunc
	bg     *errgroup.Group
}

func New() (*App, error) {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	// Config
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	// Postgres
	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Redis
	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	// Queue manager
	qm := queue.NewManager(rdb, log, cfg.PriorityOffsets)
	// Repos
	reposet := wireRepos(theDB, log)
	// Services
	serviceset := wireServices(theDB, rdb, log, reposet, qm)
	// Handler registry + webhook outbox
	registry := jobs.NewRegistry()
	dispatcher := webhooks.NewDispatcher(log, reposet.WebhookEvent, cfg.Webhook)
	// Handlers
	handlerset := wireHandlers(log, serviceset)
	// Router
	router := server.NewRouter(server.RouterConfig{
		JobsHandler:       handlerset.Jobs,
		SchedulesHandler:  handlerset.Schedules,
		DeadLetterHandler: handlerset.DeadLetter,
		MetricsHandler:    handlerset.Metrics,
		HealthHandler:     handlerset.Health,
		AllowOrigins:      cfg.AllowOrigins,
	})

	return &App{
		Log:      log,
		DB:       theDB,
		Redis:    rdb,
		Queue:    qm,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		Registry: registry,
		Webhooks: dispatcher,
	}, nil
}

// Start launches the requested background roles. The metrics poller always
// runs; worker and scheduler roles are opt-in so each container can run
// exactly one responsibility. The API surface is served by Run, not Start.
func (a *App) Start(runWorker, runScheduler bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	a.bg = g

	poller := metrics.NewPoller(a.Log, a.Cfg.MetricsPollInterval, a.Queue, a.Repos.Worker)
	g.Go(func() error { return ignoreCancel(poller.Run(gctx)) })

	if runWorker {
		processor := jobs.NewProcessor(a.Log, a.Repos.Job, a.Repos.DeadLetter, a.Registry, a.Queue, a.Webhooks)
		workerCfg := jobs.DefaultWorkerConfig()
		if a.Cfg.WorkerName != "" {
			workerCfg.Name = a.Cfg.WorkerName
		}
		workerCfg.Concurrency = a.Cfg.WorkerConcurrency
		workerCfg.PollInterval = a.Cfg.PollInterval
		workerCfg.HeartbeatInterval = a.Cfg.HeartbeatInterval
		workerCfg.PromoteInterval = a.Cfg.PromoteInterval
		worker := jobs.NewWorker(a.Log, workerCfg, a.Repos.Worker, a.Repos.Job, a.Queue, processor)
		g.Go(func() error { return ignoreCancel(worker.Start(gctx)) })
	}

	if runScheduler {
		hostname, _ := os.Hostname()
		holder := fmt.Sprintf("%s-%d", hostname, os.Getpid())

		executorCfg := scheduler.DefaultExecutorConfig(holder)
		executorCfg.CheckInterval = a.Cfg.SchedulerCheckInterval
		executor := scheduler.NewExecutor(a.Log, executorCfg, a.Repos.Schedule, a.Services.Job, a.Queue)
		g.Go(func() error { return ignoreCancel(executor.Run(gctx)) })

		recoveryCfg := recovery.DefaultConfig()
		recoveryCfg.CheckInterval = a.Cfg.OrphanCheckInterval
		recoveryCfg.StaleThreshold = a.Cfg.OrphanStaleThreshold
		recoveryCfg.RecoveryDelay = a.Cfg.OrphanRecoveryDelay
		orphans := recovery.New(a.Log, recoveryCfg, a.Repos.Worker, a.Repos.Job, a.Queue)
		g.Go(func() error { return ignoreCancel(orphans.Run(gctx)) })

		retries := webhooks.NewRetryProcessor(a.Log, a.Repos.WebhookEvent, a.Webhooks, a.Cfg.Webhook)
		g.Go(func() error { return ignoreCancel(retries.Run(gctx)) })
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bg != nil {
		if err := a.bg.Wait(); err != nil {
			a.Log.Warn("Background task exited with error", "error", err)
		}
		a.bg = nil
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
