package app

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/queue"
	"github.com/yungbote/dispatch-backend/internal/types"
	"github.com/yungbote/dispatch-backend/internal/utils"
	"github.com/yungbote/dispatch-backend/internal/webhooks"
)

type Config struct {
	AllowOrigins []string

	WorkerName        string
	WorkerConcurrency int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PromoteInterval   time.Duration

	SchedulerCheckInterval time.Duration

	OrphanCheckInterval  time.Duration
	OrphanStaleThreshold time.Duration
	OrphanRecoveryDelay  time.Duration

	Webhook webhooks.Config

	MetricsPollInterval time.Duration

	PriorityOffsets queue.Offsets
}

// fileOverlay is the optional CONFIG_FILE yaml document. Only knobs that are
// awkward as single env vars live here.
type fileOverlay struct {
	PriorityOffsetsMs struct {
		Critical *int64 `yaml:"critical"`
		High     *int64 `yaml:"high"`
		Normal   *int64 `yaml:"normal"`
		Low      *int64 `yaml:"low"`
	} `yaml:"priority_offsets_ms"`
	AllowOrigins []string `yaml:"allow_origins"`
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		WorkerName:        utils.GetEnv("WORKER_NAME", "", log),
		WorkerConcurrency: utils.GetEnvAsInt("WORKER_CONCURRENCY", 1, log),
		PollInterval:      utils.GetEnvAsDuration("WORKER_POLL_INTERVAL_MS", 1*time.Second, log),
		HeartbeatInterval: utils.GetEnvAsDuration("WORKER_HEARTBEAT_INTERVAL_MS", 30*time.Second, log),
		PromoteInterval:   utils.GetEnvAsDuration("WORKER_PROMOTE_INTERVAL_MS", 5*time.Second, log),

		SchedulerCheckInterval: utils.GetEnvAsDuration("SCHEDULER_CHECK_INTERVAL_MS", 10*time.Second, log),

		OrphanCheckInterval:  utils.GetEnvAsDuration("ORPHAN_CHECK_INTERVAL_MS", 60*time.Second, log),
		OrphanStaleThreshold: utils.GetEnvAsDuration("ORPHAN_STALE_THRESHOLD_MS", 90*time.Second, log),
		OrphanRecoveryDelay:  utils.GetEnvAsDuration("ORPHAN_RECOVERY_DELAY_MS", 5*time.Second, log),

		Webhook: webhooks.Config{
			Timeout:        utils.GetEnvAsDuration("WEBHOOK_TIMEOUT_MS", 10*time.Second, log),
			MaxAttempts:    utils.GetEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 3, log),
			RetryInterval:  utils.GetEnvAsDuration("WEBHOOK_RETRY_INTERVAL_MS", 30*time.Second, log),
			RetryBaseDelay: utils.GetEnvAsDuration("WEBHOOK_RETRY_BASE_DELAY_MS", 5*time.Second, log),
			RetryMaxDelay:  utils.GetEnvAsDuration("WEBHOOK_RETRY_MAX_DELAY_MS", 5*time.Minute, log),
			BatchSize:      utils.GetEnvAsInt("WEBHOOK_RETRY_BATCH_SIZE", 50, log),
		},

		MetricsPollInterval: utils.GetEnvAsDuration("METRICS_POLL_INTERVAL_MS", 15*time.Second, log),

		PriorityOffsets: queue.DefaultOffsets(),
	}

	if origins := utils.GetEnv("ALLOW_ORIGINS", "", log); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}

	applyFileOverlay(&cfg, log)
	return cfg
}

func applyFileOverlay(cfg *Config, log *logger.Logger) {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read config file, keeping env/default config", "path", path, "error", err)
		return
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		log.Warn("Could not parse config file, keeping env/default config", "path", path, "error", err)
		return
	}

	if v := overlay.PriorityOffsetsMs.Critical; v != nil {
		cfg.PriorityOffsets[types.PriorityCritical] = *v
	}
	if v := overlay.PriorityOffsetsMs.High; v != nil {
		cfg.PriorityOffsets[types.PriorityHigh] = *v
	}
	if v := overlay.PriorityOffsetsMs.Normal; v != nil {
		cfg.PriorityOffsets[types.PriorityNormal] = *v
	}
	if v := overlay.PriorityOffsetsMs.Low; v != nil {
		cfg.PriorityOffsets[types.PriorityLow] = *v
	}
	if len(overlay.AllowOrigins) > 0 {
		cfg.AllowOrigins = overlay.AllowOrigins
	}
	log.Info("Applied config file overlay", "path", path)
}
