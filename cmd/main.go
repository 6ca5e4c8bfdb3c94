package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yungbote/dispatch-backend/internal/app"
	"github.com/yungbote/dispatch-backend/internal/jobs"
	"github.com/yungbote/dispatch-backend/internal/utils"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := jobs.RegisterBuiltins(a.Registry); err != nil {
		a.Log.Fatal("Failed to register builtin handlers", "error", err)
	}

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", false)
	runScheduler := envTrue("RUN_SCHEDULER", false)

	// Start background roles (worker loop, schedule executor, orphan
	// recovery, webhook retries)
	a.Start(runWorker, runScheduler)

	if runServer {
		port := utils.GetEnv("PORT", "8080", a.Log)
		fmt.Printf("Server listening on :%s\n", port)
		if err := a.Run(":" + port); err != nil {
			a.Log.Warn("Server failed", "error", err)
		}
		return
	}

	// Worker/scheduler-only container: stay alive until the orchestrator
	// sends a termination signal, then let Close() join the loops.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	a.Log.Info("Termination signal received, shutting down")
}
