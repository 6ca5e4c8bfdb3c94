package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/dispatch-backend/internal/types"
)

// RegisterBuiltins installs the handlers every deployment carries: echo for
// smoke tests and sleep for load drills.
func RegisterBuiltins(reg *Registry) error {
	if err := reg.Register(HandlerFunc{
		JobType: "echo",
		Fn: func(ctx context.Context, job *types.Job) (any, error) {
			var payload map[string]any
			if len(job.Payload) > 0 {
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return nil, fmt.Errorf("echo payload is not a JSON object: %w", err)
				}
			}
			return map[string]any{"echo": payload}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(HandlerFunc{
		JobType: "sleep",
		Fn: func(ctx context.Context, job *types.Job) (any, error) {
			var payload struct {
				DurationMs int `json:"duration_ms"`
			}
			if len(job.Payload) > 0 {
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return nil, fmt.Errorf("sleep payload invalid: %w", err)
				}
			}
			if payload.DurationMs <= 0 {
				payload.DurationMs = 1000
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(payload.DurationMs) * time.Millisecond):
			}
			return map[string]any{"slept_ms": payload.DurationMs}, nil
		},
	})
}
