package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAgingWarmup rebuilds the aging report cache for active complexes.
	TaskAgingWarmup = "collections:aging_warmup"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "billing:idempotency_cleanup"
)

// AgingWarmupPayload scopes a warmup run. An empty ComplexIDs slice means
// every active complex.
type AgingWarmupPayload struct {
	ComplexIDs []int64 `json:"complex_ids,omitempty"`
}

// NewAgingWarmupTask constructs an aging warmup task.
func NewAgingWarmupTask(payload AgingWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgingWarmup, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
