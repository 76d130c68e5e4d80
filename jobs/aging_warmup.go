package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vesta-hoa/vesta/internal/collections"
)

// ComplexLister yields the complexes a warmup run should cover.
type ComplexLister interface {
	ListActiveComplexIDs(ctx context.Context) ([]int64, error)
}

// AgingReporter builds aging reports, populating the report cache as a side
// effect.
type AgingReporter interface {
	Aging(ctx context.Context, complexID int64, asOf time.Time) (*collections.AgingReport, error)
}

// AgingWarmupJob pre-builds aging reports off the request path so the first
// morning read of each complex hits a warm cache.
type AgingWarmupJob struct {
	lister   ComplexLister
	reporter AgingReporter
	logger   *slog.Logger
}

// NewAgingWarmupJob constructs the warmup job.
func NewAgingWarmupJob(lister ComplexLister, reporter AgingReporter, logger *slog.Logger) *AgingWarmupJob {
	return &AgingWarmupJob{lister: lister, reporter: reporter, logger: logger}
}

// Handle processes TaskAgingWarmup tasks. A failing complex is logged and
// skipped, one bad scope must not starve the rest of the run.
func (j *AgingWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AgingWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	ids := payload.ComplexIDs
	if len(ids) == 0 {
		var err error
		ids, err = j.lister.ListActiveComplexIDs(ctx)
		if err != nil {
			return err
		}
	}

	// Reports are cached per UTC day, so warming against the day start
	// produces the same cache entries the read path looks up later on.
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	warmed := 0
	for _, id := range ids {
		if _, err := j.reporter.Aging(ctx, id, asOf); err != nil {
			j.logger.Warn("aging warmup", slog.Int64("complex_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.logger.Info("aging warmup done", slog.Int("complexes", warmed), slog.Int("requested", len(ids)))
	return nil
}
