package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
	jobmetrics "github.com/mise-kitchen/mise-kitchen/internal/jobs"
)

// AvailabilityWarmupJob pre-populates per-location stock snapshots so the
// first selection after a cache bump does not pay the load.
type AvailabilityWarmupJob struct {
	Catalog *catalog.Service
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAvailabilityWarmupJob wires dependencies for the warmup handler.
func NewAvailabilityWarmupJob(catalogSvc *catalog.Service, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *AvailabilityWarmupJob {
	return &AvailabilityWarmupJob{
		Catalog: catalogSvc,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes availability warmup tasks.
func (j *AvailabilityWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("availability warmup: handler not configured")
	}
	var payload AvailabilityWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAvailabilityWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger()
	logger.Info("starting availability warmup")

	locationIDs := payload.LocationIDs
	if len(locationIDs) == 0 {
		ids, err := j.fetchLocationIDs(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load warmup locations", slog.Any("error", err))
			return resultErr
		}
		locationIDs = ids
	}
	if len(locationIDs) == 0 {
		logger.Info("no locations discovered for warmup")
		return resultErr
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, locationID := range locationIDs {
		group.Go(func() error {
			warmCtx, cancel := context.WithTimeout(groupCtx, 20*time.Second)
			defer cancel()
			if _, err := j.Catalog.ListStock(warmCtx, locationID); err != nil {
				logger.Error("warm location", slog.Int64("location_id", locationID), slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		resultErr = err
		return resultErr
	}

	logger.Info("completed availability warmup",
		slog.Int("locations", len(locationIDs)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AvailabilityWarmupJob) fetchLocationIDs(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("availability warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT id FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *AvailabilityWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAvailabilityWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAvailabilityWarmup))
}

func (j *AvailabilityWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AvailabilityWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
