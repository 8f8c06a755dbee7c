package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mise-kitchen/mise-kitchen/internal/dispatch"
	jobmetrics "github.com/mise-kitchen/mise-kitchen/internal/jobs"
	"github.com/mise-kitchen/mise-kitchen/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StalePickLister loads pending picks created before the given cutoff.
type StalePickLister interface {
	ListStalePicks(ctx context.Context, olderThan time.Time) ([]dispatch.Record, error)
}

// StalePickScanJob surfaces pending picks that nobody confirmed or cancelled.
// Reservations are never released automatically; the scan only reports.
type StalePickScanJob struct {
	Repo    StalePickLister
	Audit   *shared.AuditLogger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	MaxAge  time.Duration
	clock   func() time.Time
}

// NewStalePickScanJob wires dependencies for the scan handler.
func NewStalePickScanJob(repo StalePickLister, audit *shared.AuditLogger, logger *slog.Logger, metrics *jobmetrics.Metrics, maxAge time.Duration) *StalePickScanJob {
	return &StalePickScanJob{
		Repo:    repo,
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		MaxAge:  maxAge,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes stale pick scan tasks.
func (j *StalePickScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("stale pick scan: handler not configured")
	}
	var payload StalePickScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	maxAge := j.MaxAge
	if payload.MaxAgeMinutes > 0 {
		maxAge = time.Duration(payload.MaxAgeMinutes) * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 4 * time.Hour
	}

	tracker := j.metrics().Track(TaskStalePickScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	cutoff := now.Add(-maxAge)
	logger := j.logger().With(slog.Duration("max_age", maxAge))
	logger.Info("starting stale pick scan")

	picks, err := j.Repo.ListStalePicks(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("list stale picks", slog.Any("error", err))
		return resultErr
	}

	perLocation := make(map[int64]int)
	for _, pick := range picks {
		perLocation[pick.LocationID]++
		logger.Warn("stale pending pick",
			slog.Int64("dispatch_id", pick.ID),
			slog.Int64("location_id", pick.LocationID),
			slog.String("staff", pick.StaffName),
			slog.Duration("age", now.Sub(pick.CreatedAt)),
		)
		if j.Audit != nil {
			_ = j.Audit.Record(ctx, shared.AuditLog{
				ActorName: "stale-pick-scan",
				Action:    "dispatch.pick.stale",
				Entity:    "dispatch",
				EntityID:  strconv.FormatInt(pick.ID, 10),
				Meta: map[string]any{
					"location_id": pick.LocationID,
					"age_minutes": int(now.Sub(pick.CreatedAt).Minutes()),
				},
			})
		}
	}
	for locationID, count := range perLocation {
		j.metrics().AddStalePicks(locationID, count)
	}

	logger.Info("completed stale pick scan",
		slog.Int("stale", len(picks)),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *StalePickScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStalePickScan))
	}
	return slog.Default().With(slog.String("job", TaskStalePickScan))
}

func (j *StalePickScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StalePickScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
