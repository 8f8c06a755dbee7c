package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStalePickScan flags pending picks that sat unconfirmed too long.
	TaskStalePickScan = "dispatch:stale_pick_scan"
	// TaskAvailabilityWarmup refreshes per-location stock snapshots.
	TaskAvailabilityWarmup = "catalog:availability_warmup"
	// TaskIdempotencyCleanup prunes expired request keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// StalePickScanPayload parameterises a stale pick scan run.
type StalePickScanPayload struct {
	// MaxAgeMinutes overrides the configured threshold when positive.
	MaxAgeMinutes int `json:"max_age_minutes,omitempty"`
}

// AvailabilityWarmupPayload parameterises a cache warmup run.
type AvailabilityWarmupPayload struct {
	// LocationIDs limits the warmup; empty means every location.
	LocationIDs []int64 `json:"location_ids,omitempty"`
}

// IdempotencyCleanupPayload parameterises a cleanup run.
type IdempotencyCleanupPayload struct {
	// RetentionHours overrides the configured retention when positive.
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewStalePickScanTask constructs an Asynq task.
func NewStalePickScanTask(payload StalePickScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStalePickScan, data), nil
}

// NewAvailabilityWarmupTask constructs an Asynq task.
func NewAvailabilityWarmupTask(payload AvailabilityWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAvailabilityWarmup, data), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
