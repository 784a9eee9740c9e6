package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceAudit verifies the category-sum invariant over every
	// balance record.
	TaskBalanceAudit = "balance:conservation_audit"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BalanceAuditPayload tunes one conservation audit run.
type BalanceAuditPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Epsilon      float64   `json:"epsilon,omitempty"`
}

// NewBalanceAuditTask constructs an Asynq task for the conservation audit.
func NewBalanceAuditTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BalanceAuditPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceAudit, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload bounds the retention window for processed keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
