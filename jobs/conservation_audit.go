package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/atlas-wms/atlas-wms/internal/jobs"
)

// ConservationAuditJob scans every balance record and reports rows whose
// category sub-quantities no longer sum to the balance quantity. The audit
// only reports; repairs stay a manual operation.
type ConservationAuditJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConservationAuditJob initialises the audit handler.
func NewConservationAuditJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConservationAuditJob {
	return &ConservationAuditJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the conservation audit.
func (j *ConservationAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("conservation audit: handler not configured")
	}
	var payload BalanceAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Epsilon <= 0 {
		payload.Epsilon = 0.0005
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskBalanceAudit)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Float64("epsilon", payload.Epsilon))
	logger.Info("starting conservation audit")

	scanned := 0
	violations := 0
	for _, shape := range []string{"item_balance", "item_batch_balance", "item_serial_balance"} {
		n, v, err := j.scanShape(ctx, shape, payload.Epsilon)
		if err != nil {
			resultErr = err
			logger.Error("audit failed", slog.String("shape", shape), slog.Any("error", err))
			return resultErr
		}
		scanned += n
		violations += v
	}

	logger.Info("completed conservation audit",
		slog.Int("records", scanned),
		slog.Int("violations", violations),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ConservationAuditJob) scanShape(ctx context.Context, shape string, eps float64) (int, int, error) {
	if j.Pool == nil {
		return 0, 0, errors.New("conservation audit: pool not configured")
	}
	query := fmt.Sprintf(`SELECT material_id, plant_id, organization_id, location_id,
unrestricted_qty + reserved_qty + block_qty + qualityinsp_qty + intransit_qty, balance_quantity
FROM %s`, shape)
	rows, err := j.Pool.Query(ctx, query)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	scanned := 0
	violations := 0
	for rows.Next() {
		var materialID, plantID, organizationID, locationID int64
		var sum, balance float64
		if err := rows.Scan(&materialID, &plantID, &organizationID, &locationID, &sum, &balance); err != nil {
			return scanned, violations, err
		}
		scanned++
		if math.Abs(sum-balance) <= eps {
			continue
		}
		violations++
		j.logger().Warn("balance record out of conservation",
			slog.String("shape", shape),
			slog.Int64("material_id", materialID),
			slog.Int64("plant_id", plantID),
			slog.Int64("location_id", locationID),
			slog.Float64("category_sum", sum),
			slog.Float64("balance_quantity", balance),
		)
		j.metrics().AddViolations(shape, plantID, organizationID, 1)
	}
	return scanned, violations, rows.Err()
}

func (j *ConservationAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ConservationAuditJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}
