package fifo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists costing lots in fifo_costing_history.
type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn against a transactional view of the repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error {
	if r == nil || r.pool == nil {
		return errors.New("fifo: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &Repository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListForUpdate(ctx context.Context, materialID, plantID, organizationID int64) ([]CostingRecord, error) {
	if r.tx == nil {
		return nil, errors.New("fifo: ListForUpdate requires a transaction")
	}
	rows, err := r.tx.Query(ctx, `SELECT id, material_id, plant_id, organization_id, batch_id, fifo_sequence, fifo_available_quantity, unit_cost, received_at
FROM fifo_costing_history
WHERE material_id=$1 AND plant_id=$2 AND organization_id=$3
ORDER BY fifo_sequence ASC, id ASC
FOR UPDATE`, materialID, plantID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []CostingRecord{}
	for rows.Next() {
		var rec CostingRecord
		if err := rows.Scan(&rec.ID, &rec.MaterialID, &rec.PlantID, &rec.OrganizationID, &rec.BatchID, &rec.Sequence, &rec.AvailableQty, &rec.UnitCost, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) SetAvailable(ctx context.Context, recordID int64, available float64) error {
	if r.tx == nil {
		return errors.New("fifo: SetAvailable requires a transaction")
	}
	_, err := r.tx.Exec(ctx, `UPDATE fifo_costing_history SET fifo_available_quantity=$2 WHERE id=$1`, recordID, available)
	return err
}

func (r *Repository) Append(ctx context.Context, rec CostingRecord) (int64, error) {
	if r.tx == nil {
		return 0, errors.New("fifo: Append requires a transaction")
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO fifo_costing_history (material_id, plant_id, organization_id, batch_id, fifo_sequence, fifo_available_quantity, unit_cost, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		rec.MaterialID, rec.PlantID, rec.OrganizationID, rec.BatchID, rec.Sequence, rec.AvailableQty, rec.UnitCost).Scan(&id)
	return id, err
}
