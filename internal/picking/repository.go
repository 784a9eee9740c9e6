package picking

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/platform/db"
)

// Repository persists transfer orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	CreateOrder(ctx context.Context, to TransferOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (TransferOrder, error)
	GetLinesForUpdate(ctx context.Context, orderID int64) ([]Line, error)
	UpdateLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, orderID int64, status Status, completedAt *time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("picking: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const toColumns = "id, number, plant_id, organization_id, dest_location_id, picking_status, note, created_by, completed_at, created_at, updated_at"

// Get loads a transfer order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (TransferOrder, error) {
	var to TransferOrder
	err := r.pool.QueryRow(ctx, `SELECT `+toColumns+` FROM transfer_orders WHERE id=$1`, id).
		Scan(&to.ID, &to.Number, &to.PlantID, &to.OrganizationID, &to.DestLocationID, &to.Status, &to.Note, &to.CreatedBy, &to.CompletedAt, &to.CreatedAt, &to.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransferOrder{}, ErrOrderNotFound
		}
		return TransferOrder{}, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return TransferOrder{}, err
	}
	to.Lines = lines
	return to, nil
}

// List returns transfer orders newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]TransferOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+toColumns+` FROM transfer_orders ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders := []TransferOrder{}
	for rows.Next() {
		var to TransferOrder
		if err := rows.Scan(&to.ID, &to.Number, &to.PlantID, &to.OrganizationID, &to.DestLocationID, &to.Status, &to.Note, &to.CreatedBy, &to.CompletedAt, &to.CreatedAt, &to.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, to)
	}
	return orders, total, rows.Err()
}

const toLineColumns = "id, order_id, material_id, qty_to_pick, picked_qty, uom_id, temp_qty_data"

func (r *Repository) listLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+toLineColumns+` FROM transfer_order_lines WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	lines := []Line{}
	for rows.Next() {
		var line Line
		var entryData []byte
		if err := rows.Scan(&line.ID, &line.OrderID, &line.MaterialID, &line.QtyToPick, &line.PickedQty, &line.UOMID, &entryData); err != nil {
			return nil, err
		}
		entries, err := allocation.Unmarshal(entryData)
		if err != nil {
			return nil, err
		}
		line.Entries = entries
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) CreateOrder(ctx context.Context, to TransferOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfer_orders (number, plant_id, organization_id, dest_location_id, picking_status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		to.Number, to.PlantID, to.OrganizationID, to.DestLocationID, string(to.Status), to.Note, to.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO transfer_order_lines (order_id, material_id, qty_to_pick, picked_qty, uom_id, temp_qty_data)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		line.OrderID, line.MaterialID, line.QtyToPick, line.PickedQty, line.UOMID, entryData).Scan(&id)
	return id, err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (TransferOrder, error) {
	var to TransferOrder
	err := r.tx.QueryRow(ctx, `SELECT `+toColumns+` FROM transfer_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&to.ID, &to.Number, &to.PlantID, &to.OrganizationID, &to.DestLocationID, &to.Status, &to.Note, &to.CreatedBy, &to.CompletedAt, &to.CreatedAt, &to.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransferOrder{}, ErrOrderNotFound
	}
	return to, err
}

func (r *txRepository) GetLinesForUpdate(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+toLineColumns+` FROM transfer_order_lines WHERE order_id=$1 ORDER BY id ASC FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// UpdateLine rewrites the picked quantity and redistributed entries.
func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE transfer_order_lines SET picked_qty=$2, temp_qty_data=$3 WHERE id=$1`,
		line.ID, line.PickedQty, entryData)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, orderID int64, status Status, completedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_orders SET picking_status=$2, completed_at=COALESCE($3, completed_at), updated_at=NOW() WHERE id=$1`,
		orderID, string(status), completedAt)
	return err
}
