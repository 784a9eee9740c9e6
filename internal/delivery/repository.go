package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/platform/db"
)

// Repository persists goods deliveries in PostgreSQL. Allocation entries
// and recorded costing draws are stored per line as JSONB payloads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	CreateDelivery(ctx context.Context, gd GoodsDelivery) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetDeliveryForUpdate(ctx context.Context, id int64) (GoodsDelivery, error)
	GetLinesForUpdate(ctx context.Context, deliveryID int64) ([]Line, error)
	UpdateLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, deliveryID int64, status Status, completedAt *time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("delivery: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const gdColumns = "id, number, customer_id, plant_id, organization_id, status, delivery_date, note, created_by, completed_at, created_at, updated_at"

// Get loads a goods delivery with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (GoodsDelivery, error) {
	var gd GoodsDelivery
	err := r.pool.QueryRow(ctx, `SELECT `+gdColumns+` FROM goods_deliveries WHERE id=$1`, id).
		Scan(&gd.ID, &gd.Number, &gd.CustomerID, &gd.PlantID, &gd.OrganizationID, &gd.Status, &gd.DeliveryDate, &gd.Note, &gd.CreatedBy, &gd.CompletedAt, &gd.CreatedAt, &gd.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsDelivery{}, ErrDeliveryNotFound
		}
		return GoodsDelivery{}, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return GoodsDelivery{}, err
	}
	gd.Lines = lines
	return gd, nil
}

// List returns goods deliveries newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]GoodsDelivery, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_deliveries`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+gdColumns+` FROM goods_deliveries ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	deliveries := []GoodsDelivery{}
	for rows.Next() {
		var gd GoodsDelivery
		if err := rows.Scan(&gd.ID, &gd.Number, &gd.CustomerID, &gd.PlantID, &gd.OrganizationID, &gd.Status, &gd.DeliveryDate, &gd.Note, &gd.CreatedBy, &gd.CompletedAt, &gd.CreatedAt, &gd.UpdatedAt); err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, gd)
	}
	return deliveries, total, rows.Err()
}

const gdLineColumns = "id, delivery_id, material_id, qty, uom_id, base_qty, shortfall, temp_qty_data, fifo_draws"

func (r *Repository) listLines(ctx context.Context, deliveryID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+gdLineColumns+` FROM goods_delivery_lines WHERE delivery_id=$1 ORDER BY id ASC`, deliveryID)
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
		var entryData, drawData []byte
		if err := rows.Scan(&line.ID, &line.DeliveryID, &line.MaterialID, &line.Qty, &line.UOMID, &line.BaseQty, &line.Shortfall, &entryData, &drawData); err != nil {
			return nil, err
		}
		entries, err := allocation.Unmarshal(entryData)
		if err != nil {
			return nil, err
		}
		line.Entries = entries
		if len(drawData) > 0 {
			if err := json.Unmarshal(drawData, &line.Draws); err != nil {
				return nil, err
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) CreateDelivery(ctx context.Context, gd GoodsDelivery) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_deliveries (number, customer_id, plant_id, organization_id, status, delivery_date, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id`,
		gd.Number, gd.CustomerID, gd.PlantID, gd.OrganizationID, string(gd.Status), gd.DeliveryDate, gd.Note, gd.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return 0, err
	}
	drawData, err := json.Marshal(line.Draws)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO goods_delivery_lines (delivery_id, material_id, qty, uom_id, base_qty, shortfall, temp_qty_data, fifo_draws)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.DeliveryID, line.MaterialID, line.Qty, line.UOMID, line.BaseQty, line.Shortfall, entryData, drawData).Scan(&id)
	return id, err
}

func (r *txRepository) GetDeliveryForUpdate(ctx context.Context, id int64) (GoodsDelivery, error) {
	var gd GoodsDelivery
	err := r.tx.QueryRow(ctx, `SELECT `+gdColumns+` FROM goods_deliveries WHERE id=$1 FOR UPDATE`, id).
		Scan(&gd.ID, &gd.Number, &gd.CustomerID, &gd.PlantID, &gd.OrganizationID, &gd.Status, &gd.DeliveryDate, &gd.Note, &gd.CreatedBy, &gd.CompletedAt, &gd.CreatedAt, &gd.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsDelivery{}, ErrDeliveryNotFound
	}
	return gd, err
}

func (r *txRepository) GetLinesForUpdate(ctx context.Context, deliveryID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+gdLineColumns+` FROM goods_delivery_lines WHERE delivery_id=$1 ORDER BY id ASC FOR UPDATE`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// UpdateLine rewrites quantities, entries and recorded draws.
func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return err
	}
	drawData, err := json.Marshal(line.Draws)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE goods_delivery_lines SET qty=$2, base_qty=$3, shortfall=$4, temp_qty_data=$5, fifo_draws=$6 WHERE id=$1`,
		line.ID, line.Qty, line.BaseQty, line.Shortfall, entryData, drawData)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, deliveryID int64, status Status, completedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_deliveries SET status=$2, completed_at=COALESCE($3, completed_at), updated_at=NOW() WHERE id=$1`,
		deliveryID, string(status), completedAt)
	return err
}
