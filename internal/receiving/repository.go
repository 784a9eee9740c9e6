package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/platform/db"
)

// Repository persists goods receipts in PostgreSQL. Putaway entries are
// stored on each line as a JSONB temp_qty_data payload.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	CreateReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	GetLinesForUpdate(ctx context.Context, receiptID int64) ([]Line, error)
	UpdateLine(ctx context.Context, line Line) error
	SetLineLot(ctx context.Context, lineID, lotID int64) error
	UpdateStatus(ctx context.Context, receiptID int64, status Status, completedAt *time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receiving: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const grColumns = "id, number, po_id, plant_id, organization_id, status, received_date, note, created_by, completed_at, created_at, updated_at"

// Get loads a goods receipt with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := r.pool.QueryRow(ctx, `SELECT `+grColumns+` FROM goods_receipts WHERE id=$1`, id).
		Scan(&gr.ID, &gr.Number, &gr.POID, &gr.PlantID, &gr.OrganizationID, &gr.Status, &gr.ReceivedDate, &gr.Note, &gr.CreatedBy, &gr.CompletedAt, &gr.CreatedAt, &gr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrReceiptNotFound
		}
		return GoodsReceipt{}, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Lines = lines
	return gr, nil
}

// List returns goods receipts newest first, optionally scoped to one
// purchase order.
func (r *Repository) List(ctx context.Context, poID int64, limit, offset int) ([]GoodsReceipt, int, error) {
	if limit <= 0 {
		limit = 20
	}
	where := ""
	countArgs := []any{}
	args := []any{limit, offset}
	if poID > 0 {
		where = " WHERE po_id=$1"
		countArgs = append(countArgs, poID)
		args = []any{poID, limit, offset}
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limitClause := ` ORDER BY id DESC LIMIT $1 OFFSET $2`
	if poID > 0 {
		limitClause = ` ORDER BY id DESC LIMIT $2 OFFSET $3`
	}
	rows, err := r.pool.Query(ctx, `SELECT `+grColumns+` FROM goods_receipts`+where+limitClause, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	receipts := []GoodsReceipt{}
	for rows.Next() {
		var gr GoodsReceipt
		if err := rows.Scan(&gr.ID, &gr.Number, &gr.POID, &gr.PlantID, &gr.OrganizationID, &gr.Status, &gr.ReceivedDate, &gr.Note, &gr.CreatedBy, &gr.CompletedAt, &gr.CreatedAt, &gr.UpdatedAt); err != nil {
			return nil, 0, err
		}
		receipts = append(receipts, gr)
	}
	return receipts, total, rows.Err()
}

const lineColumns = "id, receipt_id, po_line_id, material_id, qty, uom_id, base_qty, unit_cost, batch_id, fifo_lot_id, temp_qty_data"

func (r *Repository) listLines(ctx context.Context, receiptID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id ASC`, receiptID)
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
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.POLineID, &line.MaterialID, &line.Qty, &line.UOMID, &line.BaseQty, &line.UnitCost, &line.BatchID, &line.FIFOLotID, &entryData); err != nil {
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

func (r *txRepository) CreateReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, plant_id, organization_id, status, received_date, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id`,
		gr.Number, gr.POID, gr.PlantID, gr.OrganizationID, string(gr.Status), gr.ReceivedDate, gr.Note, gr.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines (receipt_id, po_line_id, material_id, qty, uom_id, base_qty, unit_cost, batch_id, fifo_lot_id, temp_qty_data)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9) RETURNING id`,
		line.ReceiptID, line.POLineID, line.MaterialID, line.Qty, line.UOMID, line.BaseQty, line.UnitCost, line.BatchID, entryData).Scan(&id)
	return id, err
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := r.tx.QueryRow(ctx, `SELECT `+grColumns+` FROM goods_receipts WHERE id=$1 FOR UPDATE`, id).
		Scan(&gr.ID, &gr.Number, &gr.POID, &gr.PlantID, &gr.OrganizationID, &gr.Status, &gr.ReceivedDate, &gr.Note, &gr.CreatedBy, &gr.CompletedAt, &gr.CreatedAt, &gr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrReceiptNotFound
	}
	return gr, err
}

func (r *txRepository) GetLinesForUpdate(ctx context.Context, receiptID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id ASC FOR UPDATE`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// UpdateLine rewrites the quantity fields and the planned putaway entries.
func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	entryData, err := allocation.Marshal(line.Entries)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE goods_receipt_lines SET qty=$2, base_qty=$3, temp_qty_data=$4 WHERE id=$1`,
		line.ID, line.Qty, line.BaseQty, entryData)
	return err
}

func (r *txRepository) SetLineLot(ctx context.Context, lineID, lotID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipt_lines SET fifo_lot_id=$2 WHERE id=$1`, lineID, lotID)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, receiptID int64, status Status, completedAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET status=$2, completed_at=COALESCE($3, completed_at), updated_at=NOW() WHERE id=$1`,
		receiptID, string(status), completedAt)
	return err
}
