package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/platform/db"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	GetPOLinesForUpdate(ctx context.Context, poID int64) ([]POLine, error)
	AdjustLineClaim(ctx context.Context, lineID int64, kind ClaimKind, delta float64) error
	UpdateGRStatus(ctx context.Context, poID int64, status GRStatus) error
	UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const poColumns = "id, number, supplier_id, plant_id, organization_id, status, gr_status, expected_date, note, created_by, created_at"

// GetPO loads a purchase order with its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.PlantID, &po.OrganizationID, &po.Status, &po.GRStatus, &po.ExpectedDate, &po.Note, &po.CreatedBy, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrPONotFound
		}
		return PurchaseOrder{}, nil, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (r *Repository) listLines(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, material_id, qty, uom_id, price, created_received_qty, received_qty, note
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []POLine{}
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.MaterialID, &line.Qty, &line.UOMID, &line.Price, &line.CreatedReceivedQty, &line.ReceivedQty, &line.Note); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListPOs returns purchase orders newest first.
func (r *Repository) ListPOs(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+poColumns+` FROM purchase_orders ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	pos := []PurchaseOrder{}
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.PlantID, &po.OrganizationID, &po.Status, &po.GRStatus, &po.ExpectedDate, &po.Note, &po.CreatedBy, &po.CreatedAt); err != nil {
			return nil, 0, err
		}
		pos = append(pos, po)
	}
	return pos, total, rows.Err()
}

func (r *txRepository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, plant_id, organization_id, status, gr_status, expected_date, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.PlantID, po.OrganizationID, string(po.Status), string(po.GRStatus), po.ExpectedDate, po.Note, po.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, material_id, qty, uom_id, price, created_received_qty, received_qty, note)
VALUES ($1,$2,$3,$4,$5,0,0,$6) RETURNING id`,
		line.POID, line.MaterialID, line.Qty, line.UOMID, line.Price, line.Note).Scan(&id)
	return id, err
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.PlantID, &po.OrganizationID, &po.Status, &po.GRStatus, &po.ExpectedDate, &po.Note, &po.CreatedBy, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, err
}

func (r *txRepository) GetPOLinesForUpdate(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, po_id, material_id, qty, uom_id, price, created_received_qty, received_qty, note
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC FOR UPDATE`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []POLine{}
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.MaterialID, &line.Qty, &line.UOMID, &line.Price, &line.CreatedReceivedQty, &line.ReceivedQty, &line.Note); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// AdjustLineClaim applies a signed delta to one claim counter, flooring
// at zero so a reversal can never drive a claim negative.
func (r *txRepository) AdjustLineClaim(ctx context.Context, lineID int64, kind ClaimKind, delta float64) error {
	column := "created_received_qty"
	if kind == ClaimReceived {
		column = "received_qty"
	}
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET `+column+`=GREATEST(0, ROUND((`+column+`+$2)::numeric, 3)) WHERE id=$1`, lineID, delta)
	return err
}

func (r *txRepository) UpdateGRStatus(ctx context.Context, poID int64, status GRStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET gr_status=$2 WHERE id=$1`, poID, string(status))
	return err
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, poID, string(status))
	return err
}
