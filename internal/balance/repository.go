package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists balance records in PostgreSQL across the three
// balance collections.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Filter scopes a balance lookup. Zero-valued fields are not applied.
type Filter struct {
	Shape          Shape
	MaterialID     int64
	PlantID        int64
	OrganizationID int64
	LocationID     int64
	BatchID        string
	SerialNumber   string
}

func (f Filter) shape() Shape {
	if f.Shape != "" {
		return f.Shape
	}
	if f.SerialNumber != "" {
		return ShapeSerial
	}
	if f.BatchID != "" {
		return ShapeBatch
	}
	return ShapePlain
}

const recordColumns = "material_id, plant_id, organization_id, location_id, unrestricted_qty, reserved_qty, block_qty, qualityinsp_qty, intransit_qty, balance_quantity, updated_at"

// Find returns records matching the filter. An empty result is not an
// error.
func (r *Repository) Find(ctx context.Context, filter Filter) ([]Record, error) {
	if r == nil {
		return nil, errors.New("balance: repository not initialised")
	}
	shape := filter.shape()
	cols := recordColumns
	switch shape {
	case ShapeBatch:
		cols += ", batch_id"
	case ShapeSerial:
		cols += ", serial_number"
	}
	where := []string{"material_id=$1", "organization_id=$2"}
	args := []any{filter.MaterialID, filter.OrganizationID}
	if filter.PlantID != 0 {
		args = append(args, filter.PlantID)
		where = append(where, fmt.Sprintf("plant_id=$%d", len(args)))
	}
	if filter.LocationID != 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id=$%d", len(args)))
	}
	if shape == ShapeBatch && filter.BatchID != "" {
		args = append(args, filter.BatchID)
		where = append(where, fmt.Sprintf("batch_id=$%d", len(args)))
	}
	if shape == ShapeSerial && filter.SerialNumber != "" {
		args = append(args, filter.SerialNumber)
		where = append(where, fmt.Sprintf("serial_number=$%d", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY location_id ASC, id ASC", cols, shape, strings.Join(where, " AND "))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("balance: query %s: %w", shape, err)
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, shape)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows pgx.Rows, shape Shape) (Record, error) {
	var rec Record
	dest := []any{
		&rec.MaterialID, &rec.PlantID, &rec.OrganizationID, &rec.LocationID,
		&rec.UnrestrictedQty, &rec.ReservedQty, &rec.BlockQty, &rec.QualityInspQty,
		&rec.InTransitQty, &rec.BalanceQty, &rec.UpdatedAt,
	}
	switch shape {
	case ShapeBatch:
		dest = append(dest, &rec.BatchID)
	case ShapeSerial:
		dest = append(dest, &rec.SerialNumber)
	}
	if err := rows.Scan(dest...); err != nil {
		return Record{}, fmt.Errorf("balance: scan %s: %w", shape, err)
	}
	return rec, nil
}

// UpdateRecord loads the record for the key under row lock, applies fn and
// writes the result back, all within one transaction. A missing row starts
// from a zero record; records are never deleted, only zeroed.
func (r *Repository) UpdateRecord(ctx context.Context, key Key, fn func(*Record) error) (Record, error) {
	if r == nil {
		return Record{}, errors.New("balance: repository not initialised")
	}
	shape := key.Shape()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := lockRecord(ctx, tx, key, shape)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}
	if errors.Is(err, ErrRecordNotFound) {
		rec = Record{Key: key}
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	if err := upsertRecord(ctx, tx, rec, shape); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, key Key, shape Shape) (Record, error) {
	where := "material_id=$1 AND plant_id=$2 AND organization_id=$3 AND location_id=$4"
	args := []any{key.MaterialID, key.PlantID, key.OrganizationID, key.LocationID}
	cols := recordColumns
	switch shape {
	case ShapeBatch:
		cols += ", batch_id"
		where += " AND batch_id=$5"
		args = append(args, key.BatchID)
	case ShapeSerial:
		cols += ", serial_number"
		where += " AND serial_number=$5"
		args = append(args, key.SerialNumber)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s FOR UPDATE", cols, shape, where)
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return Record{}, fmt.Errorf("balance: lock %s: %w", shape, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, ErrRecordNotFound
	}
	return scanRecord(rows, shape)
}

func upsertRecord(ctx context.Context, tx pgx.Tx, rec Record, shape Shape) error {
	keyCols := "material_id, plant_id, organization_id, location_id"
	keyArgs := []any{rec.MaterialID, rec.PlantID, rec.OrganizationID, rec.LocationID}
	switch shape {
	case ShapeBatch:
		keyCols += ", batch_id"
		keyArgs = append(keyArgs, rec.BatchID)
	case ShapeSerial:
		keyCols += ", serial_number"
		keyArgs = append(keyArgs, rec.SerialNumber)
	}
	placeholders := make([]string, 0, len(keyArgs)+6)
	args := append([]any{}, keyArgs...)
	for i := range keyArgs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	for _, v := range []float64{rec.UnrestrictedQty, rec.ReservedQty, rec.BlockQty, rec.QualityInspQty, rec.InTransitQty, rec.BalanceQty} {
		args = append(args, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, unrestricted_qty, reserved_qty, block_qty, qualityinsp_qty, intransit_qty, balance_quantity, updated_at)
VALUES (%s, NOW())
ON CONFLICT (%s) DO UPDATE SET
unrestricted_qty=EXCLUDED.unrestricted_qty, reserved_qty=EXCLUDED.reserved_qty, block_qty=EXCLUDED.block_qty,
qualityinsp_qty=EXCLUDED.qualityinsp_qty, intransit_qty=EXCLUDED.intransit_qty, balance_quantity=EXCLUDED.balance_quantity, updated_at=NOW()`,
		shape, keyCols, strings.Join(placeholders, ","), keyCols)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("balance: upsert %s: %w", shape, err)
	}
	return nil
}
