package items

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/masterdata/shared"
)

// Repository persists item master records.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error)
	Get(ctx context.Context, id int64) (Item, error)
	GetByCode(ctx context.Context, code string) (Item, error)
	Create(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, id int64, item Item) error
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const itemColumns = "id, code, name, base_uom_id, item_batch_management, serial_number_management, stock_control, table_uom_conversion, default_bins, is_active, created_at, updated_at"

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM items WHERE 1=1`
	args := []any{}
	countArgs := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		countArgs = append(countArgs, "%"+filters.Search+"%")
		cond := ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += cond
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		query += ` AND is_active=$` + strconv.Itoa(len(args))
		countArgs = append(countArgs, *filters.IsActive)
		countQuery += ` AND is_active=$` + strconv.Itoa(len(countArgs))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY code ASC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id)
	return scanItemRow(row)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE code=$1`, code)
	return scanItemRow(row)
}

func (r *repository) Create(ctx context.Context, item Item) (Item, error) {
	conversions, bins, err := encodeJSON(item)
	if err != nil {
		return Item{}, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO items (code, name, base_uom_id, item_batch_management, serial_number_management, stock_control, table_uom_conversion, default_bins, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		item.Code, item.Name, item.BaseUOMID, item.BatchManagement, item.SerialManagement, item.StockControl, conversions, bins).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, shared.ErrDuplicate
		}
		return Item{}, err
	}
	item.IsActive = true
	return item, nil
}

func (r *repository) Update(ctx context.Context, id int64, item Item) error {
	conversions, bins, err := encodeJSON(item)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE items SET name=$2, base_uom_id=$3, item_batch_management=$4, serial_number_management=$5, stock_control=$6, table_uom_conversion=$7, default_bins=$8, updated_at=NOW()
WHERE id=$1`, id, item.Name, item.BaseUOMID, item.BatchManagement, item.SerialManagement, item.StockControl, conversions, bins)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET is_active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func encodeJSON(item Item) ([]byte, []byte, error) {
	conversions, err := json.Marshal(item.Conversions)
	if err != nil {
		return nil, nil, err
	}
	bins, err := json.Marshal(item.DefaultBins)
	if err != nil {
		return nil, nil, err
	}
	return conversions, bins, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemRow(row rowScanner) (Item, error) {
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return item, err
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var conversions, bins []byte
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.BaseUOMID, &item.BatchManagement,
		&item.SerialManagement, &item.StockControl, &conversions, &bins, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	if len(conversions) > 0 {
		if err := json.Unmarshal(conversions, &item.Conversions); err != nil {
			return Item{}, err
		}
	}
	if len(bins) > 0 {
		if err := json.Unmarshal(bins, &item.DefaultBins); err != nil {
			return Item{}, err
		}
	}
	return item, nil
}
