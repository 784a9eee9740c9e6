package plants

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/masterdata/shared"
)

// Repository persists plant master records.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Plant, int, error)
	Get(ctx context.Context, id int64) (Plant, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const plantColumns = "id, organization_id, code, name, common_bin_id, is_active, created_at, updated_at"

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Plant, int, error) {
	query := `SELECT ` + plantColumns + ` FROM plants WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM plants WHERE 1=1`
	args := []any{}
	countArgs := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		countArgs = append(countArgs, "%"+filters.Search+"%")
		query += ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
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
	out := []Plant{}
	for rows.Next() {
		var p Plant
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Code, &p.Name, &p.CommonBinID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Plant, error) {
	var p Plant
	err := r.pool.QueryRow(ctx, `SELECT `+plantColumns+` FROM plants WHERE id=$1`, id).
		Scan(&p.ID, &p.OrganizationID, &p.Code, &p.Name, &p.CommonBinID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plant{}, shared.ErrNotFound
		}
		return Plant{}, err
	}
	return p, nil
}
