package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-wms/atlas-wms/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindToken(ctx context.Context, id string) (*Token, error)
	TouchToken(ctx context.Context, id string, usedAt time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindToken fetches a token by its public id.
func (r *PGRepository) FindToken(ctx context.Context, id string) (*Token, error) {
	var t Token
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, name, secret_hash, is_active, expires_at, created_at, last_used_at
FROM api_tokens WHERE id=$1`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.SecretHash, &t.IsActive, &t.ExpiresAt, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TouchToken records the last successful use for auditing.
func (r *PGRepository) TouchToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at=$2 WHERE id=$1`, id, usedAt.UTC())
	return err
}

var _ Repository = (*PGRepository)(nil)
