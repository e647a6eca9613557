package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmoiron/sqlx"
)

type TenantsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, t model.Tenant) error
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

// GetByAPIKey returns nil, nil for an unknown key.
func (r *TenantsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM tenants
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert is keyed by id; the api_key is rotated in place.
func (r *TenantsRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, t model.Tenant) error {
	const q = `
		INSERT INTO tenants
		    (id, name, api_key, status, rate_limit_rps, created_at, updated_at)
		VALUES
		    (?,  ?,    ?,       ?,      ?,              NOW(),      NOW())
		ON DUPLICATE KEY UPDATE
		    name           = VALUES(name),
		    api_key        = VALUES(api_key),
		    status         = VALUES(status),
		    rate_limit_rps = VALUES(rate_limit_rps),
		    updated_at     = NOW()
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, t.ID, t.Name, t.APIKey, t.Status, t.RateLimitRPS)
		return err
	})
}

func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}
