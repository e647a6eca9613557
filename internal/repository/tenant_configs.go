package repository

import (
	"context"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmoiron/sqlx"
)

// TenantConfigRepository stores per-tenant dispatch overrides. NULL columns
// mean "use the default".
type TenantConfigRepository interface {
	broadcast.ConfigStore
	Upsert(ctx context.Context, tx *sqlx.Tx, tenantID string, o broadcast.TenantOverrides) error
}

type TenantConfigRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantConfigRepository(db *sqlx.DB) *TenantConfigRepositoryImpl {
	return &TenantConfigRepositoryImpl{db: db}
}

var _ TenantConfigRepository = (*TenantConfigRepositoryImpl)(nil)

type tenantConfigRow struct {
	TenantID string `db:"tenant_id"`
	broadcast.TenantOverrides
}

func (r *TenantConfigRepositoryImpl) LoadTenantConfigs(ctx context.Context) (map[string]broadcast.TenantOverrides, error) {
	var rows []tenantConfigRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id,
		       delay_between_messages_ms, delay_between_batches_ms, batch_size,
		       max_per_minute, max_per_hour, max_retries, retry_delay_ms,
		       allowed_hour_start, allowed_hour_end, timezone
		  FROM tenant_configs
	`)
	if err != nil {
		return nil, err
	}

	out := make(map[string]broadcast.TenantOverrides, len(rows))
	for _, row := range rows {
		out[row.TenantID] = row.TenantOverrides
	}
	return out, nil
}

// Upsert merges o into the stored row: columns whose field is nil keep
// their current value.
func (r *TenantConfigRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, tenantID string, o broadcast.TenantOverrides) error {
	const q = `
		INSERT INTO tenant_configs
		    (tenant_id, delay_between_messages_ms, delay_between_batches_ms, batch_size,
		     max_per_minute, max_per_hour, max_retries, retry_delay_ms,
		     allowed_hour_start, allowed_hour_end, timezone, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    delay_between_messages_ms = COALESCE(VALUES(delay_between_messages_ms), delay_between_messages_ms),
		    delay_between_batches_ms  = COALESCE(VALUES(delay_between_batches_ms), delay_between_batches_ms),
		    batch_size                = COALESCE(VALUES(batch_size), batch_size),
		    max_per_minute            = COALESCE(VALUES(max_per_minute), max_per_minute),
		    max_per_hour              = COALESCE(VALUES(max_per_hour), max_per_hour),
		    max_retries               = COALESCE(VALUES(max_retries), max_retries),
		    retry_delay_ms            = COALESCE(VALUES(retry_delay_ms), retry_delay_ms),
		    allowed_hour_start        = COALESCE(VALUES(allowed_hour_start), allowed_hour_start),
		    allowed_hour_end          = COALESCE(VALUES(allowed_hour_end), allowed_hour_end),
		    timezone                  = COALESCE(VALUES(timezone), timezone),
		    updated_at                = NOW()
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			tenantID,
			o.DelayBetweenMessagesMs, o.DelayBetweenBatchesMs, o.BatchSize,
			o.MaxPerMinute, o.MaxPerHour, o.MaxRetries, o.RetryDelayMs,
			o.AllowedHourStart, o.AllowedHourEnd, o.Timezone,
		)
		return err
	})
}
