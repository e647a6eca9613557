package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveryFilter narrows a delivery report. Zero values match everything.
type DeliveryFilter struct {
	QueueID   string
	Recipient string
	Status    model.MessageStatus
	Since     time.Time
	Limit     int
	Offset    int
}

// DeliveriesRepository is the ClickHouse delivery log.
type DeliveriesRepository interface {
	InsertBatch(ctx context.Context, rows []model.Delivery) error
	ListByTenant(ctx context.Context, tenantID string, f DeliveryFilter) ([]model.Delivery, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB
}

func NewDeliveriesRepository(ch *sqlx.DB) DeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

const insertDelivery = `
	INSERT INTO deliveries
	    (message_id, tenant_id, queue_id, recipient, channel_ref, status, retries, error, sent_at, recorded_at)
`

// InsertBatch sends the rows as one native ClickHouse block: the std driver
// buffers every Exec of the prepared statement until Commit.
func (r *chDeliveriesRepository) InsertBatch(ctx context.Context, rows []model.Delivery) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertDelivery)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range rows {
		if _, err := stmt.ExecContext(ctx,
			d.MessageID, d.TenantID, d.QueueID, d.Recipient, d.ChannelRef,
			d.Status, d.Retries, d.Error, d.SentAt, d.RecordedAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", d.MessageID, err)
		}
	}

	return tx.Commit()
}

func (r *chDeliveriesRepository) ListByTenant(ctx context.Context, tenantID string, f DeliveryFilter) ([]model.Delivery, error) {
	q, args := buildDeliveryQuery(tenantID, f)

	var rows []model.Delivery
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildDeliveryQuery(tenantID string, f DeliveryFilter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var b strings.Builder
	b.WriteString(`
		SELECT message_id, tenant_id, queue_id, recipient, channel_ref, status, retries, error, sent_at, recorded_at
		FROM deliveries
		WHERE tenant_id = ?`)
	args := []any{tenantID}

	if f.QueueID != "" {
		b.WriteString(" AND queue_id = ?")
		args = append(args, f.QueueID)
	}
	if f.Recipient != "" {
		b.WriteString(" AND recipient = ?")
		args = append(args, f.Recipient)
	}
	if f.Status != "" {
		b.WriteString(" AND status = ?")
		args = append(args, f.Status.String())
	}
	if !f.Since.IsZero() {
		b.WriteString(" AND recorded_at >= ?")
		args = append(args, f.Since)
	}

	b.WriteString(" ORDER BY recorded_at DESC LIMIT ? OFFSET ?")
	args = append(args, f.Limit, f.Offset)

	return b.String(), args
}
