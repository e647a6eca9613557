package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/kafka"
	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"go.uber.org/zap"
)

// Source is the part of kafka.Consumer the intake needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Submitter admits campaigns; *broadcast.Manager implements it.
type Submitter interface {
	AddMessages(tenantID string, msgs []model.OutboundMessage) broadcast.Result
}

// Intake feeds broadcast requests from Kafka into the manager. Every record
// is committed after one admission attempt, so a rejected campaign (tenant
// busy, outside hours) is logged and dropped rather than redelivered.
type Intake struct {
	Source    Source
	Submitter Submitter
	Log       *zap.Logger
	Backoff   time.Duration // pause after a fetch error
}

func NewIntake(src Source, sub Submitter, log *zap.Logger) *Intake {
	if log == nil {
		log = zap.NewNop()
	}
	return &Intake{Source: src, Submitter: sub, Log: log.Named("intake"), Backoff: 200 * time.Millisecond}
}

// Run blocks until ctx is cancelled.
func (w *Intake) Run(ctx context.Context) error {
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.Backoff):
			}
			continue
		}

		w.handle(m)

		if err := w.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
			w.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (w *Intake) handle(m kafka.Message) {
	var req model.BroadcastRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		metrics.IntakeTotal.WithLabelValues("invalid").Inc()
		w.Log.Warn("bad broadcast request", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	// Keyed records carry the tenant in the key when the payload omits it.
	if req.TenantID == "" {
		req.TenantID = string(m.Key)
	}

	res := w.Submitter.AddMessages(req.TenantID, req.Messages)
	if !res.Success {
		result := "rejected"
		if errors.Is(res.Err, broadcast.ErrInvalidMessage) || errors.Is(res.Err, broadcast.ErrNoMessages) ||
			errors.Is(res.Err, broadcast.ErrEmptyTenant) {
			result = "invalid"
		}
		metrics.IntakeTotal.WithLabelValues(result).Inc()
		w.Log.Warn("broadcast request rejected",
			zap.String("tenant", req.TenantID),
			zap.String("request_id", req.RequestID),
			zap.Error(res.Err),
		)
		return
	}

	metrics.IntakeTotal.WithLabelValues("accepted").Inc()
	w.Log.Info("broadcast request accepted",
		zap.String("tenant", req.TenantID),
		zap.String("request_id", req.RequestID),
		zap.String("queue", res.QueueID),
		zap.Int("messages", len(req.Messages)),
	)
}
