package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"go.uber.org/zap"
)

// DeliveryWriter persists a batch of delivery rows.
type DeliveryWriter interface {
	InsertBatch(ctx context.Context, rows []model.Delivery) error
}

// DeliveryRecorder buffers terminal messages from every tenant queue and
// writes them to the delivery log in batches (size or time, whichever comes
// first). Record never blocks: when the buffer is full the row is dropped
// and counted.
type DeliveryRecorder struct {
	Writer    DeliveryWriter
	BatchSize int           // max rows per insert
	BatchWait time.Duration // max time a row waits for its batch
	Log       *zap.Logger

	in  chan model.Delivery
	now func() time.Time
}

var _ broadcast.Recorder = (*DeliveryRecorder)(nil)

func NewDeliveryRecorder(w DeliveryWriter, buffer int, log *zap.Logger) *DeliveryRecorder {
	if buffer <= 0 {
		buffer = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryRecorder{
		Writer:    w,
		BatchSize: 500,
		BatchWait: 2 * time.Second,
		Log:       log.Named("deliveries"),
		in:        make(chan model.Delivery, buffer),
		now:       time.Now,
	}
}

func (r *DeliveryRecorder) Record(m model.Message) {
	select {
	case r.in <- model.DeliveryFromMessage(m, r.now()):
	default:
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left
// with a short detached deadline.
func (r *DeliveryRecorder) Run(ctx context.Context) {
	if r.BatchSize <= 0 {
		r.BatchSize = 500
	}
	if r.BatchWait <= 0 {
		r.BatchWait = 2 * time.Second
	}

	buf := make([]model.Delivery, 0, r.BatchSize)
	tick := time.NewTicker(r.BatchWait)
	defer tick.Stop()

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := r.Writer.InsertBatch(ctx, buf); err != nil {
			metrics.DeliveriesTotal.WithLabelValues("failed").Add(float64(len(buf)))
			r.Log.Error("delivery log write failed", zap.Int("rows", len(buf)), zap.Error(err))
		} else {
			metrics.DeliveriesTotal.WithLabelValues("written").Add(float64(len(buf)))
			r.Log.Debug("delivery log flushed", zap.Int("rows", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case d := <-r.in:
					buf = append(buf, d)
				default:
					break drain
				}
			}
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return

		case d := <-r.in:
			buf = append(buf, d)
			if len(buf) >= r.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
