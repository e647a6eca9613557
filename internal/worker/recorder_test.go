package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memWriter struct {
	mu      sync.Mutex
	batches [][]model.Delivery
	err     error
}

func (w *memWriter) InsertBatch(_ context.Context, rows []model.Delivery) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]model.Delivery(nil), rows...))
	return nil
}

func (w *memWriter) rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func (w *memWriter) batchSizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, 0, len(w.batches))
	for _, b := range w.batches {
		out = append(out, len(b))
	}
	return out
}

func finished(id string) model.Message {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return model.Message{
		ID: id, TenantID: "acme", QueueID: "q1", To: "100",
		ChannelRef: "sales", Status: model.StatusSent, Retries: 1, SentAt: &at,
	}
}

func TestDeliveryRecorder_FlushesOnBatchSize(t *testing.T) {
	w := &memWriter{}
	r := NewDeliveryRecorder(w, 16, zaptest.NewLogger(t))
	r.BatchSize = 3
	r.BatchWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"a", "b", "c", "d"} {
		r.Record(finished(id))
	}

	require.Eventually(t, func() bool { return w.rows() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []int{3, 1}, w.batchSizes(), "remaining rows are flushed on shutdown")

	first := w.batches[0][0]
	assert.Equal(t, "a", first.MessageID)
	assert.Equal(t, "sent", first.Status)
	assert.Equal(t, uint8(1), first.Retries)
	assert.Equal(t, "sales", first.ChannelRef)
}

func TestDeliveryRecorder_FlushesOnInterval(t *testing.T) {
	w := &memWriter{}
	r := NewDeliveryRecorder(w, 16, nil)
	r.BatchSize = 100
	r.BatchWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Record(finished("a"))
	require.Eventually(t, func() bool { return w.rows() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDeliveryRecorder_RecordNeverBlocks(t *testing.T) {
	w := &memWriter{}
	r := NewDeliveryRecorder(w, 2, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Record(finished("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Len(t, r.in, 2)
}

func TestDeliveryRecorder_WriteErrorDropsBatch(t *testing.T) {
	w := &memWriter{err: errors.New("clickhouse down")}
	r := NewDeliveryRecorder(w, 16, zaptest.NewLogger(t))
	r.BatchSize = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Record(finished("a"))
	require.Eventually(t, func() bool { return len(r.in) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, w.rows())
}
