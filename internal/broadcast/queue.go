package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmehdipour/wa-broadcaster/internal/util"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a queue re-checks the rate budget while
// both windows are exhausted.
const DefaultPollInterval = time.Second

var (
	errStopped = errors.New("queue stopped")
	errDrained = errors.New("queue drained")
)

// Progress is a point-in-time view of a queue. Sent+Failed+Pending always
// equals Total.
type Progress struct {
	Total                  int           `json:"total"`
	Sent                   int           `json:"sent"`
	Failed                 int           `json:"failed"`
	Pending                int           `json:"pending"`
	CurrentBatch           int           `json:"current_batch"`
	TotalBatches           int           `json:"total_batches"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
}

// Stats is the operator view of a queue.
type Stats struct {
	TenantID string      `json:"tenant_id"`
	QueueID  string      `json:"queue_id"`
	Progress Progress    `json:"progress"`
	Running  bool        `json:"running"`
	Backlog  int         `json:"backlog"`
	Minute   WindowUsage `json:"minute"`
	Hour     WindowUsage `json:"hour"`
	Config   QueueConfig `json:"config"`
}

// MarshalJSON renders Config with the millisecond field names of the config
// API.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	return json.Marshal(struct {
		plain
		Config queueConfigJSON `json:"config"`
	}{plain(s), queueConfigView(s.Config)})
}

func (s *Stats) UnmarshalJSON(b []byte) error {
	type plain Stats
	var v struct {
		plain
		Config queueConfigJSON `json:"config"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Stats(v.plain)
	s.Config = v.Config.queueConfig()
	return nil
}

// QueueOptions are the collaborators of a Queue. Zero values select a no-op
// logger and recorder, the system clock and DefaultPollInterval.
type QueueOptions struct {
	Logger       *zap.Logger
	Recorder     Recorder
	Clock        Clock
	PollInterval time.Duration
}

// Queue owns one tenant's backlog, rate budget and processing loop.
//
// All mutable state is guarded by mu. The sends of a batch run on their own
// goroutines, so the single-flight guard alone is not enough here.
type Queue struct {
	id       string
	tenantID string
	cfg      QueueConfig
	gw       Gateway
	log      *zap.Logger
	rec      Recorder
	clock    Clock
	poll     time.Duration

	mu           sync.Mutex
	backlog      []*model.Message
	limiter      rateLimiter
	total        int
	sent         int
	failed       int
	pending      int
	currentBatch int
	totalBatches int
	running      bool
	stopping     bool
}

func NewQueue(tenantID string, cfg QueueConfig, gw Gateway, opts QueueOptions) *Queue {
	cfg = cfg.normalized()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	id := util.NewID()
	return &Queue{
		id:       id,
		tenantID: tenantID,
		cfg:      cfg,
		gw:       gw,
		log:      opts.Logger.With(zap.String("tenant", tenantID), zap.String("queue", id)),
		rec:      opts.Recorder,
		clock:    opts.Clock,
		poll:     opts.PollInterval,
		limiter:  newRateLimiter(cfg.MaxPerMinute, cfg.MaxPerHour),
	}
}

func (q *Queue) ID() string          { return q.id }
func (q *Queue) TenantID() string    { return q.tenantID }
func (q *Queue) Config() QueueConfig { return q.cfg }

func normalizeOutbound(o model.OutboundMessage) (model.OutboundMessage, bool) {
	o.To = util.NormalizeRecipient(o.To)
	o.Body = strings.TrimSpace(o.Body)
	return o, o.To != "" && o.Body != ""
}

// AddMessages appends the messages to the back of the backlog and returns
// the ones it accepted. Entries without a recipient or body after
// normalization are skipped. It is safe to call while the queue is
// processing; the running loop picks them up.
func (q *Queue) AddMessages(msgs []model.OutboundMessage) []model.Message {
	now := q.clock.Now()
	added := make([]model.Message, 0, len(msgs))

	q.mu.Lock()
	for _, o := range msgs {
		o, ok := normalizeOutbound(o)
		if !ok {
			continue
		}
		m := &model.Message{
			ID:         util.NewIDAt(now),
			TenantID:   q.tenantID,
			QueueID:    q.id,
			To:         o.To,
			Body:       o.Body,
			ChannelRef: o.ChannelRef,
			Credential: o.Credential,
			Status:     model.StatusPending,
			CreatedAt:  now,
		}
		q.backlog = append(q.backlog, m)
		added = append(added, *m)
	}
	q.total += len(added)
	q.pending += len(added)
	q.totalBatches = ceilDiv(q.total, q.cfg.BatchSize)
	q.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues("queued").Add(float64(len(added)))
	q.log.Debug("messages queued", zap.Int("count", len(added)))

	return added
}

// StartProcessing drains the backlog and returns when it is empty, when Stop
// was called, or when ctx is done. It fails with ErrAlreadyProcessing if a
// loop is already active.
func (q *Queue) StartProcessing(ctx context.Context) error {
	if !q.begin() {
		return ErrAlreadyProcessing
	}
	return q.run(ctx)
}

// begin claims the running flag.
func (q *Queue) begin() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return false
	}
	q.running = true
	q.stopping = false
	metrics.RunningCampaigns.Inc()
	return true
}

func (q *Queue) run(ctx context.Context) (err error) {
	start := q.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s: processing panic: %v", q.id, r)
		}
		q.mu.Lock()
		q.running = false
		q.stopping = false
		q.mu.Unlock()
		metrics.RunningCampaigns.Dec()

		p := q.Progress()
		q.log.Info("processing finished",
			zap.Int("total", p.Total),
			zap.Int("sent", p.Sent),
			zap.Int("failed", p.Failed),
			zap.Int("pending", p.Pending),
			zap.Duration("dur", q.clock.Now().Sub(start)),
			zap.Error(err),
		)
	}()

	q.log.Info("processing started", zap.Int("backlog", q.backlogLen()))

	for {
		if err := q.awaitCapacity(ctx); err != nil {
			if errors.Is(err, errStopped) || errors.Is(err, errDrained) {
				return nil
			}
			return err
		}

		batch, n := q.takeBatch()
		if len(batch) == 0 {
			return nil
		}
		metrics.BatchesTotal.Inc()
		q.log.Debug("batch dispatched", zap.Int("batch", n), zap.Int("size", len(batch)))

		q.dispatch(ctx, batch)

		if q.backlogLen() == 0 {
			return nil
		}
		if err := q.clock.Sleep(ctx, q.cfg.DelayBetweenBatches); err != nil {
			return err
		}
	}
}

// awaitCapacity blocks until both rate windows have room, polling at a fixed
// interval. It is also where Stop takes effect.
func (q *Queue) awaitCapacity(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		switch {
		case q.stopping:
			q.mu.Unlock()
			return errStopped
		case len(q.backlog) == 0:
			q.mu.Unlock()
			return errDrained
		case q.limiter.hasCapacity(q.clock.Now()):
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		if err := q.clock.Sleep(ctx, q.poll); err != nil {
			return err
		}
	}
}

func (q *Queue) takeBatch() ([]*model.Message, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(q.cfg.BatchSize, len(q.backlog))
	if n == 0 {
		return nil, q.currentBatch
	}
	batch := make([]*model.Message, n)
	copy(batch, q.backlog[:n])
	q.backlog = q.backlog[n:]

	for _, m := range batch {
		m.Status = model.StatusSending
	}
	q.currentBatch++
	return batch, q.currentBatch
}

// dispatch sends a batch concurrently and waits for every message. Budget is
// claimed in backlog order and sends are staggered by DelayBetweenMessages.
// Messages that found no budget go back to the front in their original order.
func (q *Queue) dispatch(ctx context.Context, batch []*model.Message) {
	deferred := make([]bool, len(batch))
	turns := make([]chan struct{}, len(batch))
	for i := range turns {
		turns[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i, m := range batch {
		wg.Add(1)
		go func(slot int, m *model.Message) {
			defer wg.Done()
			if slot > 0 {
				<-turns[slot-1]
			}
			deferred[slot] = q.deliver(ctx, slot, m, sync.OnceFunc(func() { close(turns[slot]) }))
		}(i, m)
	}
	wg.Wait()

	var front []*model.Message
	for i, d := range deferred {
		if d {
			front = append(front, batch[i])
		}
	}
	if len(front) > 0 {
		q.requeueFront(front)
	}
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeInterrupted
)

// deliver runs one message through the state machine. It reports true when
// the message must return to the front of the backlog untouched. next hands
// the turn to the following slot once this one's request has been issued, or
// once it is known that no request will be.
func (q *Queue) deliver(ctx context.Context, slot int, m *model.Message, next func()) bool {
	defer next()

	if slot > 0 && q.cfg.DelayBetweenMessages > 0 {
		if err := q.clock.Sleep(ctx, q.cfg.DelayBetweenMessages); err != nil {
			return true
		}
	}

	q.mu.Lock()
	ok := q.limiter.reserve(q.clock.Now())
	q.mu.Unlock()
	if !ok {
		next()
		metrics.MessagesTotal.WithLabelValues("deferred").Inc()
		q.log.Debug("no rate budget, message deferred", zap.String("message_id", m.ID))
		return true
	}

	started := time.Now()
	err := q.send(WithSendStarted(ctx, next), m)
	next()
	metrics.SendDuration.Observe(time.Since(started).Seconds())

	now := q.clock.Now()
	q.mu.Lock()
	q.limiter.settle(now, err == nil)
	res := q.settleMessage(ctx, m, err, now)
	snap := *m
	q.mu.Unlock()

	switch res {
	case outcomeSent:
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
		q.rec.Record(snap)
	case outcomeFailed:
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		q.log.Warn("message failed",
			zap.String("message_id", snap.ID),
			zap.Int("retries", snap.Retries),
			zap.Error(err),
		)
		q.rec.Record(snap)
	case outcomeRetried:
		metrics.MessagesTotal.WithLabelValues("retried").Inc()
		q.log.Debug("send failed, retry scheduled",
			zap.String("message_id", snap.ID),
			zap.Int("retries", snap.Retries),
			zap.Duration("delay", q.cfg.RetryDelay),
			zap.Error(err),
		)
		_ = q.clock.Sleep(ctx, q.cfg.RetryDelay)
	case outcomeInterrupted:
		return true
	}
	return false
}

// send isolates a panicking gateway from the rest of the batch.
func (q *Queue) send(ctx context.Context, m *model.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()

	return q.gw.Send(ctx, SendRequest{
		ChannelRef: m.ChannelRef,
		Credential: m.Credential,
		To:         m.To,
		Body:       m.Body,
	})
}

// settleMessage applies the result of a send. Caller holds mu.
func (q *Queue) settleMessage(ctx context.Context, m *model.Message, err error, now time.Time) outcome {
	switch {
	case err == nil:
		m.Status = model.StatusSent
		m.SentAt = &now
		m.Error = ""
		q.sent++
		q.pending--
		return outcomeSent
	case ctx.Err() != nil:
		// shutdown, not the provider: keep the retry budget
		return outcomeInterrupted
	case m.Retries < q.cfg.MaxRetries:
		m.Retries++
		m.Status = model.StatusPending
		m.Error = err.Error()
		q.backlog = append(q.backlog, m)
		return outcomeRetried
	default:
		m.Status = model.StatusFailed
		m.Error = err.Error()
		q.failed++
		q.pending--
		return outcomeFailed
	}
}

func (q *Queue) requeueFront(msgs []*model.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range msgs {
		m.Status = model.StatusPending
	}
	q.backlog = append(append(make([]*model.Message, 0, len(msgs)+len(q.backlog)), msgs...), q.backlog...)
}

func (q *Queue) backlogLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// IsProcessing reports whether a processing loop is active.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stop asks the active loop to exit before its next batch. Sends already in
// flight complete normally.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		q.stopping = true
	}
}

// Clear drops the backlog and resets progress. The caller must Stop the queue
// and wait for IsProcessing to turn false first; clearing under an active
// loop leaves in-flight messages writing into the reset counters.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.backlog = nil
	q.total = 0
	q.sent = 0
	q.failed = 0
	q.pending = 0
	q.currentBatch = 0
	q.totalBatches = 0
}

func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.progressLocked()
}

func (q *Queue) progressLocked() Progress {
	eta := time.Duration(ceilDiv(q.pending, q.cfg.BatchSize))*q.cfg.DelayBetweenBatches +
		time.Duration(q.pending)*q.cfg.DelayBetweenMessages

	return Progress{
		Total:                  q.total,
		Sent:                   q.sent,
		Failed:                 q.failed,
		Pending:                q.pending,
		CurrentBatch:           q.currentBatch,
		TotalBatches:           q.totalBatches,
		EstimatedTimeRemaining: eta,
	}
}

func (q *Queue) Stats() Stats {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		TenantID: q.tenantID,
		QueueID:  q.id,
		Progress: q.progressLocked(),
		Running:  q.running,
		Backlog:  len(q.backlog),
		Minute:   q.limiter.minute.usage(now),
		Hour:     q.limiter.hour.usage(now),
		Config:   q.cfg,
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 || a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
