package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
)

// fakeClock never blocks: Sleep moves its time forward and returns.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.mu.Lock()
		c.now = c.now.Add(d)
		c.mu.Unlock()
	}
	return nil
}

type sendCall struct {
	To string
	At time.Time
}

// fakeGateway records every attempt. failures[to] is how many leading
// attempts for that recipient fail; a negative value fails forever.
type fakeGateway struct {
	clock Clock

	mu       sync.Mutex
	entries  []string // recipients in the order Send was entered
	calls    []sendCall
	failures map[string]int
	attempts map[string]int

	// block, when set, holds every send until it is closed.
	block   chan struct{}
	entered chan string
}

func newFakeGateway(clock Clock) *fakeGateway {
	return &fakeGateway{
		clock:    clock,
		failures: map[string]int{},
		attempts: map[string]int{},
	}
}

var errProvider = errors.New("provider rejected message")

func (g *fakeGateway) Send(ctx context.Context, req SendRequest) error {
	g.mu.Lock()
	g.entries = append(g.entries, req.To)
	g.attempts[req.To]++
	n := g.attempts[req.To]
	left := g.failures[req.To]
	block, entered := g.block, g.entered
	g.mu.Unlock()
	MarkSendStarted(ctx)

	if entered != nil {
		entered <- req.To
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if left < 0 || n <= left {
		return errProvider
	}

	g.mu.Lock()
	g.calls = append(g.calls, sendCall{To: req.To, At: g.clock.Now()})
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) sent() []sendCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sendCall(nil), g.calls...)
}

func (g *fakeGateway) entryOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.entries...)
}

func (g *fakeGateway) attemptsFor(to string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[to]
}

type memRecorder struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *memRecorder) Record(m model.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *memRecorder) all() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Message(nil), r.msgs...)
}

func outbound(recipients ...string) []model.OutboundMessage {
	out := make([]model.OutboundMessage, 0, len(recipients))
	for _, to := range recipients {
		out = append(out, model.OutboundMessage{
			To:         to,
			Body:       "hello " + to,
			ChannelRef: "instance-1",
			Credential: "secret",
		})
	}
	return out
}

func fastConfig() QueueConfig {
	return QueueConfig{
		BatchSize:    10,
		MaxPerMinute: 1000,
		MaxPerHour:   10000,
		MaxRetries:   3,
	}
}

func recipients(calls []sendCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.To)
	}
	return out
}
