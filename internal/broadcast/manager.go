package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"go.uber.org/zap"
)

// Result is the synchronous answer to a campaign submission. Admission
// failures are reported here, never as errors or panics.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	QueueID string `json:"queue_id,omitempty"`
	Err     error  `json:"-"`
}

func reject(err error) Result {
	return Result{Success: false, Message: err.Error(), Err: err}
}

// Manager owns one Queue and one TenantConfig per tenant and guarantees that
// a tenant never runs two campaigns at once.
//
// Build it with NewManager, adjust the exported knobs, then call Init before
// the first submission.
type Manager struct {
	// Defaults applies to tenants without stored overrides.
	Defaults TenantConfig
	// Recorder receives terminal messages of every queue.
	Recorder Recorder
	// Clock drives admission hours and queue pacing.
	Clock Clock
	// PollInterval is handed to every new queue.
	PollInterval time.Duration

	gw    Gateway
	store ConfigStore
	log   *zap.Logger

	mu      sync.Mutex
	configs map[string]TenantConfig
	queues  map[string]*Queue
	stale   map[string]bool // running queues evicted by a config change
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(gw Gateway, store ConfigStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		Defaults:     DefaultTenantConfig(),
		Recorder:     nopRecorder{},
		Clock:        SystemClock,
		PollInterval: DefaultPollInterval,
		gw:           gw,
		store:        store,
		log:          log.Named("broadcast"),
		configs:      make(map[string]TenantConfig),
		queues:       make(map[string]*Queue),
		stale:        make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Init loads per-tenant overrides. It never fails: an unreachable store
// leaves every tenant on Defaults.
func (m *Manager) Init(ctx context.Context) {
	m.LoadTenantConfigs(ctx)
}

// LoadTenantConfigs replaces stored configs with Defaults merged with the
// store's overrides. Errors are logged; whatever the store did return is
// still applied.
func (m *Manager) LoadTenantConfigs(ctx context.Context) int {
	if m.store == nil {
		return 0
	}

	overrides, err := m.store.LoadTenantConfigs(ctx)
	if err != nil {
		m.log.Warn("tenant config store unavailable, keeping defaults", zap.Error(err))
	}

	m.mu.Lock()
	for tenant, o := range overrides {
		m.configs[tenant] = m.Defaults.Merge(o)
	}
	m.mu.Unlock()

	m.log.Info("tenant configs loaded", zap.Int("tenants", len(overrides)))
	return len(overrides)
}

// TenantConfig returns the effective config of a tenant.
func (m *Manager) TenantConfig(tenantID string) TenantConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configLocked(tenantID)
}

func (m *Manager) configLocked(tenantID string) TenantConfig {
	cfg, ok := m.configs[tenantID]
	if !ok {
		cfg = m.Defaults.Merge(TenantOverrides{})
		m.configs[tenantID] = cfg
	}
	return cfg
}

// AddMessages admits a campaign for a tenant and starts processing it in the
// background.
func (m *Manager) AddMessages(tenantID string, msgs []model.OutboundMessage) Result {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return m.rejected(tenantID, "invalid", ErrEmptyTenant)
	}
	if len(msgs) == 0 {
		return m.rejected(tenantID, "invalid", ErrNoMessages)
	}
	for i, o := range msgs {
		if _, ok := normalizeOutbound(o); !ok {
			return m.rejected(tenantID, "invalid", fmt.Errorf("message %d: %w", i, ErrInvalidMessage))
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.rejected(tenantID, "closed", ErrManagerClosed)
	}
	cfg := m.configLocked(tenantID)

	now := m.Clock.Now().In(cfg.Location())
	if !cfg.AllowedHours.Contains(now.Hour()) {
		m.mu.Unlock()
		return m.rejected(tenantID, "outside_hours", fmt.Errorf("%w (%02d:00-%02d:00 %s)",
			ErrOutsideAllowedHours, cfg.AllowedHours.Start, cfg.AllowedHours.End, cfg.Location()))
	}

	q := m.queues[tenantID]
	if q != nil && q.IsProcessing() {
		m.mu.Unlock()
		return m.rejected(tenantID, "running", ErrCampaignRunning)
	}
	if q == nil || m.stale[tenantID] {
		q = m.newQueueLocked(tenantID, cfg)
	}

	if !q.begin() {
		m.mu.Unlock()
		return m.rejected(tenantID, "running", ErrCampaignRunning)
	}
	q.AddMessages(msgs)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.process(q)

	metrics.AdmissionsTotal.WithLabelValues("accepted").Inc()
	m.log.Info("campaign accepted",
		zap.String("tenant", tenantID),
		zap.String("queue", q.ID()),
		zap.Int("messages", len(msgs)),
	)

	return Result{
		Success: true,
		Message: fmt.Sprintf("%d messages queued", len(msgs)),
		QueueID: q.ID(),
	}
}

func (m *Manager) rejected(tenantID, outcome string, err error) Result {
	metrics.AdmissionsTotal.WithLabelValues(outcome).Inc()
	m.log.Info("campaign rejected", zap.String("tenant", tenantID), zap.Error(err))
	return reject(err)
}

func (m *Manager) newQueueLocked(tenantID string, cfg TenantConfig) *Queue {
	q := NewQueue(tenantID, cfg.QueueConfig, m.gw, QueueOptions{
		Logger:       m.log,
		Recorder:     m.Recorder,
		Clock:        m.Clock,
		PollInterval: m.PollInterval,
	})
	m.queues[tenantID] = q
	delete(m.stale, tenantID)
	return q
}

// process runs a claimed queue. Loop errors stay here.
func (m *Manager) process(q *Queue) {
	defer m.wg.Done()

	if err := q.run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error("campaign processing failed",
			zap.String("tenant", q.TenantID()),
			zap.String("queue", q.ID()),
			zap.Error(err),
		)
	}
}

func (m *Manager) queue(tenantID string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[tenantID]
}

// GetProgress reports false when the tenant never had a queue, which is not
// the same as a queue with zero progress.
func (m *Manager) GetProgress(tenantID string) (Progress, bool) {
	q := m.queue(tenantID)
	if q == nil {
		return Progress{}, false
	}
	return q.Progress(), true
}

func (m *Manager) GetStats(tenantID string) (Stats, bool) {
	q := m.queue(tenantID)
	if q == nil {
		return Stats{}, false
	}
	return q.Stats(), true
}

// GetAllStats returns one entry per tenant queue, ordered by tenant id.
func (m *Manager) GetAllStats() []Stats {
	m.mu.Lock()
	qs := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		qs = append(qs, q)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (m *Manager) StopQueue(tenantID string) error {
	q := m.queue(tenantID)
	if q == nil {
		return fmt.Errorf("stop %q: %w", tenantID, ErrNoQueue)
	}
	q.Stop()
	m.log.Info("campaign stop requested", zap.String("tenant", tenantID), zap.String("queue", q.ID()))
	return nil
}

// ClearQueue resets the tenant's queue. A running queue is refused with
// ErrCampaignRunning; Stop it and wait for it to go idle first.
func (m *Manager) ClearQueue(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[tenantID]
	if q == nil {
		return fmt.Errorf("clear %q: %w", tenantID, ErrNoQueue)
	}
	// admission claims the running flag under mu, so the check holds until Clear
	if q.IsProcessing() {
		return fmt.Errorf("clear %q: %w", tenantID, ErrCampaignRunning)
	}
	q.Clear()
	m.log.Info("campaign cleared", zap.String("tenant", tenantID), zap.String("queue", q.ID()))
	return nil
}

// UpdateTenantConfig merges o into the tenant's config and evicts its queue
// so the next campaign is built with the new values. A running queue keeps
// its old config until it finishes and is replaced on the next admission.
func (m *Manager) UpdateTenantConfig(tenantID string, o TenantOverrides) TenantConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.configLocked(tenantID).Merge(o)
	m.setConfigLocked(tenantID, cfg)
	return cfg
}

// ReloadTenants re-resolves the given tenants from the whole store, so a
// change in one source never shadows a stronger one. A tenant the store no
// longer knows falls back to Defaults. When the store fails nothing changes:
// a partial answer would drop the overrides of the failing source.
func (m *Manager) ReloadTenants(ctx context.Context, tenantIDs ...string) error {
	if m.store == nil || len(tenantIDs) == 0 {
		return nil
	}

	overrides, err := m.store.LoadTenantConfigs(ctx)
	if err != nil {
		return fmt.Errorf("reload tenant configs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tenant := range tenantIDs {
		m.setConfigLocked(tenant, m.Defaults.Merge(overrides[tenant]))
	}
	return nil
}

// setConfigLocked stores cfg and evicts the tenant's queue so the next
// campaign is built with it. Caller holds mu.
func (m *Manager) setConfigLocked(tenantID string, cfg TenantConfig) {
	m.configs[tenantID] = cfg

	if q := m.queues[tenantID]; q != nil {
		if q.IsProcessing() {
			m.stale[tenantID] = true
		} else {
			delete(m.queues, tenantID)
			delete(m.stale, tenantID)
		}
	}

	m.log.Info("tenant config updated",
		zap.String("tenant", tenantID),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("max_per_minute", cfg.MaxPerMinute),
		zap.Int("max_per_hour", cfg.MaxPerHour),
		zap.Bool("deferred_eviction", m.stale[tenantID]),
	)
}

// Close stops every queue and waits for their loops. When ctx expires first,
// in-flight sends are cancelled. Submissions after Close are rejected with
// ErrManagerClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, q := range m.queues {
		q.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}
