package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	acmeKey      = "11111111111111111111111111111111"
	suspendedKey = "44444444444444444444444444444444"
	adminKey     = "admin-secret"
)

type fakeTenants map[string]model.Tenant

func (f fakeTenants) GetByAPIKey(_ context.Context, key string) (*model.Tenant, error) {
	t, ok := f[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type fakeConfigs struct {
	mu       sync.Mutex
	upserted map[string]broadcast.TenantOverrides
}

func (f *fakeConfigs) LoadTenantConfigs(context.Context) (map[string]broadcast.TenantOverrides, error) {
	return nil, nil
}

func (f *fakeConfigs) Upsert(_ context.Context, _ *sqlx.Tx, tenantID string, o broadcast.TenantOverrides) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserted == nil {
		f.upserted = map[string]broadcast.TenantOverrides{}
	}
	f.upserted[tenantID] = o
	return nil
}

type fakeDeliveries struct {
	tenant string
	filter repository.DeliveryFilter
	rows   []model.Delivery
}

func (f *fakeDeliveries) InsertBatch(context.Context, []model.Delivery) error { return nil }

func (f *fakeDeliveries) ListByTenant(_ context.Context, tenantID string, flt repository.DeliveryFilter) ([]model.Delivery, error) {
	f.tenant, f.filter = tenantID, flt
	return f.rows, nil
}

// fixedClock never advances; only used where no campaign is admitted.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                                   { return c.t }
func (c fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type testEnv struct {
	srv        *Server
	m          *broadcast.Manager
	configs    *fakeConfigs
	deliveries *fakeDeliveries

	mu    sync.Mutex
	block chan struct{}
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{configs: &fakeConfigs{}, deliveries: &fakeDeliveries{}}

	gw := broadcast.GatewayFunc(func(ctx context.Context, _ broadcast.SendRequest) error {
		env.mu.Lock()
		block := env.block
		env.mu.Unlock()
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	m := broadcast.NewManager(gw, nil, zaptest.NewLogger(t))
	m.Defaults = broadcast.TenantConfig{
		QueueConfig: broadcast.QueueConfig{BatchSize: 10, MaxPerMinute: 1000, MaxPerHour: 10000, MaxRetries: 1},
		Timezone:    "UTC",
	}
	m.PollInterval = 5 * time.Millisecond
	m.Init(context.Background())
	t.Cleanup(func() {
		env.mu.Lock()
		if env.block != nil {
			close(env.block)
			env.block = nil
		}
		env.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})

	rps := 5
	env.m = m
	env.srv = NewServer(Deps{
		Manager: m,
		Tenants: fakeTenants{
			acmeKey:      {ID: "acme", Status: "active", RateLimitRPS: &rps},
			suspendedKey: {ID: "gone", Status: "suspended"},
		},
		Configs:    env.configs,
		Deliveries: env.deliveries,
		AdminKey:   adminKey,
		Log:        zaptest.NewLogger(t),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const campaign = `{"messages":[
	{"to":"+49 151 100","body":"hi","channel_ref":"sales","credential":"k"},
	{"to":"+49 151 200","body":"hi","channel_ref":"sales","credential":"k"}
]}`

func TestAuth(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/broadcasts/progress", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/broadcasts/progress", "nope", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/broadcasts/progress", suspendedKey, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/broadcasts/progress", acmeKey, "").Code)
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSubmitAndProgress(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[broadcast.Result](t, rec)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.QueueID)

	require.Eventually(t, func() bool {
		p, ok := env.m.GetProgress("acme")
		return ok && p.Sent == 2
	}, 5*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/v1/broadcasts/progress", acmeKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[broadcast.Progress](t, rec)
	assert.Equal(t, 2, p.Total)

	rec = env.do(t, http.MethodGet, "/v1/broadcasts/stats", acmeKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[broadcast.Stats](t, rec)
	assert.Equal(t, "acme", st.TenantID)
	assert.Equal(t, res.QueueID, st.QueueID)
	assert.Equal(t, 10, st.Config.BatchSize)
	assert.Contains(t, rec.Body.String(), `"max_per_minute":1000`)
}

func TestSubmitRejections(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, `{"messages":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, `{"messages":[{"to":"1","body":" "}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, `{`).Code)

	env.mu.Lock()
	env.block = make(chan struct{})
	env.mu.Unlock()

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign).Code)
	rec := env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decode[broadcast.Result](t, rec).Success)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, "/v1/broadcasts", acmeKey, "").Code)
}

func TestSubmitAfterShutdown(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.m.Close(context.Background()))

	rec := env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, decode[broadcast.Result](t, rec).Success)
}

func TestSubmitOutsideAllowedHours(t *testing.T) {
	env := newEnv(t)
	env.m.Clock = fixedClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	env.m.Defaults.AllowedHours = broadcast.AllowedHours{Start: 8, End: 20}

	rec := env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[broadcast.Result](t, rec).Message, "outside allowed sending hours")
}

func TestStopAndClear(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/broadcasts/stop", acmeKey, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/broadcasts", acmeKey, "").Code)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/broadcasts/stop", acmeKey, "").Code)

	require.Eventually(t, func() bool {
		st, _ := env.m.GetStats("acme")
		return !st.Running
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/broadcasts", acmeKey, "").Code)
	p, ok := env.m.GetProgress("acme")
	require.True(t, ok)
	assert.Zero(t, p.Total)
}

func TestConfigEndpoints(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/broadcasts/config", acmeKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[broadcast.TenantOverrides](t, rec)
	assert.Equal(t, 10, *view.BatchSize)
	assert.Equal(t, "UTC", *view.Timezone)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/v1/broadcasts/config", acmeKey, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/v1/broadcasts/config", acmeKey, `{"allowed_hour_end":25}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/v1/broadcasts/config", acmeKey, `{"timezone":"Mars/Olympus"}`).Code)
	assert.Empty(t, env.configs.upserted)

	rec = env.do(t, http.MethodPatch, "/v1/broadcasts/config", acmeKey, `{"batch_size":4,"delay_between_messages_ms":1500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decode[broadcast.TenantOverrides](t, rec)
	assert.Equal(t, 4, *view.BatchSize)
	assert.Equal(t, int64(1500), *view.DelayBetweenMessagesMs)

	require.Contains(t, env.configs.upserted, "acme")
	assert.Equal(t, 4, *env.configs.upserted["acme"].BatchSize)
	assert.Nil(t, env.configs.upserted["acme"].MaxPerHour)

	assert.Equal(t, 4, env.m.TenantConfig("acme").BatchSize)
}

func TestDeliveriesReport(t *testing.T) {
	env := newEnv(t)
	env.deliveries.rows = []model.Delivery{{MessageID: "m1", TenantID: "acme", Status: "sent"}}

	rec := env.do(t, http.MethodGet, "/v1/reports/deliveries?status=failed&recipient=%2B49%20151%20100&limit=20&queue_id=q1", acmeKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acme", env.deliveries.tenant)
	assert.Equal(t, repository.DeliveryFilter{
		QueueID: "q1", Recipient: "49151100", Status: model.StatusFailed, Limit: 20,
	}, env.deliveries.filter)

	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["count"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/reports/deliveries?status=pending", acmeKey, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/reports/deliveries?since=yesterday", acmeKey, "").Code)

	env.srv = NewServer(Deps{Manager: env.m, Tenants: fakeTenants{acmeKey: {ID: "acme", Status: "active"}}})
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/v1/reports/deliveries", acmeKey, "").Code)
}

func TestAdminStats(t *testing.T) {
	env := newEnv(t)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/broadcasts", acmeKey, campaign).Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/admin/stats", "", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("X-Admin-Key", adminKey)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["count"])
}
