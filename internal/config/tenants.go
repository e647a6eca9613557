package config

import (
	"context"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"go.uber.org/zap"
)

// FileTenantStore serves the tenants section of the YAML config as a
// broadcast.ConfigStore and keeps it current when the file changes.
type FileTenantStore struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	tenants map[string]broadcast.TenantOverrides
}

var _ broadcast.ConfigStore = (*FileTenantStore)(nil)

func NewFileTenantStore(path string, initial map[string]broadcast.TenantOverrides, log *zap.Logger) *FileTenantStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileTenantStore{path: path, log: log, tenants: maps.Clone(initial)}
}

func (s *FileTenantStore) LoadTenantConfigs(context.Context) (map[string]broadcast.TenantOverrides, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]broadcast.TenantOverrides, len(s.tenants))
	maps.Copy(out, s.tenants)
	return out, nil
}

// Reload re-reads the file and returns the tenants whose overrides changed,
// appeared or disappeared.
func (s *FileTenantStore) Reload() ([]string, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	return s.swap(cfg.Tenants), nil
}

func (s *FileTenantStore) swap(next map[string]broadcast.TenantOverrides) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for tenant, o := range next {
		if prev, ok := s.tenants[tenant]; !ok || !reflect.DeepEqual(prev, o) {
			changed = append(changed, tenant)
		}
	}
	for tenant := range s.tenants {
		if _, ok := next[tenant]; !ok {
			changed = append(changed, tenant)
		}
	}
	s.tenants = maps.Clone(next)

	sort.Strings(changed)
	return changed
}

// Reloader is the part of broadcast.Manager a reload needs. The file is only
// one source of overrides, so changed tenants are re-resolved from the full
// store chain rather than patched with the file's values.
type Reloader interface {
	ReloadTenants(ctx context.Context, tenantIDs ...string) error
}

// Watch re-resolves changed tenants through r every time the config file is
// written. It returns immediately; the watcher lives as long as the process.
func (s *FileTenantStore) Watch(r Reloader) {
	if s.path == "" {
		return
	}

	v, err := newViper(s.path)
	if err != nil {
		s.log.Warn("config watch disabled", zap.Error(err))
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s.apply(context.Background(), r)
	})
	v.WatchConfig()

	s.log.Info("watching tenant config", zap.String("path", s.path))
}

func (s *FileTenantStore) apply(ctx context.Context, r Reloader) {
	changed, err := s.Reload()
	if err != nil {
		s.log.Warn("tenant config reload failed", zap.Error(err))
		return
	}
	if err := r.ReloadTenants(ctx, changed...); err != nil {
		s.log.Warn("tenant config reload not applied", zap.Strings("tenants", changed), zap.Error(err))
		return
	}
	s.log.Info("tenant config reloaded", zap.Strings("tenants", changed))
}
