package broadcast

import (
	"context"
	"errors"
	"fmt"
)

// ConfigStore supplies per-tenant overrides, keyed by tenant id.
type ConfigStore interface {
	LoadTenantConfigs(ctx context.Context) (map[string]TenantOverrides, error)
}

// ChainStore merges several stores; later stores win field by field. A
// failing store is skipped and reported in the joined error, so a database
// outage does not hide overrides from the file store.
type ChainStore []ConfigStore

func (c ChainStore) LoadTenantConfigs(ctx context.Context) (map[string]TenantOverrides, error) {
	out := make(map[string]TenantOverrides)
	var errs []error

	for i, s := range c {
		if s == nil {
			continue
		}
		m, err := s.LoadTenantConfigs(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %d: %w", i, err))
			continue
		}
		for tenant, o := range m {
			out[tenant] = out[tenant].Overlay(o)
		}
	}

	return out, errors.Join(errs...)
}

// StaticStore serves a fixed map; handy for tests and single-tenant setups.
type StaticStore map[string]TenantOverrides

func (s StaticStore) LoadTenantConfigs(context.Context) (map[string]TenantOverrides, error) {
	out := make(map[string]TenantOverrides, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
