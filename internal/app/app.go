// Package app builds the dispatcher runtime shared by the serve and worker
// commands from a loaded config.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/config"
	"github.com/jmehdipour/wa-broadcaster/internal/gateway"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/jmehdipour/wa-broadcaster/internal/worker"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Runtime is a running dispatcher with its optional delivery log.
type Runtime struct {
	Manager    *broadcast.Manager
	Configs    repository.TenantConfigRepository
	Deliveries repository.DeliveriesRepository

	log     *zap.Logger
	chDB    *sqlx.DB
	stopRec context.CancelFunc
	recDone sync.WaitGroup
}

// Start wires the gateway client, the tenant config stores (YAML, then
// MySQL when mysqlDB is set) and the ClickHouse delivery log, then loads
// tenant configs. ClickHouse is optional: when it cannot be reached the
// delivery log is disabled and dispatching goes on.
func Start(ctx context.Context, cfg config.Config, cfgPath string, mysqlDB *sqlx.DB, log *zap.Logger) *Runtime {
	rt := &Runtime{log: log}

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		SendPath:      cfg.Gateway.SendPath,
		Timeout:       time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond,
		FailThreshold: cfg.Gateway.Breaker.FailThreshold,
		OpenFor:       time.Duration(cfg.Gateway.Breaker.OpenForMs) * time.Millisecond,
	})

	fileStore := config.NewFileTenantStore(cfgPath, cfg.Tenants, log)
	stores := broadcast.ChainStore{fileStore}
	if mysqlDB != nil {
		rt.Configs = repository.NewTenantConfigRepository(mysqlDB)
		stores = append(stores, rt.Configs)
	}

	m := broadcast.NewManager(gw, stores, log)
	m.Defaults = cfg.Broadcast.Defaults.TenantConfig()
	if cfg.Broadcast.PollInterval > 0 {
		m.PollInterval = cfg.Broadcast.PollInterval
	}

	if chDB, err := OpenClickHouse(ctx, cfg); err != nil {
		log.Warn("clickhouse unavailable, delivery log disabled", zap.Error(err))
	} else {
		rt.chDB = chDB
		rt.Deliveries = repository.NewDeliveriesRepository(chDB)

		rec := worker.NewDeliveryRecorder(rt.Deliveries, cfg.Deliveries.Buffer, log)
		if cfg.Deliveries.BatchSize > 0 {
			rec.BatchSize = cfg.Deliveries.BatchSize
		}
		if cfg.Deliveries.FlushInterval > 0 {
			rec.BatchWait = cfg.Deliveries.FlushInterval
		}
		m.Recorder = rec

		recCtx, cancel := context.WithCancel(context.Background())
		rt.stopRec = cancel
		rt.recDone.Add(1)
		go func() {
			defer rt.recDone.Done()
			rec.Run(recCtx)
		}()
	}

	m.Init(ctx)
	fileStore.Watch(m)

	rt.Manager = m
	return rt
}

// Close stops every campaign, then flushes and closes the delivery log.
func (rt *Runtime) Close(ctx context.Context) error {
	err := rt.Manager.Close(ctx)
	if err != nil {
		rt.log.Warn("campaigns interrupted on shutdown", zap.Error(err))
	}

	if rt.stopRec != nil {
		rt.stopRec()
		rt.recDone.Wait()
	}
	if rt.chDB != nil {
		_ = rt.chDB.Close()
	}
	return err
}
