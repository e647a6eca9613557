package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/app"
	httpSrv "github.com/jmehdipour/wa-broadcaster/internal/http"
	"github.com/jmehdipour/wa-broadcaster/internal/logger"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		log := logger.Log

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		mysqlDB, err := app.OpenMySQL(ctx, cfg)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := app.OpenRedis(ctx, cfg)
		if err != nil {
			log.Warn("redis unavailable, API rate limiting disabled", zap.Error(err))
		} else {
			defer func() { _ = redisClient.Close() }()
		}

		rt := app.Start(ctx, cfg, cfgPath, mysqlDB, log)

		server := httpSrv.NewServer(httpSrv.Deps{
			Manager:      rt.Manager,
			Tenants:      repository.NewTenantsRepository(mysqlDB),
			Configs:      rt.Configs,
			Deliveries:   rt.Deliveries,
			Redis:        redisClient,
			RateLimitRPS: cfg.RateLimit.RPS,
			AdminKey:     cfg.HTTP.AdminKey,
			Log:          log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
		_ = rt.Close(shutdownCtx)

		return nil
	},
}
