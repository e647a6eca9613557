package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/wa-broadcaster/internal/app"
	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/logger"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants and tenant configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()

		sqlDB, err := app.OpenMySQL(ctx, cfg)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		tx, err := sqlDB.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := seedTenants(ctx, tx, repository.NewTenantsRepository(sqlDB)); err != nil {
			return err
		}
		if err := seedTenantConfigs(ctx, tx, repository.NewTenantConfigRepository(sqlDB)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit seed: %w", err)
		}

		logger.Log.Info("seed completed", zap.Int("tenants", len(demoTenants)))
		return nil
	},
}

var demoTenants = []model.Tenant{
	{ID: "acme", Name: "Acme Corp", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
	{ID: "foobar", Name: "Foobar LLC", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(50)},
	{ID: "beta", Name: "Beta Testers", APIKey: "33333333333333333333333333333333", Status: "active", RateLimitRPS: intptr(5)},
	{ID: "suspended", Name: "Suspended Inc", APIKey: "44444444444444444444444444444444", Status: "suspended"},
	{ID: "tokyo", Name: "Tokyo Retail KK", APIKey: "55555555555555555555555555555555", Status: "active", RateLimitRPS: intptr(10)},
}

// seedTenants is idempotent: rows are upserted by id.
func seedTenants(ctx context.Context, tx *sqlx.Tx, repo repository.TenantsRepository) error {
	for _, t := range demoTenants {
		if err := repo.Upsert(ctx, tx, t); err != nil {
			return fmt.Errorf("upsert tenant %q: %w", t.ID, err)
		}
	}
	return nil
}

func seedTenantConfigs(ctx context.Context, tx *sqlx.Tx, repo repository.TenantConfigRepository) error {
	configs := map[string]broadcast.TenantOverrides{
		// warmed-up number: faster pacing, bigger batches
		"foobar": {
			DelayBetweenMessagesMs: int64ptr(1000),
			DelayBetweenBatchesMs:  int64ptr(10000),
			BatchSize:              intptr(25),
			MaxPerMinute:           intptr(40),
			MaxPerHour:             intptr(1000),
		},
		// brand-new number: very conservative
		"beta": {
			BatchSize:    intptr(5),
			MaxPerMinute: intptr(5),
			MaxPerHour:   intptr(60),
		},
		"tokyo": {
			AllowedHourStart: intptr(9),
			AllowedHourEnd:   intptr(21),
			Timezone:         strptr("Asia/Tokyo"),
		},
	}

	for tenant, o := range configs {
		if err := repo.Upsert(ctx, tx, tenant, o); err != nil {
			return fmt.Errorf("upsert config %q: %w", tenant, err)
		}
	}
	return nil
}

func intptr(i int) *int       { return &i }
func int64ptr(i int64) *int64 { return &i }
func strptr(s string) *string { return &s }
