package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/wa-broadcaster/internal/app"
	"github.com/jmehdipour/wa-broadcaster/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE MySQL tables, create ClickHouse log)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()

		sqlDB, err := app.OpenMySQL(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		defer sqlDB.Close()

		// multiStatements=true in the DSN lets the whole file run at once
		sqlPath := filepath.Join(migrateDir, "001_init.sql")
		sqlBytes, err := os.ReadFile(sqlPath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", sqlPath, err)
		}

		if _, err := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, string(sqlBytes)); err != nil {
			_, _ = sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
			return fmt.Errorf("exec mysql migration: %w", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			return fmt.Errorf("enable fk checks: %w", err)
		}
		logger.Log.Info("mysql migration complete", zap.String("file", sqlPath))

		chDB, err := app.OpenClickHouse(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chDB.Close()

		chPath := filepath.Join(migrateDir, "clickhouse", "001_deliveries.sql")
		chBytes, err := os.ReadFile(chPath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", chPath, err)
		}

		// the native protocol takes one statement per Exec
		for _, stmt := range splitStatements(string(chBytes)) {
			if _, err := chDB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		logger.Log.Info("clickhouse migration complete", zap.String("file", chPath))

		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "migrations", "directory holding the SQL migrations")
}

func splitStatements(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
