package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/wa-broadcaster/cmd/worker"
	"github.com/jmehdipour/wa-broadcaster/internal/config"
	"github.com/jmehdipour/wa-broadcaster/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "broadcaster",
		Short: "Multi-tenant paced broadcast dispatcher",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// loadConfig reads the config and initializes the global logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
