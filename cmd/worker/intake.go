package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/app"
	"github.com/jmehdipour/wa-broadcaster/internal/config"
	"github.com/jmehdipour/wa-broadcaster/internal/kafka"
	"github.com/jmehdipour/wa-broadcaster/internal/logger"
	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Dispatch broadcast requests consumed from Kafka (no HTTP API)",
	RunE:  runIntake,
}

func runIntake(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Log

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MySQL only carries tenant overrides here; without it the YAML and
	// defaults still apply.
	mysqlDB, err := app.OpenMySQL(ctx, cfg)
	if err != nil {
		log.Warn("mysql unavailable, tenant overrides from YAML only", zap.Error(err))
		mysqlDB = nil
	} else {
		defer mysqlDB.Close()
	}

	rt := app.Start(ctx, cfg, cfgPath, mysqlDB, log)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "broadcaster-intake"
	}
	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = "broadcast.requests"
	}

	consumer := kafka.NewConsumer(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	log.Info("intake started",
		zap.String("topic", topic),
		zap.String("group", groupID),
		zap.Strings("brokers", cfg.Kafka.Brokers),
	)

	runErr := worker.NewIntake(consumer, rt.Manager, log).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = rt.Close(shutdownCtx)

	return runErr
}
