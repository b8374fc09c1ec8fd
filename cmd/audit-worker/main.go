package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/common/config"
	"github.com/wxjbaga/medical/pkg/common/database"
	"github.com/wxjbaga/medical/pkg/common/kafka"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

// The audit worker drains lifecycle events from Kafka into the
// audit_records table. Saving is idempotent on the event id, so
// redelivered messages do not duplicate rows.
func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaBrokers[0] == "" {
		logger.Log.Fatal("KAFKA_BROKERS must be configured for the audit worker")
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	store := audit.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate audit schema")
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.AuditEventTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down audit worker...")
		cancel()
	}()

	logger.Log.WithField("topic", cfg.AuditEventTopic).Info("Audit worker started")
	if err := consumer.Consume(ctx, func(ctx context.Context, event kafka.Event) error {
		return store.Save(ctx, event)
	}); err != nil && err != context.Canceled {
		logger.Log.WithError(err).Fatal("Consumer stopped")
	}
	logger.Log.Info("Audit worker stopped")
}
