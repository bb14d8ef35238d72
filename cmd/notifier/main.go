// cmd/notifier/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/observability"
	"github.com/downpricer/marketplace-backend/internal/queue"
	"github.com/downpricer/marketplace-backend/internal/services"
)

// The notifier drains the notification topic filled by the API server when
// NOTIFY_TRANSPORT=kafka and delivers each job by mail.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}
	observability.ConfigureLogging(cfg)
	if len(cfg.Kafka.Brokers) == 0 {
		logrus.Fatal("KAFKA_BROKERS is required for the notifier")
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.Fatal("Failed to initialize database: ", err)
	}
	defer database.Close(db)

	notifications, err := services.NewNotificationService(db, cfg, services.NewSettingsService(db, cfg))
	if err != nil {
		logrus.Fatal("Failed to initialize notifications: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.NotificationTopic, cfg.Kafka.DeadLetterTopic, cfg.Kafka.Workers)
	logrus.WithFields(logrus.Fields{
		"topic":       cfg.Kafka.NotificationTopic,
		"dead_letter": cfg.Kafka.DeadLetterTopic,
		"group":       cfg.Kafka.ConsumerGroup,
		"workers":     cfg.Kafka.Workers,
	}).Info("Notifier started")

	if err := consumer.Start(ctx, notifications.Deliver); err != nil {
		logrus.WithError(err).Error("Notifier stopped with error")
	}
	logrus.Info("Notifier exited")
}
