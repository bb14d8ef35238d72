// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/observability"
	"github.com/downpricer/marketplace-backend/internal/queue"
	"github.com/downpricer/marketplace-backend/internal/router"
	"github.com/downpricer/marketplace-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}
	observability.ConfigureLogging(cfg)

	telemetry, err := observability.Setup(context.Background(), cfg)
	if err != nil {
		logrus.Fatal("Failed to initialize telemetry: ", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.Fatal("Failed to initialize database: ", err)
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.Fatal("Failed to run migrations: ", err)
	}
	if err := database.SeedInitialData(db, cfg, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		logrus.Fatal("Failed to seed initial data: ", err)
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		logrus.Fatal("Failed to initialize i18n: ", err)
	}

	rdb, err := database.OpenRedis(context.Background(), cfg.Redis)
	if err != nil {
		logrus.Fatal("Failed to connect to redis: ", err)
	}
	if rdb == nil {
		logrus.Warn("Redis not configured, webhook deduplication relies on the database only")
	}

	archive, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.Fatal("Failed to initialize webhook archive: ", err)
	}

	// Notifications go out in-process, or through Kafka to cmd/notifier.
	var (
		notifier services.Notifier
		drain    func()
	)
	switch cfg.Notify.Transport {
	case "kafka":
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, 256)
		producer.Start()
		notifier = producer
		drain = func() {
			producer.Close()
			producer.WaitClosed()
		}
	default:
		notificationService, err := services.NewNotificationService(db, cfg, services.NewSettingsService(db, cfg))
		if err != nil {
			logrus.Fatal("Failed to initialize notifications: ", err)
		}
		notifier = notificationService
		drain = notificationService.Wait
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(db, cfg, router.Options{
		Redis:    rdb,
		Notifier: notifier,
		Archive:  archive,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"transport": cfg.Notify.Transport,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	drain()
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Telemetry shutdown incomplete")
	}

	logrus.Info("Server exited")
}
