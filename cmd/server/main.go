package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/soclab/notification-service/internal/delivery"
	"github.com/soclab/notification-service/internal/events"
	"github.com/soclab/notification-service/internal/realtime"
	"github.com/soclab/notification-service/internal/relay"
	"github.com/soclab/notification-service/internal/repositories"
	"github.com/soclab/notification-service/internal/router"
	"github.com/soclab/notification-service/pkg/config"
	"github.com/soclab/notification-service/pkg/firebase"
	"github.com/soclab/notification-service/pkg/httpclient"
	"github.com/soclab/notification-service/validators"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database connection
	db, err := config.InitDB(cfg.PostgresConnStr)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories
	notificationRepo := repositories.NewPostgresNotificationRepository(db.Postgres)
	deviceTokenRepo := repositories.NewPostgresDeviceTokenRepository(db.Postgres)

	// Real-time components
	registry := realtime.NewRegistry()
	rel := relay.New(cfg.RedisAddr, registry)
	defer rel.Close()

	// Firebase push is optional; without credentials the service runs with
	// socket and relay delivery only.
	var push delivery.PushSender
	if cfg.FirebaseCredentialsPath != "" {
		firebaseApp, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			log.Printf("Firebase unavailable, mobile push disabled: %v", err)
		} else {
			push = delivery.NewFCMPush(firebaseApp.MessagingClient, deviceTokenRepo)
		}
	}

	coordinator := delivery.NewCoordinator(registry, rel, cfg.RedisChannel, push)

	// Event pipeline
	contentClient := httpclient.New(cfg.ContentServiceURL, cfg.LookupTimeout)
	eventHandlers := events.NewHandlers(notificationRepo, coordinator, contentClient)
	consumer := events.NewConsumer(
		events.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaConsumerGroup,
			Topics: []string{
				cfg.KafkaTopicNotifications,
				cfg.KafkaTopicPosts,
				cfg.KafkaTopicComments,
				cfg.KafkaTopicReactions,
			},
		},
		eventHandlers.Map(
			cfg.KafkaTopicNotifications,
			cfg.KafkaTopicPosts,
			cfg.KafkaTopicComments,
			cfg.KafkaTopicReactions,
		),
	)

	// Background tasks: the service stays up even when Kafka or Redis are
	// unreachable, it just runs without ingestion or cross-instance fan-out.
	rel.Subscribe(ctx, cfg.RedisChannel)
	go consumer.Start(ctx, cfg.KafkaStartMaxRetries)

	// Create Echo instance
	e := echo.New()
	router.SetupMiddleware(e)
	router.SetupRoutes(e, db.Postgres, router.Deps{
		NotificationRepo: notificationRepo,
		DeviceTokenRepo:  deviceTokenRepo,
		Registry:         registry,
		Deliverer:        coordinator,
		Consumer:         consumer,
		JWTSecret:        cfg.JWTSecret,
	})

	// Validator
	e.Validator = validators.NewValidator()

	// Start server
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	consumer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
