package router

import (
	"log"

	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/soclab/notification-service/internal/handlers"
	"github.com/soclab/notification-service/internal/middleware"
	"github.com/soclab/notification-service/internal/models"
	"github.com/soclab/notification-service/internal/realtime"
	"github.com/soclab/notification-service/internal/repositories"
	"gorm.io/gorm"
)

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo) {
	e.Use(eMiddleware.Recover())
	e.Use(eMiddleware.CORS())
	log.Println("Global middleware configured.")
}

// Deps are the constructed components the routes are wired against.
type Deps struct {
	NotificationRepo repositories.NotificationRepository
	DeviceTokenRepo  repositories.DeviceTokenRepository
	Registry         *realtime.Registry
	Deliverer        handlers.Deliverer
	Consumer         handlers.ConsumerStatus
	JWTSecret        string
}

// SetupRoutes runs migrations and configures all application routes
func SetupRoutes(e *echo.Echo, pgdb *gorm.DB, deps Deps) {
	// AutoMigrate PostgreSQL models
	err := pgdb.AutoMigrate(
		&models.Notification{},
		&models.DeviceToken{},
	)
	if err != nil {
		log.Fatalf("Failed to auto migrate models: %v", err)
	}
	log.Println("PostgreSQL auto-migrations completed for all models.")

	// Health check - always accessible
	healthHandler := handlers.NewHealthHandler(deps.Consumer)
	e.GET("/health", healthHandler.HealthCheck)
	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"message": "Notification service"})
	})

	// WebSocket endpoint - authenticates via token query parameter
	wsHandler := realtime.NewWSHandler(deps.Registry, deps.NotificationRepo, deps.JWTSecret)
	wsHandler.RegisterWSRoutes(e)
	log.Println("WebSocket route configured.")

	// --- Protected routes (require JWT authentication) ---
	api := e.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(deps.JWTSecret))
	log.Println("JWT authentication middleware applied to /api/v1 group.")

	// Notification routes
	notificationHandler := handlers.NewNotificationHandler(deps.NotificationRepo, deps.Deliverer)
	notificationHandler.RegisterNotificationRoutes(api)
	log.Println("Notification routes configured.")

	// Device token routes
	deviceHandler := handlers.NewDeviceHandler(deps.DeviceTokenRepo)
	deviceHandler.RegisterDeviceRoutes(api)
	log.Println("Device routes configured.")

	log.Println("All routes configured.")
}
