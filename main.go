package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"authbox/internal/apperrors"
	"authbox/internal/handlers"
	"authbox/internal/middleware"
	"authbox/internal/models"
	"authbox/internal/repositories"
	"authbox/internal/services"
	"authbox/pkg/rabbitmq"
)

func main() {
	// --- Configuration ---
	// Loaded once, before the server accepts connections.
	viper.SetDefault("APP_PORT", ":8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=authbox port=5432 sslmode=disable")
	viper.SetDefault("FRONTEND_URL", "http://localhost:3000")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.AutomaticEnv()

	appPort := viper.GetString("APP_PORT")
	jwtSecret := viper.GetString("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	production := viper.GetString("APP_ENV") == "production"

	// --- Database ---
	// The store must be reachable at startup; failing here is fatal.
	// TranslateError makes unique-index violations detectable as
	// gorm.ErrDuplicatedKey regardless of driver.
	db, err := gorm.Open(postgres.Open(viper.GetString("DATABASE_DSN")), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// --- RabbitMQ (optional) ---
	// Auth events are published when a broker URL is configured; the
	// service runs without one.
	var events services.EventPublisher
	if rabbitMQURL := viper.GetString("RABBITMQ_URL"); rabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: rabbitMQURL})
		if err != nil {
			log.Fatalf("Failed to initialize RabbitMQ client: %v", err)
		}
		defer mqClient.Close()
		events = mqClient
	}

	// --- Services and Handlers ---
	userRepo := repositories.NewGORMUserRepository(db)
	tokenService := services.NewTokenService(jwtSecret)
	authService := services.NewAuthService(userRepo, tokenService, events)
	authHandler := handlers.NewAuthHandler(authService, handlers.DefaultRateLimits(), production)

	// --- Fiber App ---
	app := fiber.New(fiber.Config{
		ErrorHandler: apperrors.ErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	// --- Middleware ---
	app.Use(recover.New())
	app.Use(logger.New()) // Request logger
	app.Use(cors.New(cors.Config{
		AllowOrigins:     viper.GetString("FRONTEND_URL"),
		AllowCredentials: true,
	}))

	// --- API Routes ---
	api := app.Group("/api")
	authHandler.RegisterRoutes(api, middleware.AuthRequired(tokenService, userRepo))

	// --- Health Check Endpoint ---
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": true,
			"message": "Server is running",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// --- Start HTTP Server ---
	log.Printf("Starting server on port %s", appPort)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(appPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}

	log.Println("Server gracefully stopped")
}
