package main

import (
	"fmt"
	"os"

	"github.com/fablearn/fablearn-backend/internal/clients/backend"
	"github.com/fablearn/fablearn-backend/internal/clients/gcp"
	redisclient "github.com/fablearn/fablearn-backend/internal/clients/redis"
	"github.com/fablearn/fablearn-backend/internal/db"
	"github.com/fablearn/fablearn-backend/internal/handlers"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/middleware"
	"github.com/fablearn/fablearn-backend/internal/repos"
	"github.com/fablearn/fablearn-backend/internal/server"
	"github.com/fablearn/fablearn-backend/internal/services"
	"github.com/fablearn/fablearn-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	dailyLimit := utils.GetEnvAsInt("GENERATION_DAILY_LIMIT", services.DefaultDailyLimit, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	storyRepo := repos.NewStoryRepo(thePG, log)
	lectureRepo := repos.NewLectureRepo(thePG, log)
	noteRepo := repos.NewNoteRepo(thePG, log)

	// Clients
	log.Info("Setting up clients...")
	backendClient, err := backend.NewClient(log)
	if err != nil {
		log.Error("Could not init BackendClient", "error", err)
		os.Exit(1)
	}
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	notifyBus, err := redisclient.NewNotifyBus(log)
	if err != nil {
		log.Warn("Could not init NotifyBus, events will be dropped", "error", err)
	}

	// Services
	log.Info("Setting up services...")
	notifier := services.NewGenerationNotifier(log, notifyBus)
	quotaService := services.NewQuotaService(log, storyRepo, lectureRepo, noteRepo, dailyLimit)
	persistenceService := services.NewPersistenceService(log, storyRepo, lectureRepo, noteRepo)
	enrichmentPipeline := services.NewEnrichmentPipeline(log, backendClient, bucketService)
	coordinator := services.NewGenerationCoordinator(log, quotaService, backendClient, enrichmentPipeline, persistenceService, notifier)
	uploadScheduler, err := services.NewHTTPUploadScheduler(log)
	if err != nil {
		log.Error("Could not init UploadScheduler", "error", err)
		os.Exit(1)
	}
	bridge := services.NewBackgroundBridge(log, backendClient, uploadScheduler, notifier)

	// Handlers + middleware
	log.Info("Setting up handlers...")
	generationHandler := handlers.NewGenerationHandler(log, coordinator, bridge, quotaService, persistenceService)
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		GenerationHandler: generationHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
