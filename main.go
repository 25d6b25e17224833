package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"deep-research-api/internal/config"
	"deep-research-api/internal/handlers"
	"deep-research-api/internal/pkg/logger"
	"deep-research-api/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Options{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
	})

	appLogger.Info("Starting Deep Research API",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port)

	// Durable persistence is optional; without it the metrics store runs
	// in memory for the process lifetime.
	var metricsStore services.MetricsStore
	var redisService *services.RedisService
	if cfg.RedisEnabled() {
		redisService, err = services.NewRedisService(cfg.Redis, appLogger)
		if err != nil {
			appLogger.WithError(err).Warn("Redis unavailable, using in-memory metrics storage")
		} else {
			metricsStore = redisService
		}
	} else {
		appLogger.Info("Redis not configured, using in-memory metrics storage")
	}

	modelService := services.NewModelService(appLogger)
	engineService := services.NewEngineService(cfg.Engine, appLogger)
	translator := services.NewEventTranslator(appLogger)
	researchService := services.NewResearchService(modelService, engineService, translator, appLogger)

	modelIDs := make([]string, 0)
	for _, model := range modelService.ListModels() {
		modelIDs = append(modelIDs, model.ID)
	}
	metricsService := services.NewMetricsService(modelIDs, metricsStore, appLogger)
	comparisonService := services.NewComparisonService(modelService, researchService, metricsService, appLogger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.CORSMiddleware())
	router.Use(handlers.RequestLogger(appLogger))

	handler := handlers.NewResearchHandler(modelService, researchService, comparisonService, metricsService, appLogger)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	appLogger.Info("Deep Research API listening", "addr", server.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Deep Research API")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.WithError(err).Error("Server shutdown failed")
	}

	if redisService != nil {
		if err := redisService.Close(); err != nil {
			appLogger.WithError(err).Error("Redis close failed")
		}
	}

	appLogger.Info("Deep Research API stopped")
}
