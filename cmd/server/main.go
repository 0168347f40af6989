package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"loyaltyengine/internal/config"
	"loyaltyengine/internal/handlers"
	"loyaltyengine/internal/middleware"
	"loyaltyengine/internal/repositories/mongodb"
	"loyaltyengine/internal/services"
	"loyaltyengine/pkg/cache"
	"loyaltyengine/pkg/database"
	"loyaltyengine/pkg/logger"
	"loyaltyengine/routes"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Connect to MongoDB
	mongoDB, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close()

	// Connect to Redis
	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize repositories
	loyaltyRepo := mongodb.NewLoyaltyRepository(mongoDB.Database, redisCache)
	settingsSource := mongodb.NewSettingsSource(mongoDB.Database)

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := loyaltyRepo.EnsureIndexes(indexCtx); err != nil {
		cancel()
		appLogger.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancel()

	// Initialize services
	settingsService := services.NewSettingsService(settingsSource, appLogger)
	earningService := services.NewEarningService(loyaltyRepo, settingsService, appLogger)
	redemptionService := services.NewRedemptionService(loyaltyRepo, settingsService, appLogger)
	referralService := services.NewReferralService(loyaltyRepo, settingsService, appLogger)

	// Initialize handlers
	loyaltyHandler := handlers.NewLoyaltyHandler(earningService, redemptionService, settingsService)
	referralHandler := handlers.NewReferralHandler(referralService)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	router := gin.New()

	// Global middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())

	if len(cfg.Security.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
			appLogger.Fatalf("Failed to set trusted proxies: %v", err)
		}
	}

	// API routes
	v1 := router.Group("/api/v1")
	{
		routes.SetupLoyaltyRoutes(v1, loyaltyHandler, cfg.Security.JWTSecret)
		routes.SetupReferralRoutes(v1, referralHandler, cfg.Security.JWTSecret)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		code := http.StatusOK
		checks := gin.H{"mongodb": "up", "redis": "up"}

		if err := mongoDB.Ping(); err != nil {
			checks["mongodb"] = "down"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		if err := redisCache.Ping(ctx); err != nil {
			checks["redis"] = "down"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"version": cfg.App.Version,
			"checks":  checks,
		})
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	appLogger.Infof("Starting server on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		appLogger.Fatalf("Server stopped: %v", err)
	}
}
