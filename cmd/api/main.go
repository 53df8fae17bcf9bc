package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/walletsync/internal/application/services"
	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/infrastructure/cache"
	"github.com/bimakw/walletsync/internal/infrastructure/storage"
	"github.com/bimakw/walletsync/internal/presentation/handlers"
	"github.com/bimakw/walletsync/internal/presentation/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting walletsync API",
		zap.Int("port", cfg.API.Port),
		zap.String("store", cfg.Store.Driver),
	)

	// Open token store
	store, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open token store", zap.Error(err))
	}
	defer store.Close()

	// Connect to Redis for activity snapshots (optional)
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without activity", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	// Create services
	tokenCache := services.NewTokenCache(store, services.CachePolicy{
		BalanceWindow:    cfg.Cache.BalanceWindow,
		TickerWindow:     cfg.Cache.TickerWindow,
		ImageURLTemplate: cfg.Cache.ImageURLTemplate,
	}, nil, logger)
	tokenService := services.NewTokenService(tokenCache, logger)

	// Create handlers
	var cacheChecker handlers.HealthChecker
	var activityHandler *handlers.ActivityHandler
	if redisCache != nil {
		cacheChecker = redisCache
		activityHandler = handlers.NewActivityHandler(services.NewActivityService(redisCache, logger), logger)
	}

	r := router.New(router.Handlers{
		Tokens:   handlers.NewTokenHandler(tokenService, logger),
		Activity: activityHandler,
		Health:   handlers.NewHealthHandler(store, cacheChecker),
	}, cfg.API.RateLimitRPS, logger)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Run server in goroutine
	go func() {
		logger.Info("API server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}
