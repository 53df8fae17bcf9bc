package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/walletsync/internal/application/services"
	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/infrastructure/cache"
	"github.com/bimakw/walletsync/internal/infrastructure/ethereum"
	"github.com/bimakw/walletsync/internal/infrastructure/pricing"
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

	wallet := strings.ToLower(cfg.Sync.WalletAddress)
	if !common.IsHexAddress(wallet) {
		logger.Fatal("SYNC_WALLET_ADDRESS must be a hex address", zap.String("wallet", cfg.Sync.WalletAddress))
	}
	networkID := cfg.Ethereum.NetworkID()

	logger.Info("Starting walletsync syncer",
		zap.String("wallet", wallet),
		zap.String("network", networkID),
		zap.String("store", cfg.Store.Driver),
		zap.String("rpc_url", cfg.Ethereum.RPCURL),
	)

	// Open token store
	store, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open token store", zap.Error(err))
	}
	defer store.Close()

	// Connect to Ethereum node
	ethClient, err := ethereum.NewClient(cfg.Ethereum, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum node", zap.Error(err))
	}
	defer ethClient.Close()

	// Connect to Redis (optional)
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without update publishing", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	tokenCache := services.NewTokenCache(store, services.CachePolicy{
		BalanceWindow:    cfg.Cache.BalanceWindow,
		TickerWindow:     cfg.Cache.TickerWindow,
		ImageURLTemplate: cfg.Cache.ImageURLTemplate,
	}, nil, logger)

	// Ticker refresh (optional)
	var tickerService *services.TickerService
	if pricingClient, err := pricing.NewClient(cfg.Pricing, logger); err != nil {
		if !errors.Is(err, pricing.ErrNotConfigured) {
			logger.Fatal("Failed to create pricing client", zap.Error(err))
		}
		logger.Info("Ticker refresh disabled, PRICING_API_URL not set")
	} else {
		tickerService = services.NewTickerService(tokenCache, pricingClient, logger)
	}

	// Fetchers
	balanceService := services.NewWalletBalanceService(
		ethereum.NewBalanceFetcher(ethClient, cfg.Sync, logger),
		tokenCache,
		tickerService,
		cfg.Ethereum.NativeSymbol,
		logger,
	)

	var txFetcher services.TransactionFetcher = ethereum.NewTransactionFetcher(ethClient, cfg.Sync, logger)
	if cfg.Sync.DiscoverTokens {
		txFetcher = services.NewTokenDiscovery(
			txFetcher,
			ethereum.NewMetadataFetcher(ethClient, logger),
			tokenCache,
			networkID,
			logger,
		)
	}

	// Observers
	observers := services.MultiObserver{services.ObserverFunc(logUpdate(logger))}
	if redisCache != nil {
		observers = append(observers, cache.NewUpdatePublisher(redisCache, cfg.Redis, logger))
	}

	scheduler := services.NewRefreshScheduler(balanceService, txFetcher, observers, cfg.Sync, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx, networkID, wallet); err != nil {
		logger.Fatal("Failed to start refresh scheduler", zap.Error(err))
	}

	// Serve the API alongside the scheduler, or metrics only
	var server *http.Server
	if cfg.Sync.ServeAPI {
		var cacheChecker handlers.HealthChecker
		var activity *handlers.ActivityHandler
		if redisCache != nil {
			cacheChecker = redisCache
			activity = handlers.NewActivityHandler(services.NewActivityService(redisCache, logger), logger)
		}

		server = newServer(fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port), router.New(router.Handlers{
			Tokens:   handlers.NewTokenHandler(services.NewTokenService(tokenCache, logger), logger),
			Activity: activity,
			Health:   handlers.NewHealthHandler(store, cacheChecker),
		}, cfg.API.RateLimitRPS, logger), cfg.API.ReadTimeout, cfg.API.WriteTimeout)
	} else {
		server = newServer(fmt.Sprintf(":%d", cfg.Sync.MetricsPort), metricsMux(), 5*time.Second, 10*time.Second)
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping syncer...")

	// Graceful shutdown
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	stats := scheduler.Stats()
	logger.Info("Syncer stopped",
		zap.Int64("balance_cycles", stats.BalanceCycles),
		zap.Int64("transaction_cycles", stats.TransactionCycles),
	)
}

func logUpdate(logger *zap.Logger) func(update entities.WalletUpdate) {
	return func(update entities.WalletUpdate) {
		if update.Err != nil {
			logger.Warn("Refresh failed",
				zap.String("kind", string(update.Kind)),
				zap.Error(update.Err),
			)
			return
		}
		logger.Debug("Refresh published",
			zap.String("kind", string(update.Kind)),
			zap.Int("balances", len(update.Balances)),
			zap.Int("transactions", len(update.Transactions)),
		)
	}
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

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func newServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
