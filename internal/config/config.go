package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	// Ethereum node configuration
	Ethereum EthereumConfig

	// Database configuration
	Database DatabaseConfig

	// Token record store configuration
	Store StoreConfig

	// Staleness and defaults for cached records
	Cache CacheConfig

	// Redis configuration
	Redis RedisConfig

	// API server configuration
	API APIConfig

	// Refresh scheduler configuration
	Sync SyncConfig

	// Market ticker source configuration
	Pricing PricingConfig

	// Logging configuration
	Log LogConfig
}

// EthereumConfig holds Ethereum node connection settings
type EthereumConfig struct {
	RPCURL         string        `envconfig:"ETH_RPC_URL" default:"http://localhost:8545"`
	ChainID        int64         `envconfig:"ETH_CHAIN_ID" default:"1"`
	NativeSymbol   string        `envconfig:"ETH_NATIVE_SYMBOL" default:"ETH"`
	RequestTimeout time.Duration `envconfig:"ETH_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"ETH_MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"ETH_RETRY_DELAY" default:"1s"`
	RateLimitRPS   float64       `envconfig:"ETH_RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int           `envconfig:"ETH_RATE_LIMIT_BURST" default:"5"`
}

// NetworkID returns the identifier used to partition cached records per chain
func (c *EthereumConfig) NetworkID() string {
	return fmt.Sprintf("%d", c.ChainID)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"walletsync"`
	Password        string        `envconfig:"DB_PASSWORD" default:"walletsync"`
	Name            string        `envconfig:"DB_NAME" default:"walletsync"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	Migrate         bool          `envconfig:"DB_MIGRATE" default:"true"`
}

// StoreConfig selects and tunes the token record store engine
type StoreConfig struct {
	// Driver is one of "postgres", "local" or "memory"
	Driver           string `envconfig:"STORE_DRIVER" default:"postgres"`
	WALDir           string `envconfig:"STORE_WAL_DIR" default:"./wal/tokens"`
	SegmentThreshold int    `envconfig:"STORE_WAL_SEGMENT_THRESHOLD" default:"1000"`
	MaxSegments      int    `envconfig:"STORE_WAL_MAX_SEGMENTS" default:"1000"`
	SyncDisk         bool   `envconfig:"STORE_WAL_SYNC_DISK" default:"true"`
}

// CacheConfig holds staleness windows and ticker defaults
type CacheConfig struct {
	BalanceWindow    time.Duration `envconfig:"CACHE_BALANCE_WINDOW" default:"5m"`
	TickerWindow     time.Duration `envconfig:"CACHE_TICKER_WINDOW" default:"5m"`
	ImageURLTemplate string        `envconfig:"CACHE_TICKER_IMAGE_URL" default:"https://files.coinmarketcap.com/static/img/coins/128x128/%s.png"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host          string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port          int           `envconfig:"REDIS_PORT" default:"6379"`
	Password      string        `envconfig:"REDIS_PASSWORD" default:""`
	DB            int           `envconfig:"REDIS_DB" default:"0"`
	UpdateChannel string        `envconfig:"REDIS_UPDATE_CHANNEL" default:"walletsync:updates"`
	SnapshotTTL   time.Duration `envconfig:"REDIS_SNAPSHOT_TTL" default:"10m"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
}

// SyncConfig holds refresh scheduler settings
type SyncConfig struct {
	WalletAddress            string        `envconfig:"SYNC_WALLET_ADDRESS"`
	MetricsPort              int           `envconfig:"SYNC_METRICS_PORT" default:"8080"`
	ServeAPI                 bool          `envconfig:"SYNC_SERVE_API" default:"false"`
	BalanceInterval          time.Duration `envconfig:"SYNC_BALANCE_INTERVAL" default:"10s"`
	TransactionInterval      time.Duration `envconfig:"SYNC_TRANSACTION_INTERVAL" default:"12s"`
	Jitter                   time.Duration `envconfig:"SYNC_JITTER" default:"0s"`
	RescheduleBalanceOnError bool          `envconfig:"SYNC_RESCHEDULE_BALANCE_ON_ERROR" default:"true"`
	TxLookbackBlocks         int64         `envconfig:"SYNC_TX_LOOKBACK_BLOCKS" default:"5000"`
	TxBatchSize              int           `envconfig:"SYNC_TX_BATCH_SIZE" default:"1000"`
	WorkerCount              int           `envconfig:"SYNC_WORKER_COUNT" default:"4"`
	DiscoverTokens           bool          `envconfig:"SYNC_DISCOVER_TOKENS" default:"true"`
}

// PricingConfig holds settings for the market ticker source
type PricingConfig struct {
	// URL is empty when ticker refresh is disabled
	URL          string        `envconfig:"PRICING_API_URL" default:""`
	APIKey       string        `envconfig:"PRICING_API_KEY" default:""`
	Timeout      time.Duration `envconfig:"PRICING_TIMEOUT" default:"10s"`
	RateLimitRPS float64       `envconfig:"PRICING_RATE_LIMIT_RPS" default:"5"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
