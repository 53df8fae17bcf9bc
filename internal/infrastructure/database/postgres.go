package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/config"
)

// PostgresDB wraps the sqlx database connection
type PostgresDB struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresDB creates a new PostgreSQL connection
func NewPostgresDB(cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
	)

	return &PostgresDB{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// DB returns the underlying sqlx.DB
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// HealthCheck performs a health check on the database
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Migrate creates the token cache schema if it does not exist
func (p *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	p.logger.Info("Applied token cache schema")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS wallet_tokens (
	network_id     TEXT    NOT NULL,
	wallet_address TEXT    NOT NULL,
	token_address  TEXT    NOT NULL,
	name           TEXT    NOT NULL DEFAULT '',
	symbol         TEXT    NOT NULL DEFAULT '',
	decimals       INTEGER NOT NULL DEFAULT 0 CHECK (decimals >= 0),
	balance        NUMERIC NULL,
	is_enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	added_time     BIGINT  NOT NULL,
	updated_time   BIGINT  NOT NULL DEFAULT 0,
	PRIMARY KEY (network_id, wallet_address, token_address)
);

CREATE INDEX IF NOT EXISTS idx_wallet_tokens_added
	ON wallet_tokens (network_id, wallet_address, added_time);

CREATE TABLE IF NOT EXISTS wallet_tickers (
	network_id         TEXT   NOT NULL,
	wallet_address     TEXT   NOT NULL,
	contract           TEXT   NOT NULL,
	market_id          TEXT   NOT NULL DEFAULT '',
	price              TEXT   NOT NULL DEFAULT '',
	percent_change_24h TEXT   NOT NULL DEFAULT '',
	image_url          TEXT   NOT NULL DEFAULT '',
	created_time       BIGINT NOT NULL,
	updated_time       BIGINT NOT NULL,
	PRIMARY KEY (network_id, wallet_address, contract)
);

CREATE INDEX IF NOT EXISTS idx_wallet_tickers_updated
	ON wallet_tickers (network_id, wallet_address, updated_time);
`
