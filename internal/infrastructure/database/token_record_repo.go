package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/domain/repositories"
)

// Ensure TokenRecordRepo implements TokenRecordStore
var _ repositories.TokenRecordStore = (*TokenRecordRepo)(nil)

const tokenColumns = `network_id, wallet_address, token_address, name, symbol, decimals,
	balance, is_enabled, added_time, updated_time`

const tickerColumns = `network_id, wallet_address, contract, market_id, price,
	percent_change_24h, image_url, created_time, updated_time`

// TokenRecordRepo implements TokenRecordStore using PostgreSQL
type TokenRecordRepo struct {
	db *sqlx.DB
}

// NewTokenRecordRepo creates a new token record repository
func NewTokenRecordRepo(db *sqlx.DB) *TokenRecordRepo {
	return &TokenRecordRepo{db: db}
}

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = "23505"

// UpsertToken locks the row, applies mutate and writes it back in one transaction.
// A concurrent first insert of the same key is retried once against the stored row.
func (r *TokenRecordRepo) UpsertToken(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error {
	return retryOnConflict(func() error {
		return r.upsertToken(ctx, key, now, mutate)
	})
}

// retryOnConflict runs fn again once when it lost an insert race
func retryOnConflict(fn func() error) error {
	err := fn()
	if isUniqueViolation(err) {
		err = fn()
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (r *TokenRecordRepo) upsertToken(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev entities.TokenRecord
	query := `SELECT ` + tokenColumns + ` FROM wallet_tokens
		WHERE network_id = $1 AND wallet_address = $2 AND token_address = $3
		FOR UPDATE`

	created := false
	if err := tx.GetContext(ctx, &prev, query, key.NetworkID, key.WalletAddress, key.TokenAddress); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get token: %w", err)
		}
		created = true
		prev = entities.TokenRecord{
			AddedTime: now,
			IsEnabled: true,
		}
	}

	rec := prev
	if err := mutate(&rec, created); err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}

	if created {
		insert := `INSERT INTO wallet_tokens (` + tokenColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

		_, err = tx.ExecContext(ctx, insert,
			key.NetworkID,
			key.WalletAddress,
			key.TokenAddress,
			rec.Name,
			rec.Symbol,
			rec.Decimals,
			rec.Balance,
			rec.IsEnabled,
			prev.AddedTime,
			rec.UpdatedTime,
		)
	} else {
		// added_time is never rewritten; updated_time never moves backwards
		update := `
			UPDATE wallet_tokens SET
				name = $4,
				symbol = $5,
				decimals = $6,
				balance = $7,
				is_enabled = $8,
				updated_time = GREATEST(updated_time, $9)
			WHERE network_id = $1 AND wallet_address = $2 AND token_address = $3
		`

		_, err = tx.ExecContext(ctx, update,
			key.NetworkID,
			key.WalletAddress,
			key.TokenAddress,
			rec.Name,
			rec.Symbol,
			rec.Decimals,
			rec.Balance,
			rec.IsEnabled,
			rec.UpdatedTime,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token upsert: %w", err)
	}

	return nil
}

// UpsertTickers writes all tickers in one transaction
func (r *TokenRecordRepo) UpsertTickers(ctx context.Context, partition entities.Partition, tickers []entities.TickerRecord, now int64) error {
	if len(tickers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO wallet_tickers (` + tickerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (network_id, wallet_address, contract) DO UPDATE SET
			market_id = EXCLUDED.market_id,
			price = EXCLUDED.price,
			percent_change_24h = EXCLUDED.percent_change_24h,
			image_url = EXCLUDED.image_url,
			updated_time = GREATEST(wallet_tickers.updated_time, EXCLUDED.updated_time)
	`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range tickers {
		if t.Contract == "" {
			return fmt.Errorf("failed to upsert tickers: empty contract")
		}
		_, err := stmt.ExecContext(ctx,
			partition.NetworkID,
			partition.WalletAddress,
			t.Contract,
			t.ID,
			t.Price,
			t.PercentChange24h,
			t.ImageURL,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert ticker %s: %w", t.Contract, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tickers: %w", err)
	}

	return nil
}

// FindToken retrieves a token record by key
func (r *TokenRecordRepo) FindToken(ctx context.Context, key entities.TokenKey) (*entities.TokenRecord, error) {
	var rec entities.TokenRecord
	query := `SELECT ` + tokenColumns + ` FROM wallet_tokens
		WHERE network_id = $1 AND wallet_address = $2 AND token_address = $3`

	if err := r.db.GetContext(ctx, &rec, query, key.NetworkID, key.WalletAddress, key.TokenAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return &rec, nil
}

// ListTokens retrieves the partition's tokens ordered by added time
func (r *TokenRecordRepo) ListTokens(ctx context.Context, partition entities.Partition, filter repositories.TokenFilter) ([]entities.TokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM wallet_tokens
		WHERE network_id = $1 AND wallet_address = $2`
	if filter.EnabledOnly {
		query += ` AND is_enabled = TRUE`
	}
	query += ` ORDER BY added_time ASC, token_address ASC`

	records := make([]entities.TokenRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, partition.NetworkID, partition.WalletAddress); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	return records, nil
}

// ListTickers retrieves the partition's tickers matching the filter
func (r *TokenRecordRepo) ListTickers(ctx context.Context, partition entities.Partition, filter repositories.TickerFilter) ([]entities.TickerRecord, error) {
	query := `SELECT ` + tickerColumns + ` FROM wallet_tickers
		WHERE network_id = $1 AND wallet_address = $2 AND updated_time > $3`
	args := []interface{}{partition.NetworkID, partition.WalletAddress, filter.UpdatedAfter}

	if filter.Contracts != nil {
		query += ` AND contract = ANY($4)`
		args = append(args, pq.Array(filter.Contracts))
	}
	query += ` ORDER BY contract`

	records := make([]entities.TickerRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}

	return records, nil
}

// SetEnabled toggles the enabled flag; no rows affected is not an error
func (r *TokenRecordRepo) SetEnabled(ctx context.Context, key entities.TokenKey, enabled bool) error {
	query := `
		UPDATE wallet_tokens SET is_enabled = $4
		WHERE network_id = $1 AND wallet_address = $2 AND token_address = $3
	`

	if _, err := r.db.ExecContext(ctx, query, key.NetworkID, key.WalletAddress, key.TokenAddress, enabled); err != nil {
		return fmt.Errorf("failed to set enabled: %w", err)
	}

	return nil
}

// SetBalance writes the balance and refreshes updated_time; no rows affected is not an error
func (r *TokenRecordRepo) SetBalance(ctx context.Context, key entities.TokenKey, balance decimal.NullDecimal, now int64) error {
	query := `
		UPDATE wallet_tokens SET
			balance = $4,
			updated_time = GREATEST(updated_time, $5)
		WHERE network_id = $1 AND wallet_address = $2 AND token_address = $3
	`

	_, err := r.db.ExecContext(ctx, query, key.NetworkID, key.WalletAddress, key.TokenAddress, balance, now)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}

	return nil
}
