package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// TokenMutator applies caller changes to a token record inside an upsert.
// created reports whether the record did not exist before this call.
// Returning an error aborts the upsert and leaves the store unchanged.
type TokenMutator func(rec *entities.TokenRecord, created bool) error

// TokenFilter narrows token listings
type TokenFilter struct {
	EnabledOnly bool
}

// TickerFilter narrows ticker listings
type TickerFilter struct {
	// UpdatedAfter keeps records with UpdatedTime strictly greater than this value
	UpdatedAfter int64

	// Contracts keeps only the listed contracts; nil means all
	Contracts []string
}

// TokenRecordStore defines durable storage for token and ticker records.
// Every write is atomic per call: readers observe either the pre- or post-state.
type TokenRecordStore interface {
	// UpsertToken creates the record if absent (AddedTime=now, IsEnabled=true) and applies mutate
	UpsertToken(ctx context.Context, key entities.TokenKey, now int64, mutate TokenMutator) error

	// UpsertTickers writes all tickers in one transaction, preserving CreatedTime
	UpsertTickers(ctx context.Context, partition entities.Partition, tickers []entities.TickerRecord, now int64) error

	// FindToken returns nil when the record does not exist
	FindToken(ctx context.Context, key entities.TokenKey) (*entities.TokenRecord, error)

	// ListTokens returns records ordered by AddedTime ascending
	ListTokens(ctx context.Context, partition entities.Partition, filter TokenFilter) ([]entities.TokenRecord, error)

	// ListTickers returns ticker records matching the filter
	ListTickers(ctx context.Context, partition entities.Partition, filter TickerFilter) ([]entities.TickerRecord, error)

	// SetEnabled toggles the enabled flag; a missing record is a no-op
	SetEnabled(ctx context.Context, key entities.TokenKey, enabled bool) error

	// SetBalance writes the balance and refreshes UpdatedTime; a missing record is a no-op
	SetBalance(ctx context.Context, key entities.TokenKey, balance decimal.NullDecimal, now int64) error
}
