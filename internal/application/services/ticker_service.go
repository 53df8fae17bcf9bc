package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// TickerSource supplies market tickers for token contracts
type TickerSource interface {
	FetchTickers(ctx context.Context, networkID string, contracts []string) ([]entities.Ticker, error)
}

// TickerService keeps the cached tickers of a wallet's tokens fresh
type TickerService struct {
	cache  *TokenCache
	source TickerSource
	logger *zap.Logger
}

// NewTickerService creates a new ticker service
func NewTickerService(cache *TokenCache, source TickerSource, logger *zap.Logger) *TickerService {
	return &TickerService{
		cache:  cache,
		source: source,
		logger: logger,
	}
}

// RefreshIfStale fetches tickers for tokens only when the cache has no
// fresh tickers for them. It reports whether a fetch happened.
func (s *TickerService) RefreshIfStale(ctx context.Context, networkID, wallet string, tokens []entities.Token) (bool, error) {
	if len(tokens) == 0 {
		return false, nil
	}

	_, ok, err := s.cache.FetchFreshTickers(ctx, networkID, wallet, tokens)
	if err != nil {
		return false, fmt.Errorf("failed to check tickers: %w", err)
	}
	if ok {
		return false, nil
	}

	contracts := make([]string, len(tokens))
	for i := range tokens {
		contracts[i] = tokens[i].Address
	}

	tickers, err := s.source.FetchTickers(ctx, networkID, contracts)
	if err != nil {
		return false, fmt.Errorf("failed to fetch tickers: %w", err)
	}

	if err := s.cache.SaveTickers(ctx, networkID, wallet, tickers); err != nil {
		return false, fmt.Errorf("failed to save tickers: %w", err)
	}

	s.logger.Debug("Refreshed tickers",
		zap.String("network", networkID),
		zap.String("wallet", wallet),
		zap.Int("requested", len(contracts)),
		zap.Int("received", len(tickers)),
	)

	return true, nil
}
