package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// MetadataReader resolves a token contract into a cache entry
type MetadataReader interface {
	FetchToken(ctx context.Context, tokenAddress string) (entities.Token, error)
}

// TokenDiscovery wraps a TransactionFetcher and adds every token contract
// seen in the wallet's transfers to the token cache.
type TokenDiscovery struct {
	inner     TransactionFetcher
	metadata  MetadataReader
	cache     *TokenCache
	networkID string
	logger    *zap.Logger
}

// Ensure TokenDiscovery implements TransactionFetcher
var _ TransactionFetcher = (*TokenDiscovery)(nil)

// NewTokenDiscovery creates a new discovering transaction fetcher
func NewTokenDiscovery(
	inner TransactionFetcher,
	metadata MetadataReader,
	cache *TokenCache,
	networkID string,
	logger *zap.Logger,
) *TokenDiscovery {
	return &TokenDiscovery{
		inner:     inner,
		metadata:  metadata,
		cache:     cache,
		networkID: networkID,
		logger:    logger,
	}
}

// FetchTransactions forwards every emission after caching unseen tokens.
// Discovery failures are logged and never fail the fetch.
func (d *TokenDiscovery) FetchTransactions(ctx context.Context, wallet string, emit func([]entities.Transaction)) error {
	seen := make(map[string]struct{})

	known, err := d.cache.FetchAllTokens(ctx, d.networkID, wallet)
	if err != nil {
		d.logger.Warn("Failed to load known tokens", zap.String("wallet", wallet), zap.Error(err))
	}
	for i := range known {
		seen[known[i].Address] = struct{}{}
	}

	return d.inner.FetchTransactions(ctx, wallet, func(txs []entities.Transaction) {
		d.discover(ctx, wallet, txs, seen)
		emit(txs)
	})
}

func (d *TokenDiscovery) discover(ctx context.Context, wallet string, txs []entities.Transaction, seen map[string]struct{}) {
	var found []entities.Token

	for i := range txs {
		address := strings.ToLower(txs[i].TokenAddress)
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}

		token, err := d.metadata.FetchToken(ctx, address)
		if err != nil {
			d.logger.Warn("Skipping token without metadata",
				zap.String("token", address),
				zap.Error(err),
			)
			continue
		}
		found = append(found, token)
	}

	if len(found) == 0 {
		return
	}

	if err := d.cache.SaveTokens(ctx, d.networkID, wallet, found); err != nil {
		d.logger.Warn("Failed to save discovered tokens",
			zap.String("wallet", wallet),
			zap.Int("count", len(found)),
			zap.Error(err),
		)
		return
	}

	d.logger.Info("Discovered tokens",
		zap.String("wallet", wallet),
		zap.Int("count", len(found)),
	)
}
