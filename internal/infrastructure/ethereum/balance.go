package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/walletsync/internal/config"
)

// BalanceReader reads native and ERC-20 balances
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Ensure Client implements BalanceReader
var _ BalanceReader = (*Client)(nil)

// BalanceFetcher reads a wallet's raw on-chain balances
type BalanceFetcher struct {
	client  BalanceReader
	workers int
	logger  *zap.Logger
}

// NewBalanceFetcher creates a new balance fetcher
func NewBalanceFetcher(client BalanceReader, cfg config.SyncConfig, logger *zap.Logger) *BalanceFetcher {
	return &BalanceFetcher{
		client:  client,
		workers: workerLimit(cfg.WorkerCount),
		logger:  logger,
	}
}

// NativeBalance returns the wallet's native balance in wei
func (f *BalanceFetcher) NativeBalance(ctx context.Context, wallet string) (*big.Int, error) {
	balance, err := f.client.BalanceAt(ctx, common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch native balance: %w", err)
	}
	return balance, nil
}

// TokenBalances returns raw balances keyed by lower-cased token address.
// Any failed call fails the whole batch.
func (f *BalanceFetcher) TokenBalances(ctx context.Context, wallet string, tokens []string) (map[string]*big.Int, error) {
	holder := common.HexToAddress(wallet)
	balances := make(map[string]*big.Int, len(tokens))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, token := range tokens {
		token := strings.ToLower(token)
		g.Go(func() error {
			balance, err := f.client.TokenBalance(ctx, common.HexToAddress(token), holder)
			if err != nil {
				return fmt.Errorf("failed to fetch balance of %s: %w", token, err)
			}

			mu.Lock()
			balances[token] = balance
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.logger.Debug("Fetched token balances",
		zap.String("wallet", wallet),
		zap.Int("tokens", len(balances)),
	)

	return balances, nil
}
