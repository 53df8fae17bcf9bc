package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

const nativeDecimals = 18

// ChainBalanceReader reads raw on-chain balances for a wallet
type ChainBalanceReader interface {
	NativeBalance(ctx context.Context, wallet string) (*big.Int, error)
	TokenBalances(ctx context.Context, wallet string, tokens []string) (map[string]*big.Int, error)
}

// WalletBalanceService fetches a wallet's balances for the refresh scheduler
// and writes token balances back into the token cache.
type WalletBalanceService struct {
	reader       ChainBalanceReader
	cache        *TokenCache
	tickers      *TickerService
	nativeSymbol string
	logger       *zap.Logger
}

// Ensure WalletBalanceService implements BalanceFetcher
var _ BalanceFetcher = (*WalletBalanceService)(nil)

// NewWalletBalanceService creates a new balance service. tickers may be nil.
func NewWalletBalanceService(
	reader ChainBalanceReader,
	cache *TokenCache,
	tickers *TickerService,
	nativeSymbol string,
	logger *zap.Logger,
) *WalletBalanceService {
	return &WalletBalanceService{
		reader:       reader,
		cache:        cache,
		tickers:      tickers,
		nativeSymbol: nativeSymbol,
		logger:       logger,
	}
}

// FetchBalances returns the native and enabled token balances keyed by symbol
func (s *WalletBalanceService) FetchBalances(ctx context.Context, networkID, wallet string) (map[string]string, error) {
	native, err := s.reader.NativeBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}

	tokens, err := s.cache.FetchEnabledTokens(ctx, networkID, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled tokens: %w", err)
	}

	balances := make(map[string]string, len(tokens)+1)
	balances[s.nativeSymbol] = decimal.NewFromBigInt(native, -nativeDecimals).String()

	if len(tokens) > 0 {
		addresses := make([]string, len(tokens))
		for i := range tokens {
			addresses[i] = tokens[i].Address
		}

		raw, err := s.reader.TokenBalances(ctx, wallet, addresses)
		if err != nil {
			return nil, err
		}

		for i := range tokens {
			token := tokens[i]
			value, ok := raw[token.Address]
			if !ok {
				continue
			}

			token.Balance = decimal.NewNullDecimal(decimal.NewFromBigInt(value, 0))
			if err := s.cache.UpdateBalance(ctx, networkID, wallet, token); err != nil {
				return nil, fmt.Errorf("failed to update balance of %s: %w", token.Address, err)
			}

			balances[balanceLabel(&token)] = decimal.NewFromBigInt(value, -int32(token.Decimals)).String()
		}
	}

	if s.tickers != nil {
		if _, err := s.tickers.RefreshIfStale(ctx, networkID, wallet, tokens); err != nil {
			s.logger.Warn("Failed to refresh tickers",
				zap.String("wallet", wallet),
				zap.Error(err),
			)
		}
	}

	return balances, nil
}

func balanceLabel(t *entities.Token) string {
	if t.Symbol == "" {
		return t.Address
	}
	return t.Symbol
}
