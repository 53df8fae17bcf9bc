package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// TokenService provides the wallet token queries behind the API
type TokenService struct {
	cache  *TokenCache
	logger *zap.Logger
}

// NewTokenService creates a new token service
func NewTokenService(cache *TokenCache, logger *zap.Logger) *TokenService {
	return &TokenService{
		cache:  cache,
		logger: logger,
	}
}

// TokenListResponse is the API response for token list queries
type TokenListResponse struct {
	Data []TokenDTO `json:"data"`
	Meta ListMeta   `json:"meta"`
}

// TickerListResponse is the API response for ticker queries
type TickerListResponse struct {
	Data []TickerDTO `json:"data"`
	Meta ListMeta    `json:"meta"`
}

// ListMeta describes the wallet a list belongs to
type ListMeta struct {
	NetworkID string `json:"network_id"`
	Wallet    string `json:"wallet"`
	Total     int    `json:"total"`
}

// GetWalletTokens returns the wallet's tokens with display values.
// Disabled tokens are included only when all is set.
func (s *TokenService) GetWalletTokens(ctx context.Context, networkID, wallet string, all bool) (*TokenListResponse, error) {
	tokens, err := s.cache.FetchTokensWithTickers(ctx, networkID, wallet, !all)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	dtos := make([]TokenDTO, len(tokens))
	for i := range tokens {
		dtos[i] = tokenToDTO(&tokens[i])
	}

	return &TokenListResponse{
		Data: dtos,
		Meta: ListMeta{
			NetworkID: networkID,
			Wallet:    strings.ToLower(wallet),
			Total:     len(dtos),
		},
	}, nil
}

// SetTokenEnabled toggles a token's visibility
func (s *TokenService) SetTokenEnabled(ctx context.Context, networkID, wallet, token string, enabled bool) error {
	if err := s.cache.SetEnabled(ctx, networkID, wallet, token, enabled); err != nil {
		return err
	}

	s.logger.Info("Token visibility changed",
		zap.String("network", networkID),
		zap.String("wallet", wallet),
		zap.String("token", token),
		zap.Bool("enabled", enabled),
	)

	return nil
}

// GetFreshTickers returns the fresh tickers of the wallet's tokens, or nil when there are none
func (s *TokenService) GetFreshTickers(ctx context.Context, networkID, wallet string) (*TickerListResponse, error) {
	tokens, err := s.cache.FetchAllTokens(ctx, networkID, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	tickers, ok, err := s.cache.FetchFreshTickers(ctx, networkID, wallet, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return &TickerListResponse{
		Data: tickersToDTOs(tickers),
		Meta: ListMeta{
			NetworkID: networkID,
			Wallet:    strings.ToLower(wallet),
			Total:     len(tickers),
		},
	}, nil
}

func tickersToDTOs(tickers []entities.Ticker) []TickerDTO {
	dtos := make([]TickerDTO, len(tickers))
	for i := range tickers {
		dtos[i] = tickerToDTO(&tickers[i])
	}
	return dtos
}
