package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/domain/repositories"
	"github.com/bimakw/walletsync/internal/domain/staleness"
)

// DefaultImageURLTemplate derives a ticker image from its market id
const DefaultImageURLTemplate = "https://files.coinmarketcap.com/static/img/coins/128x128/%s.png"

var (
	ErrInvalidToken = errors.New("invalid token")
)

// CachePolicy configures freshness windows and ticker image defaults
type CachePolicy struct {
	BalanceWindow    time.Duration
	TickerWindow     time.Duration
	ImageURLTemplate string
}

// DefaultCachePolicy returns the standard five minute windows
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		BalanceWindow:    staleness.DefaultBalanceWindow,
		TickerWindow:     staleness.DefaultTickerWindow,
		ImageURLTemplate: DefaultImageURLTemplate,
	}
}

// TokenCache serves cached tokens and tickers for a wallet, hiding
// balances and tickers that have outlived their freshness window
type TokenCache struct {
	store            repositories.TokenRecordStore
	balancePolicy    staleness.Policy
	tickerPolicy     staleness.Policy
	imageURLTemplate string
	clock            staleness.Clock
	logger           *zap.Logger
}

// NewTokenCache creates a new token cache
func NewTokenCache(
	store repositories.TokenRecordStore,
	policy CachePolicy,
	clock staleness.Clock,
	logger *zap.Logger,
) *TokenCache {
	if clock == nil {
		clock = staleness.SystemClock{}
	}
	if policy.ImageURLTemplate == "" {
		policy.ImageURLTemplate = DefaultImageURLTemplate
	}

	return &TokenCache{
		store:            store,
		balancePolicy:    staleness.NewPolicy(policy.BalanceWindow),
		tickerPolicy:     staleness.NewPolicy(policy.TickerWindow),
		imageURLTemplate: policy.ImageURLTemplate,
		clock:            clock,
		logger:           logger,
	}
}

// FetchEnabledTokens returns enabled tokens ordered by the time they were added
func (c *TokenCache) FetchEnabledTokens(ctx context.Context, networkID, wallet string) ([]entities.Token, error) {
	return c.fetchTokens(ctx, networkID, wallet, repositories.TokenFilter{EnabledOnly: true})
}

// FetchAllTokens returns every token regardless of its enabled flag
func (c *TokenCache) FetchAllTokens(ctx context.Context, networkID, wallet string) ([]entities.Token, error) {
	return c.fetchTokens(ctx, networkID, wallet, repositories.TokenFilter{})
}

func (c *TokenCache) fetchTokens(ctx context.Context, networkID, wallet string, filter repositories.TokenFilter) ([]entities.Token, error) {
	partition := entities.NewPartition(networkID, wallet)

	records, err := c.store.ListTokens(ctx, partition, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	now := c.clock.NowMillis()
	tokens := make([]entities.Token, 0, len(records))
	for i := range records {
		tokens = append(tokens, c.toToken(&records[i], now))
	}

	return tokens, nil
}

// toToken converts a record, nulling a balance that is no longer fresh
func (c *TokenCache) toToken(rec *entities.TokenRecord, now int64) entities.Token {
	token := entities.Token{
		Address:     rec.TokenAddress,
		Name:        rec.Name,
		Symbol:      rec.Symbol,
		Decimals:    rec.Decimals,
		IsEnabled:   rec.IsEnabled,
		UpdatedTime: rec.UpdatedTime,
	}
	if rec.Balance.Valid && c.balancePolicy.IsFresh(rec.UpdatedTime, now) {
		token.Balance = rec.Balance
	}
	return token
}

// SaveTokens upserts each token. Metadata is written only when the record is
// created; balance and updated time are refreshed on every save.
func (c *TokenCache) SaveTokens(ctx context.Context, networkID, wallet string, tokens []entities.Token) error {
	for i := range tokens {
		if err := validateToken(&tokens[i]); err != nil {
			return err
		}
	}

	now := c.clock.NowMillis()
	for _, token := range tokens {
		key := entities.NewTokenKey(networkID, wallet, token.Address)

		err := c.store.UpsertToken(ctx, key, now, func(rec *entities.TokenRecord, created bool) error {
			if created {
				rec.Name = token.Name
				rec.Symbol = token.Symbol
				rec.Decimals = token.Decimals
				rec.IsEnabled = true
			}
			rec.Balance = token.Balance
			rec.UpdatedTime = now
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to save token %s: %w", key.TokenAddress, err)
		}
	}

	c.logger.Debug("Saved tokens",
		zap.String("network", networkID),
		zap.String("wallet", wallet),
		zap.Int("count", len(tokens)),
	)

	return nil
}

func validateToken(t *entities.Token) error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidToken)
	}
	if t.Decimals < 0 {
		return fmt.Errorf("%w: negative decimals for %s", ErrInvalidToken, t.Address)
	}
	return nil
}

// SetEnabled toggles a token; an unknown token is ignored
func (c *TokenCache) SetEnabled(ctx context.Context, networkID, wallet, tokenAddress string, enabled bool) error {
	key := entities.NewTokenKey(networkID, wallet, tokenAddress)
	if err := c.store.SetEnabled(ctx, key, enabled); err != nil {
		return fmt.Errorf("failed to set enabled: %w", err)
	}
	return nil
}

// UpdateBalance writes token.Balance and marks it fresh; an unknown token is ignored
func (c *TokenCache) UpdateBalance(ctx context.Context, networkID, wallet string, token entities.Token) error {
	key := entities.NewTokenKey(networkID, wallet, token.Address)
	if err := c.store.SetBalance(ctx, key, token.Balance, c.clock.NowMillis()); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// SaveTickers upserts all tickers in one write
func (c *TokenCache) SaveTickers(ctx context.Context, networkID, wallet string, tickers []entities.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}

	records := make([]entities.TickerRecord, 0, len(tickers))
	for _, t := range tickers {
		image := t.Image
		if image == "" {
			image = fmt.Sprintf(c.imageURLTemplate, t.ID)
		}
		records = append(records, entities.TickerRecord{
			Contract:         strings.ToLower(t.Contract),
			ID:               t.ID,
			Price:            t.Price,
			PercentChange24h: t.PercentChange24h,
			ImageURL:         image,
		})
	}

	partition := entities.NewPartition(networkID, wallet)
	if err := c.store.UpsertTickers(ctx, partition, records, c.clock.NowMillis()); err != nil {
		return fmt.Errorf("failed to save tickers: %w", err)
	}

	return nil
}

// FetchFreshTickers returns the fresh tickers for the given tokens.
// ok is false when no ticker qualifies, including when tokens is empty.
func (c *TokenCache) FetchFreshTickers(ctx context.Context, networkID, wallet string, tokens []entities.Token) ([]entities.Ticker, bool, error) {
	if len(tokens) == 0 {
		return []entities.Ticker{}, false, nil
	}

	contracts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		contracts = append(contracts, strings.ToLower(t.Address))
	}

	filter := repositories.TickerFilter{
		UpdatedAfter: c.tickerPolicy.Cutoff(c.clock.NowMillis()),
		Contracts:    contracts,
	}

	records, err := c.store.ListTickers(ctx, entities.NewPartition(networkID, wallet), filter)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list tickers: %w", err)
	}

	tickers := make([]entities.Ticker, 0, len(records))
	for _, rec := range records {
		tickers = append(tickers, entities.Ticker{
			ID:               rec.ID,
			Contract:         rec.Contract,
			Price:            rec.Price,
			PercentChange24h: rec.PercentChange24h,
			Image:            rec.ImageURL,
		})
	}

	return tickers, len(tickers) > 0, nil
}

// FetchTokensWithTickers returns tokens with their fresh ticker attached when one exists
func (c *TokenCache) FetchTokensWithTickers(ctx context.Context, networkID, wallet string, enabledOnly bool) ([]entities.Token, error) {
	tokens, err := c.fetchTokens(ctx, networkID, wallet, repositories.TokenFilter{EnabledOnly: enabledOnly})
	if err != nil {
		return nil, err
	}

	tickers, ok, err := c.FetchFreshTickers(ctx, networkID, wallet, tokens)
	if err != nil {
		return nil, err
	}
	if !ok {
		return tokens, nil
	}

	byContract := make(map[string]entities.Ticker, len(tickers))
	for _, t := range tickers {
		byContract[t.Contract] = t
	}
	for i := range tokens {
		if t, found := byContract[strings.ToLower(tokens[i].Address)]; found {
			tokens[i].Ticker = &t
		}
	}

	return tokens, nil
}
