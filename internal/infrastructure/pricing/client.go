package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
)

// maxResponseBody caps how much of a response is read (1 MB)
const maxResponseBody = 1 << 20

var (
	// ErrNotConfigured is returned when no ticker source URL is set
	ErrNotConfigured = errors.New("pricing source not configured")
	// ErrRateLimited is returned when the ticker source answers 429
	ErrRateLimited = errors.New("pricing source rate limit exceeded")
)

type tickersResponse struct {
	Data []entities.Ticker `json:"data"`
}

// Client fetches market tickers from an HTTP ticker source
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new ticker source client
func NewClient(cfg config.PricingConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// FetchTickers returns tickers for the given contracts. Contracts the source
// does not know are simply absent from the result.
func (c *Client) FetchTickers(ctx context.Context, networkID string, contracts []string) ([]entities.Ticker, error) {
	if len(contracts) == 0 {
		return []entities.Ticker{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("network", networkID)
	params.Set("contracts", strings.ToLower(strings.Join(contracts, ",")))
	reqURL := fmt.Sprintf("%s/tickers?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickers: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing source returned status %d", resp.StatusCode)
	}

	var decoded tickersResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse tickers: %w", err)
	}

	c.logger.Debug("Fetched tickers",
		zap.String("network", networkID),
		zap.Int("requested", len(contracts)),
		zap.Int("received", len(decoded.Data)),
	)

	if decoded.Data == nil {
		return []entities.Ticker{}, nil
	}
	return decoded.Data, nil
}
