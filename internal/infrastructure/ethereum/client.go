package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bimakw/walletsync/internal/config"
)

// balanceOf(address) -> 0x70a08231
var balanceOfSig = common.FromHex("0x70a08231")

// Client wraps the Ethereum client with rate limiting and retry logic
type Client struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	config  config.EthereumConfig
	logger  *zap.Logger
	chainID *big.Int
}

// NewClient creates a new Ethereum client
func NewClient(cfg config.EthereumConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", cfg.ChainID, chainID.Int64())
	}

	logger.Info("Connected to Ethereum node",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", chainID.Int64()),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)

	return &Client{
		client:  client,
		limiter: newLimiter(cfg),
		config:  cfg,
		logger:  logger,
		chainID: chainID,
	}, nil
}

func newLimiter(cfg config.EthereumConfig) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
}

// Close closes the Ethereum client connection
func (c *Client) Close() {
	c.client.Close()
}

// HealthCheck verifies the node is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ethereum node unreachable: %w", err)
	}
	return nil
}

// withRetry runs call under the rate limiter, retrying up to MaxRetries times
func withRetry[T any](ctx context.Context, c *Client, op string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var err error

	for i := 0; i <= c.config.MaxRetries; i++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return zero, fmt.Errorf("failed to %s: %w", op, werr)
		}

		var result T
		result, err = call(ctx)
		if err == nil {
			return result, nil
		}

		c.logger.Warn("RPC call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if i < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("failed to %s: %w", op, ctx.Err())
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	return zero, fmt.Errorf("failed to %s after %d retries: %w", op, c.config.MaxRetries, err)
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return withRetry(ctx, c, "get latest block number", func(ctx context.Context) (uint64, error) {
		return c.client.BlockNumber(ctx)
	})
}

// GetLogs retrieves logs matching the filter query
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return withRetry(ctx, c, "get logs", func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
}

// GetBlockTimestamp returns the timestamp of a block
func (c *Client) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := withRetry(ctx, c, "get block header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// CallContract executes a read-only call against the latest block
func (c *Client) CallContract(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}
	return withRetry(ctx, c, "call contract", func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, nil)
	})
}

// BalanceAt returns the native balance of account in wei
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return withRetry(ctx, c, "get balance", func(ctx context.Context) (*big.Int, error) {
		return c.client.BalanceAt(ctx, account, nil)
	})
}

// TokenBalance returns the raw ERC-20 balance of holder
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data := make([]byte, 0, len(balanceOfSig)+32)
	data = append(data, balanceOfSig...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	result, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return decodeUint256(result)
}

func decodeUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("invalid uint256 response length: %d", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// BuildWalletTransferQueries builds filter queries matching ERC-20 Transfer
// events sent from and received by wallet
func BuildWalletTransferQueries(fromBlock, toBlock *big.Int, wallet common.Address) []ethereum.FilterQuery {
	walletTopic := common.BytesToHash(wallet.Bytes())

	return []ethereum.FilterQuery{
		{
			FromBlock: fromBlock,
			ToBlock:   toBlock,
			Topics:    [][]common.Hash{{TransferEventSignature}, {walletTopic}},
		},
		{
			FromBlock: fromBlock,
			ToBlock:   toBlock,
			Topics:    [][]common.Hash{{TransferEventSignature}, nil, {walletTopic}},
		},
	}
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}
