package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
)

// ChainReader is the subset of Client used to read wallet activity
type ChainReader interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Ensure Client implements ChainReader
var _ ChainReader = (*Client)(nil)

// TransactionFetcher streams a wallet's recent ERC-20 transfers
type TransactionFetcher struct {
	client ChainReader
	config config.SyncConfig
	logger *zap.Logger
}

// NewTransactionFetcher creates a new transaction fetcher
func NewTransactionFetcher(client ChainReader, cfg config.SyncConfig, logger *zap.Logger) *TransactionFetcher {
	return &TransactionFetcher{
		client: client,
		config: cfg,
		logger: logger,
	}
}

// FetchTransactions walks the lookback window newest range first. After each
// range it emits every transaction found so far, newest first.
func (f *TransactionFetcher) FetchTransactions(ctx context.Context, wallet string, emit func([]entities.Transaction)) error {
	latest, err := f.client.GetLatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	toBlock := int64(latest)
	fromBlock := toBlock - f.config.TxLookbackBlocks + 1
	if fromBlock < 0 {
		fromBlock = 0
	}

	ranges := SplitBlockRange(fromBlock, toBlock, f.config.TxBatchSize)
	collected := make([]entities.Transaction, 0)

	for i := len(ranges) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r := ranges[i]
		txs, err := f.FetchRange(ctx, wallet, r.From, r.To)
		if err != nil {
			return fmt.Errorf("failed to fetch transactions for blocks %d-%d: %w", r.From, r.To, err)
		}

		// older ranges append after newer ones, keeping newest first
		collected = append(collected, txs...)

		page := make([]entities.Transaction, len(collected))
		copy(page, collected)
		emit(page)
	}

	f.logger.Debug("Fetched wallet transactions",
		zap.String("wallet", wallet),
		zap.Int64("from_block", fromBlock),
		zap.Int64("to_block", toBlock),
		zap.Int("count", len(collected)),
	)

	return nil
}

// FetchRange returns the wallet's transfers within [fromBlock, toBlock], newest first
func (f *TransactionFetcher) FetchRange(ctx context.Context, wallet string, fromBlock, toBlock int64) ([]entities.Transaction, error) {
	queries := BuildWalletTransferQueries(big.NewInt(fromBlock), big.NewInt(toBlock), common.HexToAddress(wallet))

	var logs []types.Log
	for _, q := range queries {
		found, err := f.client.GetLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch logs: %w", err)
		}
		logs = append(logs, found...)
	}

	if len(logs) == 0 {
		return []entities.Transaction{}, nil
	}

	blockNumbers := make(map[uint64]struct{})
	for _, log := range logs {
		blockNumbers[log.BlockNumber] = struct{}{}
	}

	blockTimestamps, err := f.fetchBlockTimestamps(ctx, blockNumbers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block timestamps: %w", err)
	}

	txs, failedIndices := ParseTransferLogs(logs, blockTimestamps)
	if len(failedIndices) > 0 {
		f.logger.Warn("Failed to parse some logs",
			zap.Int("failed_count", len(failedIndices)),
			zap.Int("total_logs", len(logs)),
		)
	}

	return txs, nil
}

// fetchBlockTimestamps fetches timestamps for multiple blocks concurrently
func (f *TransactionFetcher) fetchBlockTimestamps(ctx context.Context, blockNumbers map[uint64]struct{}) (map[uint64]time.Time, error) {
	timestamps := make(map[uint64]time.Time, len(blockNumbers))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(f.config.WorkerCount))

	for blockNum := range blockNumbers {
		g.Go(func() error {
			timestamp, err := f.client.GetBlockTimestamp(ctx, blockNum)
			if err != nil {
				return fmt.Errorf("failed to get timestamp for block %d: %w", blockNum, err)
			}

			mu.Lock()
			timestamps[blockNum] = timestamp
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return timestamps, nil
}

func workerLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// BlockRange represents a range of blocks to fetch
type BlockRange struct {
	From int64
	To   int64
}

// SplitBlockRange splits a range into batches
func SplitBlockRange(fromBlock, toBlock int64, batchSize int) []BlockRange {
	if fromBlock > toBlock {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}

	var ranges []BlockRange
	for current := fromBlock; current <= toBlock; current += int64(batchSize) {
		end := current + int64(batchSize) - 1
		if end > toBlock {
			end = toBlock
		}
		ranges = append(ranges, BlockRange{From: current, To: end})
	}

	return ranges
}
