package ethereum

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// TransferEventSignature is the keccak256 hash of Transfer(address,address,uint256)
var TransferEventSignature = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// ParseTransferLog parses a raw Transfer log into a wallet transaction
func ParseTransferLog(log types.Log, blockTimestamp time.Time) (*entities.Transaction, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("invalid number of topics: expected 3, got %d", len(log.Topics))
	}

	if log.Topics[0] != TransferEventSignature {
		return nil, fmt.Errorf("not a Transfer event")
	}

	// indexed from/to are left-padded to 32 bytes
	fromAddress := common.BytesToAddress(log.Topics[1].Bytes())
	toAddress := common.BytesToAddress(log.Topics[2].Bytes())

	if len(log.Data) != 32 {
		return nil, fmt.Errorf("invalid data length: expected 32, got %d", len(log.Data))
	}
	value := new(big.Int).SetBytes(log.Data)

	return &entities.Transaction{
		TxHash:         log.TxHash.Hex(),
		LogIndex:       int(log.Index),
		BlockNumber:    int64(log.BlockNumber),
		BlockTimestamp: blockTimestamp,
		TokenAddress:   strings.ToLower(log.Address.Hex()),
		FromAddress:    strings.ToLower(fromAddress.Hex()),
		ToAddress:      strings.ToLower(toAddress.Hex()),
		Value:          value,
		ValueString:    value.String(),
	}, nil
}

// ParseTransferLogs parses logs into transactions, dropping duplicates.
// It returns the parsed transactions and the indices of logs that failed.
func ParseTransferLogs(logs []types.Log, blockTimestamps map[uint64]time.Time) ([]entities.Transaction, []int) {
	txs := make([]entities.Transaction, 0, len(logs))
	failedIndices := make([]int, 0)

	// a self-transfer matches both the sender and the receiver query
	seen := make(map[string]struct{}, len(logs))

	for i, log := range logs {
		timestamp, ok := blockTimestamps[log.BlockNumber]
		if !ok {
			failedIndices = append(failedIndices, i)
			continue
		}

		tx, err := ParseTransferLog(log, timestamp)
		if err != nil {
			failedIndices = append(failedIndices, i)
			continue
		}

		id := fmt.Sprintf("%s:%d", tx.TxHash, tx.LogIndex)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		txs = append(txs, *tx)
	}

	SortNewestFirst(txs)
	return txs, failedIndices
}

// SortNewestFirst orders transactions by block, then log index, descending
func SortNewestFirst(txs []entities.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].BlockNumber != txs[j].BlockNumber {
			return txs[i].BlockNumber > txs[j].BlockNumber
		}
		return txs[i].LogIndex > txs[j].LogIndex
	})
}

// IsTransferEvent checks if a log is a Transfer event
func IsTransferEvent(log types.Log) bool {
	return len(log.Topics) == 3 && log.Topics[0] == TransferEventSignature
}
