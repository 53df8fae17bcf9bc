package entities

import (
	"math/big"
	"time"
)

// Transaction represents an ERC-20 Transfer touching a wallet
type Transaction struct {
	TxHash         string    `json:"tx_hash"`
	LogIndex       int       `json:"log_index"`
	BlockNumber    int64     `json:"block_number"`
	BlockTimestamp time.Time `json:"block_timestamp"`
	TokenAddress   string    `json:"token_address"`
	FromAddress    string    `json:"from_address"`
	ToAddress      string    `json:"to_address"`
	Value          *big.Int  `json:"-"`
	ValueString    string    `json:"value"`
}
