package entities

import (
	"time"
)

// UpdateKind distinguishes the refresh cycle that produced an update
type UpdateKind string

const (
	UpdateBalance      UpdateKind = "balance"
	UpdateTransactions UpdateKind = "transactions"
)

// WalletUpdate is published by the refresh scheduler after every fetch result.
// Exactly one of Balances, Transactions or Err is meaningful for a given Kind.
type WalletUpdate struct {
	Kind         UpdateKind        `json:"kind"`
	NetworkID    string            `json:"network_id"`
	Wallet       string            `json:"wallet"`
	Transactions []Transaction     `json:"transactions,omitempty"`
	Balances     map[string]string `json:"balances,omitempty"`
	Err          error             `json:"-"`
	Error        string            `json:"error,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
}
