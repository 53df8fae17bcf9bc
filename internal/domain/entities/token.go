package entities

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Partition identifies the storage handle a wallet's records live in.
// Every cached record belongs to exactly one (network, wallet) pair.
type Partition struct {
	NetworkID     string `json:"network_id"`
	WalletAddress string `json:"wallet_address"`
}

// NewPartition builds a partition with a normalized wallet address
func NewPartition(networkID, wallet string) Partition {
	return Partition{
		NetworkID:     networkID,
		WalletAddress: strings.ToLower(wallet),
	}
}

// TokenKey uniquely identifies a cached token record
type TokenKey struct {
	Partition
	TokenAddress string `json:"token_address"`
}

// NewTokenKey builds a token key with normalized addresses
func NewTokenKey(networkID, wallet, token string) TokenKey {
	return TokenKey{
		Partition:    NewPartition(networkID, wallet),
		TokenAddress: strings.ToLower(token),
	}
}

// TokenRecord is the persisted form of a token observed for a wallet.
// Balance is raw (undivided by decimals); an invalid balance means it was never fetched.
type TokenRecord struct {
	NetworkID     string              `db:"network_id" json:"network_id"`
	WalletAddress string              `db:"wallet_address" json:"wallet_address"`
	TokenAddress  string              `db:"token_address" json:"token_address"`
	Name          string              `db:"name" json:"name"`
	Symbol        string              `db:"symbol" json:"symbol"`
	Decimals      int                 `db:"decimals" json:"decimals"`
	Balance       decimal.NullDecimal `db:"balance" json:"balance"`
	IsEnabled     bool                `db:"is_enabled" json:"is_enabled"`
	AddedTime     int64               `db:"added_time" json:"added_time"`
	UpdatedTime   int64               `db:"updated_time" json:"updated_time"`
}

// Key returns the identity of the record
func (r *TokenRecord) Key() TokenKey {
	return TokenKey{
		Partition:    Partition{NetworkID: r.NetworkID, WalletAddress: r.WalletAddress},
		TokenAddress: r.TokenAddress,
	}
}

// Token is the read model handed to callers of the token cache.
// Balance is invalid when the cached value is missing or stale and must be refetched.
type Token struct {
	Address     string              `json:"address"`
	Name        string              `json:"name"`
	Symbol      string              `json:"symbol"`
	Decimals    int                 `json:"decimals"`
	IsEnabled   bool                `json:"is_enabled"`
	Balance     decimal.NullDecimal `json:"balance"`
	UpdatedTime int64               `json:"updated_time"`
	Ticker      *Ticker             `json:"ticker,omitempty"`
}

// DisplayName returns "Name (SYMBOL)", or just the symbol when the name is empty
func (t *Token) DisplayName() string {
	if t.Name == "" {
		return t.Symbol
	}
	return t.Name + " (" + t.Symbol + ")"
}
