/*
 * Copyright (c) 2024 Bima Kharisma Wicaksana
 * GitHub: https://github.com/bimakw
 *
 * Licensed under MIT License with Attribution Requirement.
 * See LICENSE file for details.
 */

package ethereum

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// ContractCaller executes read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, contract common.Address, data []byte) ([]byte, error)
}

// Ensure Client implements ContractCaller
var _ ContractCaller = (*Client)(nil)

// TokenMetadata holds ERC-20 token metadata
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Token returns a cache entry for the contract with an unknown balance
func (m *TokenMetadata) Token(address string) entities.Token {
	return entities.Token{
		Address:   strings.ToLower(address),
		Name:      m.Name,
		Symbol:    m.Symbol,
		Decimals:  int(m.Decimals),
		IsEnabled: true,
	}
}

// ERC-20 function selectors (first 4 bytes of keccak256 hash)
var (
	nameSig     = common.FromHex("0x06fdde03")
	symbolSig   = common.FromHex("0x95d89b41")
	decimalsSig = common.FromHex("0x313ce567")
)

var (
	stringReturn = abi.Arguments{{Type: mustABIType("string")}}
	uint8Return  = abi.Arguments{{Type: mustABIType("uint8")}}
)

func mustABIType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Placeholders used when a contract does not answer a metadata call
const (
	fallbackName     = "Unknown"
	fallbackSymbol   = "UNK"
	fallbackDecimals = 18
)

// MetadataFetcher fetches ERC-20 token metadata via eth_call
type MetadataFetcher struct {
	client ContractCaller
	logger *zap.Logger
}

// NewMetadataFetcher creates a new metadata fetcher
func NewMetadataFetcher(client ContractCaller, logger *zap.Logger) *MetadataFetcher {
	return &MetadataFetcher{
		client: client,
		logger: logger,
	}
}

// FetchMetadata fetches token metadata for a given contract address.
// Missing fields fall back to placeholders; an error is returned only when
// the contract answers none of the calls.
func (f *MetadataFetcher) FetchMetadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error) {
	addr := common.HexToAddress(tokenAddress)
	meta := &TokenMetadata{
		Name:     fallbackName,
		Symbol:   fallbackSymbol,
		Decimals: fallbackDecimals,
	}

	lookups := []struct {
		field    string
		selector []byte
		apply    func(result []byte) error
	}{
		{"name", nameSig, func(b []byte) error {
			s, err := decodeTokenString(b)
			if err == nil {
				meta.Name = s
			}
			return err
		}},
		{"symbol", symbolSig, func(b []byte) error {
			s, err := decodeTokenString(b)
			if err == nil {
				meta.Symbol = s
			}
			return err
		}},
		{"decimals", decimalsSig, func(b []byte) error {
			d, err := decodeDecimals(b)
			if err == nil {
				meta.Decimals = d
			}
			return err
		}},
	}

	failures := 0
	for _, l := range lookups {
		result, err := f.client.CallContract(ctx, addr, l.selector)
		if err == nil {
			err = l.apply(result)
		}
		if err != nil {
			f.logger.Warn("Failed to fetch token metadata field, using fallback",
				zap.String("token", tokenAddress),
				zap.String("field", l.field),
				zap.Error(err),
			)
			failures++
		}
	}

	if failures == len(lookups) {
		return nil, fmt.Errorf("failed to fetch metadata for %s: not an ERC-20 contract", tokenAddress)
	}

	return meta, nil
}

// FetchToken resolves a contract into a new cache entry with an unknown balance
func (f *MetadataFetcher) FetchToken(ctx context.Context, tokenAddress string) (entities.Token, error) {
	metadata, err := f.FetchMetadata(ctx, tokenAddress)
	if err != nil {
		return entities.Token{}, err
	}
	return metadata.Token(tokenAddress), nil
}

// decodeTokenString decodes an ABI string return, falling back to the
// bytes32 encoding some older tokens (MKR) use
func decodeTokenString(data []byte) (string, error) {
	if values, err := stringReturn.Unpack(data); err == nil {
		return values[0].(string), nil
	}

	if len(data) < 32 {
		return "", fmt.Errorf("invalid string response length: %d", len(data))
	}

	raw := bytes.TrimRight(data[:32], "\x00")
	if printable(raw) {
		return string(raw), nil
	}
	return "0x" + hex.EncodeToString(data[:32]), nil
}

func decodeDecimals(data []byte) (uint8, error) {
	values, err := uint8Return.Unpack(data)
	if err != nil {
		return 0, fmt.Errorf("invalid decimals response: %w", err)
	}
	return values[0].(uint8), nil
}

// printable reports whether data is non-empty printable ASCII
func printable(data []byte) bool {
	for _, b := range data {
		if b < 32 || b > 126 {
			return false
		}
	}
	return len(data) > 0
}
