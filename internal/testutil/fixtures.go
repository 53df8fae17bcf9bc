package testutil

import (
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// Common test addresses
const (
	USDTAddress  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	USDCAddress  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	AliceAddress = "0x1111111111111111111111111111111111111111"
	BobAddress   = "0x2222222222222222222222222222222222222222"
	CharlieAddr  = "0x3333333333333333333333333333333333333333"

	TestNetwork = "1"
)

// CreateTestToken creates a test token with default values
func CreateTestToken(opts ...TokenOption) entities.Token {
	t := entities.Token{
		Address:   USDTAddress,
		Name:      "Tether USD",
		Symbol:    "USDT",
		Decimals:  6,
		IsEnabled: true,
		Balance:   decimal.NewNullDecimal(decimal.NewFromInt(1000000)),
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}

type TokenOption func(*entities.Token)

func TokenWithAddress(addr string) TokenOption {
	return func(t *entities.Token) {
		t.Address = addr
	}
}

func TokenWithName(name string) TokenOption {
	return func(t *entities.Token) {
		t.Name = name
	}
}

func TokenWithSymbol(symbol string) TokenOption {
	return func(t *entities.Token) {
		t.Symbol = symbol
	}
}

func TokenWithDecimals(dec int) TokenOption {
	return func(t *entities.Token) {
		t.Decimals = dec
	}
}

func TokenWithBalance(balance int64) TokenOption {
	return func(t *entities.Token) {
		t.Balance = decimal.NewNullDecimal(decimal.NewFromInt(balance))
	}
}

func TokenWithNullBalance() TokenOption {
	return func(t *entities.Token) {
		t.Balance = decimal.NullDecimal{}
	}
}

// CreateTestTicker creates a test ticker with default values
func CreateTestTicker(opts ...TickerOption) entities.Ticker {
	t := entities.Ticker{
		ID:               "tether",
		Contract:         USDTAddress,
		Price:            "1.0001",
		PercentChange24h: "0.12",
		Image:            "https://example.com/usdt.png",
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}

type TickerOption func(*entities.Ticker)

func TickerWithID(id string) TickerOption {
	return func(t *entities.Ticker) {
		t.ID = id
	}
}

func TickerWithContract(contract string) TickerOption {
	return func(t *entities.Ticker) {
		t.Contract = contract
	}
}

func TickerWithPrice(price string) TickerOption {
	return func(t *entities.Ticker) {
		t.Price = price
	}
}

func TickerWithPercentChange(change string) TickerOption {
	return func(t *entities.Ticker) {
		t.PercentChange24h = change
	}
}

func TickerWithImage(image string) TickerOption {
	return func(t *entities.Ticker) {
		t.Image = image
	}
}

// CreateTestTransaction creates a test transaction with default values
func CreateTestTransaction(opts ...TransactionOption) entities.Transaction {
	t := entities.Transaction{
		TxHash:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		LogIndex:       0,
		BlockNumber:    12345678,
		BlockTimestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		TokenAddress:   USDTAddress,
		FromAddress:    AliceAddress,
		ToAddress:      BobAddress,
		Value:          big.NewInt(1000000), // 1 USDT
		ValueString:    "1000000",
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}

type TransactionOption func(*entities.Transaction)

func TxWithHash(hash string) TransactionOption {
	return func(t *entities.Transaction) {
		t.TxHash = hash
	}
}

func TxWithTokenAddress(addr string) TransactionOption {
	return func(t *entities.Transaction) {
		t.TokenAddress = addr
	}
}

func TxWithBlockNumber(num int64) TransactionOption {
	return func(t *entities.Transaction) {
		t.BlockNumber = num
	}
}

// FakeClock is a settable millisecond clock
type FakeClock struct {
	mu  sync.Mutex
	now int64
}

// NewFakeClock creates a clock fixed at now
func NewFakeClock(now int64) *FakeClock {
	return &FakeClock{now: now}
}

// NowMillis implements staleness.Clock
func (c *FakeClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now
func (c *FakeClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Milliseconds()
}

// PointerTo returns a pointer to the given value
func PointerTo[T any](v T) *T {
	return &v
}
