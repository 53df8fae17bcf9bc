package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/domain/repositories"
)

// MockCall records a single invocation on a mock
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockTokenRecordStore is a mock implementation of TokenRecordStore.
// Without hooks it behaves as a simple in-memory store.
type MockTokenRecordStore struct {
	mu      sync.RWMutex
	tokens  map[entities.TokenKey]entities.TokenRecord
	tickers map[entities.Partition]map[string]entities.TickerRecord

	// Function hooks for custom behavior
	UpsertTokenFunc   func(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error
	UpsertTickersFunc func(ctx context.Context, partition entities.Partition, tickers []entities.TickerRecord, now int64) error
	FindTokenFunc     func(ctx context.Context, key entities.TokenKey) (*entities.TokenRecord, error)
	ListTokensFunc    func(ctx context.Context, partition entities.Partition, filter repositories.TokenFilter) ([]entities.TokenRecord, error)
	ListTickersFunc   func(ctx context.Context, partition entities.Partition, filter repositories.TickerFilter) ([]entities.TickerRecord, error)
	SetEnabledFunc    func(ctx context.Context, key entities.TokenKey, enabled bool) error
	SetBalanceFunc    func(ctx context.Context, key entities.TokenKey, balance decimal.NullDecimal, now int64) error

	// Call tracking
	Calls []MockCall
}

// Ensure MockTokenRecordStore implements TokenRecordStore
var _ repositories.TokenRecordStore = (*MockTokenRecordStore)(nil)

func NewMockTokenRecordStore() *MockTokenRecordStore {
	return &MockTokenRecordStore{
		tokens:  make(map[entities.TokenKey]entities.TokenRecord),
		tickers: make(map[entities.Partition]map[string]entities.TickerRecord),
		Calls:   make([]MockCall, 0),
	}
}

func (m *MockTokenRecordStore) record(method string, args ...interface{}) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
	m.mu.Unlock()
}

// CallCount returns how many times method was invoked
func (m *MockTokenRecordStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *MockTokenRecordStore) UpsertToken(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error {
	m.record("UpsertToken", key, now)

	if m.UpsertTokenFunc != nil {
		return m.UpsertTokenFunc(ctx, key, now, mutate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.tokens[key]
	if !exists {
		rec = entities.TokenRecord{AddedTime: now, IsEnabled: true}
	}
	if err := mutate(&rec, !exists); err != nil {
		return err
	}
	rec.NetworkID = key.NetworkID
	rec.WalletAddress = key.WalletAddress
	rec.TokenAddress = key.TokenAddress
	m.tokens[key] = rec
	return nil
}

func (m *MockTokenRecordStore) UpsertTickers(ctx context.Context, partition entities.Partition, tickers []entities.TickerRecord, now int64) error {
	m.record("UpsertTickers", partition, tickers, now)

	if m.UpsertTickersFunc != nil {
		return m.UpsertTickersFunc(ctx, partition, tickers, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byContract, ok := m.tickers[partition]
	if !ok {
		byContract = make(map[string]entities.TickerRecord)
		m.tickers[partition] = byContract
	}
	for _, t := range tickers {
		if t.Contract == "" {
			return errors.New("empty contract")
		}
		rec := t
		rec.NetworkID = partition.NetworkID
		rec.WalletAddress = partition.WalletAddress
		rec.CreatedTime = now
		if prev, ok := byContract[t.Contract]; ok {
			rec.CreatedTime = prev.CreatedTime
		}
		rec.UpdatedTime = now
		byContract[t.Contract] = rec
	}
	return nil
}

func (m *MockTokenRecordStore) FindToken(ctx context.Context, key entities.TokenKey) (*entities.TokenRecord, error) {
	m.record("FindToken", key)

	if m.FindTokenFunc != nil {
		return m.FindTokenFunc(ctx, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MockTokenRecordStore) ListTokens(ctx context.Context, partition entities.Partition, filter repositories.TokenFilter) ([]entities.TokenRecord, error) {
	m.record("ListTokens", partition, filter)

	if m.ListTokensFunc != nil {
		return m.ListTokensFunc(ctx, partition, filter)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.TokenRecord, 0)
	for key, rec := range m.tokens {
		if key.Partition != partition {
			continue
		}
		if filter.EnabledOnly && !rec.IsEnabled {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddedTime != result[j].AddedTime {
			return result[i].AddedTime < result[j].AddedTime
		}
		return result[i].TokenAddress < result[j].TokenAddress
	})
	return result, nil
}

func (m *MockTokenRecordStore) ListTickers(ctx context.Context, partition entities.Partition, filter repositories.TickerFilter) ([]entities.TickerRecord, error) {
	m.record("ListTickers", partition, filter)

	if m.ListTickersFunc != nil {
		return m.ListTickersFunc(ctx, partition, filter)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.TickerRecord, 0)
	for contract, rec := range m.tickers[partition] {
		if rec.UpdatedTime <= filter.UpdatedAfter {
			continue
		}
		if filter.Contracts != nil && !contains(filter.Contracts, contract) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Contract < result[j].Contract
	})
	return result, nil
}

func (m *MockTokenRecordStore) SetEnabled(ctx context.Context, key entities.TokenKey, enabled bool) error {
	m.record("SetEnabled", key, enabled)

	if m.SetEnabledFunc != nil {
		return m.SetEnabledFunc(ctx, key, enabled)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.tokens[key]; ok {
		rec.IsEnabled = enabled
		m.tokens[key] = rec
	}
	return nil
}

func (m *MockTokenRecordStore) SetBalance(ctx context.Context, key entities.TokenKey, balance decimal.NullDecimal, now int64) error {
	m.record("SetBalance", key, balance, now)

	if m.SetBalanceFunc != nil {
		return m.SetBalanceFunc(ctx, key, balance, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.tokens[key]; ok {
		rec.Balance = balance
		rec.UpdatedTime = now
		m.tokens[key] = rec
	}
	return nil
}

// AddToken inserts a record directly, bypassing upsert semantics
func (m *MockTokenRecordStore) AddToken(rec entities.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[rec.Key()] = rec
}

func (m *MockTokenRecordStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[entities.TokenKey]entities.TokenRecord)
	m.tickers = make(map[entities.Partition]map[string]entities.TickerRecord)
	m.Calls = make([]MockCall, 0)
	m.UpsertTokenFunc = nil
	m.UpsertTickersFunc = nil
	m.FindTokenFunc = nil
	m.ListTokensFunc = nil
	m.ListTickersFunc = nil
	m.SetEnabledFunc = nil
	m.SetBalanceFunc = nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	mu      sync.RWMutex
	healthy bool
	err     error
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	m := &MockHealthChecker{healthy: healthy}
	if !healthy {
		m.err = errors.New("service unhealthy")
	}
	return m
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.healthy {
		return m.err
	}
	return nil
}

func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	if !healthy {
		m.err = errors.New("service unhealthy")
	} else {
		m.err = nil
	}
}
