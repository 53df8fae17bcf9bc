// Package localstore is a client-side TokenRecordStore kept in memory and
// made durable through a write-ahead journal.
//
// Each commit appends the full post-state of the touched partition as a single
// journal entry, so a partition is restored from its latest entry on replay.
// Memory is only updated after the append succeeds.
package localstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/domain/repositories"
)

const partitionKeyPrefix = "partition:"

// ErrStoreClosed is returned by every operation after Close
var ErrStoreClosed = errors.New("token store is closed")

// Ensure Store implements TokenRecordStore
var _ repositories.TokenRecordStore = (*Store)(nil)

// Store implements TokenRecordStore over in-memory partitions
type Store struct {
	mu         sync.RWMutex
	journal    Journal
	partitions map[entities.Partition]*partitionState
	closed     bool
	logger     *zap.Logger
}

// partitionState is also the journal payload
type partitionState struct {
	Partition entities.Partition                `json:"partition"`
	Tokens    map[string]entities.TokenRecord  `json:"tokens"`
	Tickers   map[string]entities.TickerRecord `json:"tickers"`
}

func newPartitionState(p entities.Partition) *partitionState {
	return &partitionState{
		Partition: p,
		Tokens:    make(map[string]entities.TokenRecord),
		Tickers:   make(map[string]entities.TickerRecord),
	}
}

func (s *partitionState) clone() *partitionState {
	c := &partitionState{
		Partition: s.Partition,
		Tokens:    make(map[string]entities.TokenRecord, len(s.Tokens)),
		Tickers:   make(map[string]entities.TickerRecord, len(s.Tickers)),
	}
	for k, v := range s.Tokens {
		c.Tokens[k] = v
	}
	for k, v := range s.Tickers {
		c.Tickers[k] = v
	}
	return c
}

// NewMemoryStore creates a store without durability
func NewMemoryStore(logger *zap.Logger) *Store {
	return &Store{
		partitions: make(map[entities.Partition]*partitionState),
		logger:     logger,
	}
}

// Open creates a store backed by journal and replays its contents
func Open(journal Journal, logger *zap.Logger) (*Store, error) {
	s := NewMemoryStore(logger)
	s.journal = journal

	replayed := 0
	err := journal.Replay(func(key string, payload []byte) error {
		if !strings.HasPrefix(key, partitionKeyPrefix) {
			return nil
		}
		var state partitionState
		if err := json.Unmarshal(payload, &state); err != nil {
			return errors.Wrapf(err, "decode partition %s", key)
		}
		if state.Tokens == nil {
			state.Tokens = make(map[string]entities.TokenRecord)
		}
		if state.Tickers == nil {
			state.Tickers = make(map[string]entities.TickerRecord)
		}
		s.partitions[state.Partition] = &state
		replayed++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "replay token store journal")
	}

	// the previous process may have spent part of the budget before exiting
	if len(s.partitions) > 0 {
		if err := s.rewriteLocked(); err != nil {
			return nil, err
		}
	}

	logger.Info("Opened local token store",
		zap.Int("entries_replayed", replayed),
		zap.Int("partitions", len(s.partitions)),
	)

	return s, nil
}

// Close closes the journal; the store rejects further calls
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// HealthCheck reports whether the store is usable
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// snapshot returns a writable copy of the partition; caller holds s.mu
func (s *Store) snapshot(p entities.Partition) *partitionState {
	if st, ok := s.partitions[p]; ok {
		return st.clone()
	}
	return newPartitionState(p)
}

// commit journals next and swaps it in; caller holds s.mu for writing
func (s *Store) commit(next *partitionState) error {
	if s.journal != nil {
		payload, err := json.Marshal(next)
		if err != nil {
			return errors.Wrap(err, "encode partition")
		}
		if err := s.journal.Append(journalKey(next.Partition), payload); err != nil {
			return errors.Wrap(err, "append partition to journal")
		}
	}
	s.partitions[next.Partition] = next

	if s.journal != nil && s.journal.CompactionDue() {
		// the commit is already durable; a failed rewrite is retried on the next commit
		if err := s.rewriteLocked(); err != nil {
			s.logger.Warn("Failed to compact token store journal", zap.Error(err))
		}
	}
	return nil
}

func journalKey(p entities.Partition) string {
	return partitionKeyPrefix + p.NetworkID + ":" + p.WalletAddress
}

// rewriteLocked re-appends every partition so none depends on older segments
func (s *Store) rewriteLocked() error {
	entries := make([]Entry, 0, len(s.partitions))
	for p, st := range s.partitions {
		payload, err := json.Marshal(st)
		if err != nil {
			return errors.Wrap(err, "encode partition")
		}
		entries = append(entries, Entry{Key: journalKey(p), Payload: payload})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	if err := s.journal.Rewrite(entries); err != nil {
		return errors.Wrap(err, "rewrite token store journal")
	}

	s.logger.Debug("Compacted token store journal", zap.Int("partitions", len(entries)))
	return nil
}

// UpsertToken creates the record if absent and applies mutate atomically
func (s *Store) UpsertToken(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	next := s.snapshot(key.Partition)
	prev, exists := next.Tokens[key.TokenAddress]

	rec := prev
	if !exists {
		rec = entities.TokenRecord{
			AddedTime: now,
			IsEnabled: true,
		}
	}

	if err := mutate(&rec, !exists); err != nil {
		return errors.Wrap(err, "failed to upsert token")
	}

	// identity and creation time are owned by the store
	rec.NetworkID = key.NetworkID
	rec.WalletAddress = key.WalletAddress
	rec.TokenAddress = key.TokenAddress
	if exists {
		rec.AddedTime = prev.AddedTime
		if rec.UpdatedTime < prev.UpdatedTime {
			rec.UpdatedTime = prev.UpdatedTime
		}
	}

	next.Tokens[key.TokenAddress] = rec
	return s.commit(next)
}

// UpsertTickers writes all tickers in a single commit
func (s *Store) UpsertTickers(ctx context.Context, partition entities.Partition, tickers []entities.TickerRecord, now int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tickers) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	next := s.snapshot(partition)
	for _, t := range tickers {
		if t.Contract == "" {
			return errors.New("failed to upsert tickers: empty contract")
		}
		rec := t
		rec.NetworkID = partition.NetworkID
		rec.WalletAddress = partition.WalletAddress
		rec.CreatedTime = now
		rec.UpdatedTime = now
		if prev, ok := next.Tickers[t.Contract]; ok {
			rec.CreatedTime = prev.CreatedTime
			if prev.UpdatedTime > now {
				rec.UpdatedTime = prev.UpdatedTime
			}
		}
		next.Tickers[t.Contract] = rec
	}

	return s.commit(next)
}

// FindToken returns a copy of the record, or nil when absent
func (s *Store) FindToken(ctx context.Context, key entities.TokenKey) (*entities.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	st, ok := s.partitions[key.Partition]
	if !ok {
		return nil, nil
	}
	rec, ok := st.Tokens[key.TokenAddress]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListTokens returns records ordered by AddedTime, then address
func (s *Store) ListTokens(ctx context.Context, partition entities.Partition, filter repositories.TokenFilter) ([]entities.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]entities.TokenRecord, 0)
	st, ok := s.partitions[partition]
	if !ok {
		return result, nil
	}
	for _, rec := range st.Tokens {
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

// ListTickers returns ticker records matching filter, ordered by contract
func (s *Store) ListTickers(ctx context.Context, partition entities.Partition, filter repositories.TickerFilter) ([]entities.TickerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]entities.TickerRecord, 0)
	st, ok := s.partitions[partition]
	if !ok {
		return result, nil
	}

	var wanted map[string]struct{}
	if filter.Contracts != nil {
		wanted = make(map[string]struct{}, len(filter.Contracts))
		for _, c := range filter.Contracts {
			wanted[c] = struct{}{}
		}
	}

	for contract, rec := range st.Tickers {
		if rec.UpdatedTime <= filter.UpdatedAfter {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[contract]; !ok {
				continue
			}
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Contract < result[j].Contract
	})

	return result, nil
}

// SetEnabled toggles the enabled flag; a missing record is a no-op
func (s *Store) SetEnabled(ctx context.Context, key entities.TokenKey, enabled bool) error {
	return s.update(ctx, key, func(rec *entities.TokenRecord) {
		rec.IsEnabled = enabled
	})
}

// SetBalance writes balance and refreshes UpdatedTime; a missing record is a no-op
func (s *Store) SetBalance(ctx context.Context, key entities.TokenKey, balance decimal.NullDecimal, now int64) error {
	return s.update(ctx, key, func(rec *entities.TokenRecord) {
		rec.Balance = balance
		if now > rec.UpdatedTime {
			rec.UpdatedTime = now
		}
	})
}

func (s *Store) update(ctx context.Context, key entities.TokenKey, apply func(rec *entities.TokenRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	current, ok := s.partitions[key.Partition]
	if !ok {
		return nil
	}
	if _, ok := current.Tokens[key.TokenAddress]; !ok {
		return nil
	}

	next := current.clone()
	rec := next.Tokens[key.TokenAddress]
	apply(&rec)
	next.Tokens[key.TokenAddress] = rec

	return s.commit(next)
}
