package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
)

var (
	// ErrTransientFetch wraps upstream failures during a refresh cycle
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrEmptyCollection is published when a transaction fetch completes with nothing to show
	ErrEmptyCollection = errors.New("empty collection")

	ErrSchedulerRunning = errors.New("refresh scheduler already running")
)

// BalanceFetcher loads the current balances of a wallet, keyed by asset
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, networkID, wallet string) (map[string]string, error)
}

// TransactionFetcher streams a wallet's transactions. emit is called once per
// page, in order, and never after FetchTransactions returns.
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, wallet string, emit func([]entities.Transaction)) error
}

// Timer is a pending one-shot callback
type Timer interface {
	Stop() bool
}

// TimerFactory arms one-shot callbacks
type TimerFactory interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realTimerFactory struct{}

func (realTimerFactory) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SchedulerOption customizes a RefreshScheduler
type SchedulerOption func(*RefreshScheduler)

// WithTimerFactory replaces the wall clock timers
func WithTimerFactory(f TimerFactory) SchedulerOption {
	return func(s *RefreshScheduler) {
		s.timers = f
	}
}

// WithJitterSource replaces the random source used for delay jitter
func WithJitterSource(f func(n int64) int64) SchedulerOption {
	return func(s *RefreshScheduler) {
		s.randInt63n = f
	}
}

// RefreshStats tracks scheduler activity
type RefreshStats struct {
	BalanceCycles     int64
	BalanceErrors     int64
	TransactionCycles int64
	TransactionErrors int64
	EmptyCollections  int64
	LastBalanceAt     time.Time
	LastTransactionAt time.Time
}

// cycle is one self-rescheduling refresh loop
type cycle struct {
	kind     entities.UpdateKind
	interval time.Duration
	timer    Timer
	timerSeq uint64
	inFlight bool
	run      func(r cycleRun) bool
}

// cycleRun carries the context a cycle was started under
type cycleRun struct {
	ctx       context.Context
	networkID string
	wallet    string
	gen       uint64
}

// RefreshScheduler drives the balance and transaction refresh cycles of a
// single wallet. Each cycle re-arms itself a fixed interval after it
// completes, so runs of the same kind never overlap.
type RefreshScheduler struct {
	balanceFetcher BalanceFetcher
	txFetcher      TransactionFetcher
	observer       Observer
	timers         TimerFactory
	randInt63n     func(n int64) int64
	config         config.SyncConfig
	logger         *zap.Logger

	// lifeMu serializes Start and Stop, including Stop's wait for running cycles
	lifeMu sync.Mutex

	// pubMu serializes publication against Stop; always taken before mu
	pubMu sync.Mutex

	mu           sync.Mutex
	running      bool
	generation   uint64
	ctx          context.Context
	cancel       context.CancelFunc
	networkID    string
	wallet       string
	balance      *cycle
	transactions *cycle
	stats        RefreshStats

	wg sync.WaitGroup
}

// NewRefreshScheduler creates a new refresh scheduler
func NewRefreshScheduler(
	balanceFetcher BalanceFetcher,
	txFetcher TransactionFetcher,
	observer Observer,
	cfg config.SyncConfig,
	logger *zap.Logger,
	opts ...SchedulerOption,
) *RefreshScheduler {
	s := &RefreshScheduler{
		balanceFetcher: balanceFetcher,
		txFetcher:      txFetcher,
		observer:       observer,
		timers:         realTimerFactory{},
		randInt63n:     rand.Int63n,
		config:         cfg,
		logger:         logger,
	}

	s.balance = &cycle{
		kind:     entities.UpdateBalance,
		interval: cfg.BalanceInterval,
		run:      s.runBalance,
	}
	s.transactions = &cycle{
		kind:     entities.UpdateTransactions,
		interval: cfg.TransactionInterval,
		run:      s.runTransactions,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins both refresh cycles for wallet, running each immediately.
// The scheduler stops itself when ctx is done.
func (s *RefreshScheduler) Start(ctx context.Context, networkID, wallet string) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}

	s.logger.Info("Starting refresh scheduler",
		zap.String("network", networkID),
		zap.String("wallet", wallet),
		zap.Duration("balance_interval", s.balance.interval),
		zap.Duration("transaction_interval", s.transactions.interval),
	)

	s.running = true
	s.generation++
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.networkID = networkID
	s.wallet = wallet

	gen := s.generation
	context.AfterFunc(s.ctx, func() {
		s.haltOnDone(gen)
	})

	s.triggerLocked(s.balance)
	s.triggerLocked(s.transactions)

	return nil
}

// Stop cancels in-flight fetches and pending timers and waits for running
// cycles to return. No update is published once Stop has returned.
func (s *RefreshScheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.pubMu.Lock()
	s.mu.Lock()

	if s.running {
		s.logger.Info("Stopping refresh scheduler", zap.String("wallet", s.wallet))
		s.haltLocked()
	}

	s.mu.Unlock()
	s.pubMu.Unlock()

	s.wg.Wait()
}

// haltLocked drops the current generation; caller holds pubMu and mu
func (s *RefreshScheduler) haltLocked() {
	s.running = false
	s.generation++
	s.cancel()
	s.stopTimerLocked(s.balance)
	s.stopTimerLocked(s.transactions)
}

// haltOnDone stops generation gen when its context ended without Stop
func (s *RefreshScheduler) haltOnDone(gen uint64) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || gen != s.generation {
		return
	}

	s.logger.Info("Refresh scheduler context ended, stopping",
		zap.String("wallet", s.wallet),
		zap.Error(s.ctx.Err()),
	)
	s.haltLocked()
}

// RefreshBalance runs the balance cycle now, replacing its pending timer
func (s *RefreshScheduler) RefreshBalance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.triggerLocked(s.balance)
	}
}

// RefreshTransactions runs the transaction cycle now, replacing its pending timer
func (s *RefreshScheduler) RefreshTransactions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.triggerLocked(s.transactions)
	}
}

// Running reports whether the scheduler has been started and not stopped
func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of scheduler activity
func (s *RefreshScheduler) Stats() RefreshStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *RefreshScheduler) stopTimerLocked(c *cycle) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// a timer that already fired but has not taken the lock yet becomes a no-op
	c.timerSeq++
}

// triggerLocked starts c unless it is already in flight; caller holds s.mu
func (s *RefreshScheduler) triggerLocked(c *cycle) {
	s.stopTimerLocked(c)

	if c.inFlight {
		s.logger.Debug("Refresh already in flight", zap.String("kind", string(c.kind)))
		return
	}

	c.inFlight = true
	r := cycleRun{
		ctx:       s.ctx,
		networkID: s.networkID,
		wallet:    s.wallet,
		gen:       s.generation,
	}

	s.wg.Add(1)
	go s.execute(c, r)
}

func (s *RefreshScheduler) execute(c *cycle, r cycleRun) {
	defer s.wg.Done()

	start := time.Now()
	rearm := c.run(r)
	refreshDuration.WithLabelValues(string(c.kind)).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	c.inFlight = false

	if !s.running {
		return
	}
	if r.gen != s.generation {
		// restarted while this run was in flight; the new generation's trigger was coalesced
		s.triggerLocked(c)
		return
	}
	if rearm {
		s.armLocked(c, r.gen)
	}
}

// armLocked schedules the next run of c; caller holds s.mu
func (s *RefreshScheduler) armLocked(c *cycle, gen uint64) {
	s.stopTimerLocked(c)

	delay := c.interval
	if s.config.Jitter > 0 {
		delay += time.Duration(s.randInt63n(int64(s.config.Jitter)))
	}

	seq := c.timerSeq
	c.timer = s.timers.AfterFunc(delay, func() {
		s.fire(c, gen, seq)
	})
}

func (s *RefreshScheduler) fire(c *cycle, gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || gen != s.generation || seq != c.timerSeq {
		return
	}
	c.timer = nil
	s.triggerLocked(c)
}

// publish delivers update unless the run it belongs to has been stopped
func (s *RefreshScheduler) publish(r cycleRun, update entities.WalletUpdate) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	live := s.running && r.gen == s.generation
	s.mu.Unlock()

	if !live {
		return false
	}

	update.NetworkID = r.networkID
	update.Wallet = r.wallet
	update.PublishedAt = time.Now().UTC()
	if update.Err != nil {
		update.Error = update.Err.Error()
	}

	s.observer.OnUpdate(update)
	return true
}

func (s *RefreshScheduler) recordStats(apply func(st *RefreshStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.stats)
}

func (s *RefreshScheduler) runBalance(r cycleRun) bool {
	balances, err := s.balanceFetcher.FetchBalances(r.ctx, r.networkID, r.wallet)
	if r.ctx.Err() != nil {
		return false
	}

	if err != nil {
		s.logger.Warn("Balance refresh failed",
			zap.String("wallet", r.wallet),
			zap.Error(err),
		)
		refreshCycles.WithLabelValues(string(entities.UpdateBalance), resultError).Inc()
		s.recordStats(func(st *RefreshStats) {
			st.BalanceCycles++
			st.BalanceErrors++
		})

		s.publish(r, entities.WalletUpdate{
			Kind: entities.UpdateBalance,
			Err:  fmt.Errorf("%w: %w", ErrTransientFetch, err),
		})
		return s.config.RescheduleBalanceOnError
	}

	refreshCycles.WithLabelValues(string(entities.UpdateBalance), resultSuccess).Inc()
	s.recordStats(func(st *RefreshStats) {
		st.BalanceCycles++
		st.LastBalanceAt = time.Now()
	})

	s.publish(r, entities.WalletUpdate{
		Kind:     entities.UpdateBalance,
		Balances: balances,
	})
	return true
}

func (s *RefreshScheduler) runTransactions(r cycleRun) bool {
	emissions := 0
	lastEmpty := false

	err := s.txFetcher.FetchTransactions(r.ctx, r.wallet, func(txs []entities.Transaction) {
		emissions++
		lastEmpty = len(txs) == 0
		s.publish(r, entities.WalletUpdate{
			Kind:         entities.UpdateTransactions,
			Transactions: txs,
		})
	})
	if r.ctx.Err() != nil {
		return false
	}

	result := resultSuccess
	switch {
	case err != nil:
		result = resultError
		s.logger.Warn("Transaction refresh failed",
			zap.String("wallet", r.wallet),
			zap.Error(err),
		)
		s.publish(r, entities.WalletUpdate{
			Kind: entities.UpdateTransactions,
			Err:  fmt.Errorf("%w: %w", ErrTransientFetch, err),
		})
	case emissions == 0 || lastEmpty:
		result = resultEmpty
		s.publish(r, entities.WalletUpdate{
			Kind: entities.UpdateTransactions,
			Err:  ErrEmptyCollection,
		})
	}

	refreshCycles.WithLabelValues(string(entities.UpdateTransactions), result).Inc()
	s.recordStats(func(st *RefreshStats) {
		st.TransactionCycles++
		switch result {
		case resultError:
			st.TransactionErrors++
		case resultEmpty:
			st.EmptyCollections++
		default:
			st.LastTransactionAt = time.Now()
		}
	})

	s.logger.Debug("Transaction refresh completed",
		zap.String("wallet", r.wallet),
		zap.Int("emissions", emissions),
		zap.String("result", result),
	)

	return true
}
