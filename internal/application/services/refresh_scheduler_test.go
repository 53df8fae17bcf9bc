package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/config"
	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/testutil"
)

// manualTimers records armed timers and fires them on demand
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	owner   *manualTimers
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{owner: m, delay: d, fn: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// pending returns armed timers with the given delay that have neither fired nor stopped
func (m *manualTimers) pending(delay time.Duration) []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.delay == delay {
			out = append(out, t)
		}
	}
	return out
}

func (m *manualTimers) fire(t *manualTimer) {
	m.mu.Lock()
	t.fired = true
	m.mu.Unlock()
	t.fn()
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []entities.WalletUpdate
}

func (o *recordingObserver) OnUpdate(update entities.WalletUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, update)
}

func (o *recordingObserver) byKind(kind entities.UpdateKind) []entities.WalletUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []entities.WalletUpdate
	for _, u := range o.updates {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

type fakeBalanceFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (map[string]string, error)
}

func (f *fakeBalanceFetcher) FetchBalances(ctx context.Context, networkID, wallet string) (map[string]string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return map[string]string{"ETH": "1.5"}, nil
}

type fakeTransactionFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, emit func([]entities.Transaction)) error
}

func (f *fakeTransactionFetcher) FetchTransactions(ctx context.Context, wallet string, emit func([]entities.Transaction)) error {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, emit)
	}
	emit([]entities.Transaction{testutil.CreateTestTransaction()})
	return nil
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BalanceInterval:          10 * time.Second,
		TransactionInterval:      12 * time.Second,
		RescheduleBalanceOnError: true,
	}
}

type schedulerFixture struct {
	scheduler *RefreshScheduler
	balances  *fakeBalanceFetcher
	txs       *fakeTransactionFetcher
	observer  *recordingObserver
	timers    *manualTimers
}

func setupSchedulerTest(cfg config.SyncConfig, opts ...SchedulerOption) *schedulerFixture {
	f := &schedulerFixture{
		balances: &fakeBalanceFetcher{},
		txs:      &fakeTransactionFetcher{},
		observer: &recordingObserver{},
		timers:   &manualTimers{},
	}
	opts = append([]SchedulerOption{WithTimerFactory(f.timers)}, opts...)
	f.scheduler = NewRefreshScheduler(f.balances, f.txs, f.observer, cfg, zap.NewNop(), opts...)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRefreshScheduler_StartRunsBothCycles(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	defer f.scheduler.Stop()

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })
	waitFor(t, "transaction timer", func() bool { return len(f.timers.pending(12*time.Second)) == 1 })

	balances := f.observer.byKind(entities.UpdateBalance)
	if len(balances) != 1 {
		t.Fatalf("expected 1 balance update, got %d", len(balances))
	}
	if balances[0].Balances["ETH"] != "1.5" {
		t.Errorf("expected ETH balance 1.5, got %v", balances[0].Balances)
	}
	if balances[0].Wallet != testutil.AliceAddress || balances[0].NetworkID != "1" {
		t.Errorf("unexpected wallet context: %s/%s", balances[0].NetworkID, balances[0].Wallet)
	}

	txs := f.observer.byKind(entities.UpdateTransactions)
	if len(txs) != 1 || len(txs[0].Transactions) != 1 {
		t.Fatalf("expected 1 transaction update with 1 transaction, got %+v", txs)
	}
	if txs[0].Err != nil {
		t.Errorf("unexpected error: %v", txs[0].Err)
	}
}

func TestRefreshScheduler_StartTwice(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	defer f.scheduler.Stop()

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); !errors.Is(err, ErrSchedulerRunning) {
		t.Errorf("expected ErrSchedulerRunning, got %v", err)
	}
}

func TestRefreshScheduler_TimerFireRunsNextCycle(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	defer f.scheduler.Stop()

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })

	f.timers.fire(f.timers.pending(10 * time.Second)[0])

	waitFor(t, "second balance fetch", func() bool { return f.balances.calls.Load() == 2 })
	waitFor(t, "re-armed balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })

	if got := len(f.observer.byKind(entities.UpdateBalance)); got != 2 {
		t.Errorf("expected 2 balance updates, got %d", got)
	}
}

func TestRefreshScheduler_BalanceFailure(t *testing.T) {
	tests := []struct {
		name       string
		reschedule bool
		wantTimers int
	}{
		{"reschedules by default", true, 1},
		{"stops when disabled", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSyncConfig()
			cfg.RescheduleBalanceOnError = tt.reschedule
			f := setupSchedulerTest(cfg)
			defer f.scheduler.Stop()

			rpcErr := errors.New("connection refused")
			f.balances.fn = func(ctx context.Context) (map[string]string, error) {
				return nil, rpcErr
			}

			if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			waitFor(t, "balance error", func() bool { return len(f.observer.byKind(entities.UpdateBalance)) == 1 })
			waitFor(t, "transaction timer", func() bool { return len(f.timers.pending(12*time.Second)) == 1 })

			update := f.observer.byKind(entities.UpdateBalance)[0]
			if !errors.Is(update.Err, ErrTransientFetch) || !errors.Is(update.Err, rpcErr) {
				t.Errorf("expected transient fetch error wrapping cause, got %v", update.Err)
			}
			if update.Error == "" {
				t.Error("expected error message to be set")
			}

			waitFor(t, "balance cycle settled", func() bool { return f.scheduler.Stats().BalanceErrors == 1 })
			if tt.wantTimers > 0 {
				waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == tt.wantTimers })
			}
			time.Sleep(10 * time.Millisecond)
			if got := len(f.timers.pending(10 * time.Second)); got != tt.wantTimers {
				t.Errorf("expected %d pending balance timers, got %d", tt.wantTimers, got)
			}
		})
	}
}

func TestRefreshScheduler_TransactionOutcomes(t *testing.T) {
	fetchErr := errors.New("rpc timeout")

	tests := []struct {
		name        string
		fetch       func(ctx context.Context, emit func([]entities.Transaction)) error
		wantUpdates int
		wantErr     error
	}{
		{
			name: "pages published in order",
			fetch: func(ctx context.Context, emit func([]entities.Transaction)) error {
				emit([]entities.Transaction{testutil.CreateTestTransaction(testutil.TxWithBlockNumber(1))})
				emit([]entities.Transaction{testutil.CreateTestTransaction(testutil.TxWithBlockNumber(2))})
				return nil
			},
			wantUpdates: 2,
		},
		{
			name: "no emissions",
			fetch: func(ctx context.Context, emit func([]entities.Transaction)) error {
				return nil
			},
			wantUpdates: 1,
			wantErr:     ErrEmptyCollection,
		},
		{
			name: "empty last emission",
			fetch: func(ctx context.Context, emit func([]entities.Transaction)) error {
				emit([]entities.Transaction{testutil.CreateTestTransaction()})
				emit([]entities.Transaction{})
				return nil
			},
			wantUpdates: 3,
			wantErr:     ErrEmptyCollection,
		},
		{
			name: "fetch error",
			fetch: func(ctx context.Context, emit func([]entities.Transaction)) error {
				return fetchErr
			},
			wantUpdates: 1,
			wantErr:     ErrTransientFetch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupSchedulerTest(testSyncConfig())
			defer f.scheduler.Stop()
			f.txs.fn = tt.fetch

			if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// the transaction cycle re-arms whatever the outcome
			waitFor(t, "transaction timer", func() bool { return len(f.timers.pending(12*time.Second)) == 1 })

			updates := f.observer.byKind(entities.UpdateTransactions)
			if len(updates) != tt.wantUpdates {
				t.Fatalf("expected %d updates, got %d", tt.wantUpdates, len(updates))
			}

			last := updates[len(updates)-1]
			if tt.wantErr == nil {
				if last.Err != nil {
					t.Errorf("unexpected error: %v", last.Err)
				}
				if updates[0].Transactions[0].BlockNumber != 1 || updates[1].Transactions[0].BlockNumber != 2 {
					t.Error("expected pages in emission order")
				}
				return
			}
			if !errors.Is(last.Err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, last.Err)
			}
		})
	}
}

func TestRefreshScheduler_ManualTriggersDoNotOverlap(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	defer f.scheduler.Stop()

	gate := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	f.balances.fn = func(ctx context.Context) (map[string]string, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		defer inFlight.Add(-1)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]string{"ETH": "1"}, nil
	}

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "first fetch", func() bool { return f.balances.calls.Load() == 1 })

	// both triggers arrive while the first fetch is in flight
	f.scheduler.RefreshBalance()
	f.scheduler.RefreshBalance()

	gate <- struct{}{}
	waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })

	// two rapid triggers against a pending timer leave exactly one timer behind
	f.scheduler.RefreshBalance()
	f.scheduler.RefreshBalance()
	gate <- struct{}{}
	waitFor(t, "second fetch done", func() bool { return len(f.observer.byKind(entities.UpdateBalance)) == 2 })
	waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })

	if got := f.balances.calls.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("expected at most 1 fetch in flight, got %d", got)
	}
}

func TestRefreshScheduler_StopCancelsInFlightFetch(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())

	started := make(chan struct{})
	f.balances.fn = func(ctx context.Context) (map[string]string, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	f.scheduler.Stop()

	if got := len(f.observer.byKind(entities.UpdateBalance)); got != 0 {
		t.Errorf("expected no balance updates after cancellation, got %d", got)
	}
	if got := len(f.timers.pending(10 * time.Second)); got != 0 {
		t.Errorf("expected no pending balance timers, got %d", got)
	}
	if got := len(f.timers.pending(12 * time.Second)); got != 0 {
		t.Errorf("expected no pending transaction timers, got %d", got)
	}
}

func TestRefreshScheduler_NoPublishAfterStop(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	// ignores cancellation and resolves after Stop has begun
	f.balances.fn = func(ctx context.Context) (map[string]string, error) {
		close(started)
		<-release
		return map[string]string{"ETH": "2"}, nil
	}

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(stopped)
	}()

	waitFor(t, "scheduler stopping", func() bool { return !f.scheduler.Running() })
	close(release)
	<-stopped

	if got := len(f.observer.byKind(entities.UpdateBalance)); got != 0 {
		t.Errorf("expected no balance updates after stop, got %d", got)
	}
	if got := len(f.timers.pending(10 * time.Second)); got != 0 {
		t.Errorf("expected no balance timer after stop, got %d", got)
	}
}

func TestRefreshScheduler_LateTimerAfterStop(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "balance timer", func() bool { return len(f.timers.pending(10*time.Second)) == 1 })
	timer := f.timers.pending(10 * time.Second)[0]

	f.scheduler.Stop()

	// a callback that slipped past Stop must not start a cycle
	timer.fn()
	time.Sleep(10 * time.Millisecond)

	if got := f.balances.calls.Load(); got != 1 {
		t.Errorf("expected 1 balance fetch, got %d", got)
	}
}

func TestRefreshScheduler_StopIsIdempotentAndRestartable(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())

	f.scheduler.Stop()

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "first balance", func() bool { return len(f.observer.byKind(entities.UpdateBalance)) == 1 })

	f.scheduler.Stop()
	f.scheduler.Stop()

	if f.scheduler.Running() {
		t.Error("expected scheduler to be stopped")
	}

	if err := f.scheduler.Start(context.Background(), "1", testutil.BobAddress); err != nil {
		t.Fatalf("unexpected error on restart: %v", err)
	}
	defer f.scheduler.Stop()

	waitFor(t, "balance after restart", func() bool { return len(f.observer.byKind(entities.UpdateBalance)) == 2 })
	if got := f.observer.byKind(entities.UpdateBalance)[1].Wallet; got != testutil.BobAddress {
		t.Errorf("expected restart wallet %s, got %s", testutil.BobAddress, got)
	}
}

func TestRefreshScheduler_ManualTriggerWhenStopped(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())

	f.scheduler.RefreshBalance()
	f.scheduler.RefreshTransactions()
	time.Sleep(10 * time.Millisecond)

	if f.balances.calls.Load() != 0 || f.txs.calls.Load() != 0 {
		t.Error("expected no fetches before Start")
	}
}

func TestRefreshScheduler_Jitter(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Jitter = 2 * time.Second

	var bound atomic.Int64
	f := setupSchedulerTest(cfg, WithJitterSource(func(n int64) int64 {
		bound.Store(n)
		return n - 1
	}))
	defer f.scheduler.Stop()

	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := 12*time.Second - time.Nanosecond
	waitFor(t, "jittered balance timer", func() bool { return len(f.timers.pending(want)) == 1 })

	if bound.Load() != int64(2*time.Second) {
		t.Errorf("expected jitter bound %d, got %d", int64(2*time.Second), bound.Load())
	}
}

func TestChannelObserver_LatestWins(t *testing.T) {
	o := NewChannelObserver()

	o.OnUpdate(entities.WalletUpdate{Kind: entities.UpdateBalance, Wallet: "first"})
	o.OnUpdate(entities.WalletUpdate{Kind: entities.UpdateBalance, Wallet: "second"})

	select {
	case u := <-o.Updates():
		if u.Wallet != "second" {
			t.Errorf("expected latest update, got %s", u.Wallet)
		}
	default:
		t.Fatal("expected a buffered update")
	}

	select {
	case u := <-o.Updates():
		t.Errorf("expected empty channel, got %+v", u)
	default:
	}
}

func TestMultiObserver(t *testing.T) {
	var got []string
	m := MultiObserver{
		ObserverFunc(func(u entities.WalletUpdate) { got = append(got, "a:"+u.Wallet) }),
		ObserverFunc(func(u entities.WalletUpdate) { got = append(got, "b:"+u.Wallet) }),
	}

	m.OnUpdate(entities.WalletUpdate{Wallet: "w"})

	if len(got) != 2 || got[0] != "a:w" || got[1] != "b:w" {
		t.Errorf("unexpected fan-out: %v", got)
	}
}

func TestRefreshScheduler_ConcurrentStartStop(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := f.scheduler.Start(ctx, "1", testutil.AliceAddress); err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.scheduler.Stop()
		}()
		go func() {
			defer wg.Done()
			// either order is valid; a running scheduler rejects the second Start
			_ = f.scheduler.Start(ctx, "1", testutil.AliceAddress)
		}()
		wg.Wait()

		f.scheduler.Stop()
		if f.scheduler.Running() {
			t.Fatalf("iteration %d: expected scheduler to be stopped", i)
		}
	}
}

func TestRefreshScheduler_StopsWhenContextEnds(t *testing.T) {
	f := setupSchedulerTest(testSyncConfig())
	ctx, cancel := context.WithCancel(context.Background())

	if err := f.scheduler.Start(ctx, "1", testutil.AliceAddress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "both timers armed", func() bool {
		return len(f.timers.pending(10*time.Second)) == 1 && len(f.timers.pending(12*time.Second)) == 1
	})

	cancel()

	waitFor(t, "scheduler to stop", func() bool { return !f.scheduler.Running() })
	if got := len(f.timers.pending(10 * time.Second)); got != 0 {
		t.Errorf("expected balance timer to be stopped, got %d pending", got)
	}
	if got := len(f.timers.pending(12 * time.Second)); got != 0 {
		t.Errorf("expected transaction timer to be stopped, got %d pending", got)
	}

	f.scheduler.Stop()
	if err := f.scheduler.Start(context.Background(), "1", testutil.AliceAddress); err != nil {
		t.Fatalf("expected restart after context end, got %v", err)
	}
	f.scheduler.Stop()
}
