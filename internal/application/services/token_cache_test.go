package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/domain/entities"
	"github.com/bimakw/walletsync/internal/domain/repositories"
	"github.com/bimakw/walletsync/internal/infrastructure/localstore"
	"github.com/bimakw/walletsync/internal/testutil"
)

const testWallet = "0xABCDEF0000000000000000000000000000000001"

func setupTokenCacheTest() (*TokenCache, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(0)
	store := localstore.NewMemoryStore(zap.NewNop())
	cache := NewTokenCache(store, DefaultCachePolicy(), clock, zap.NewNop())
	return cache, clock
}

func TestTokenCache_BalanceExpiresAndRefreshes(t *testing.T) {
	cache, clock := setupTokenCacheTest()
	ctx := context.Background()

	token := testutil.CreateTestToken(
		testutil.TokenWithAddress("0xAA"),
		testutil.TokenWithName("Alpha"),
		testutil.TokenWithSymbol("AA"),
		testutil.TokenWithBalance(100),
	)
	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{token}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Set((4 * time.Minute).Milliseconds())
	tokens, err := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if !tokens[0].Balance.Valid || !tokens[0].Balance.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected fresh balance 100, got %v", tokens[0].Balance)
	}

	clock.Set((6 * time.Minute).Milliseconds())
	tokens, err = cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[0].Balance.Valid {
		t.Errorf("expected stale balance to be null, got %v", tokens[0].Balance.Decimal)
	}
	if tokens[0].Name != "Alpha" || tokens[0].Symbol != "AA" {
		t.Errorf("expected metadata intact, got %s/%s", tokens[0].Name, tokens[0].Symbol)
	}

	update := entities.Token{Address: "0xaa", Balance: decimal.NewNullDecimal(decimal.NewFromInt(150))}
	if err := cache.UpdateBalance(ctx, testutil.TestNetwork, testWallet, update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Millisecond)
	tokens, err = cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tokens[0].Balance.Valid || !tokens[0].Balance.Decimal.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected fresh balance 150, got %v", tokens[0].Balance)
	}
}

func TestTokenCache_SaveTokens_MetadataSetOnce(t *testing.T) {
	cache, clock := setupTokenCacheTest()
	ctx := context.Background()

	first := testutil.CreateTestToken(testutil.TokenWithBalance(10))
	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{first}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Second)
	second := testutil.CreateTestToken(
		testutil.TokenWithName("Renamed"),
		testutil.TokenWithSymbol("XXX"),
		testutil.TokenWithDecimals(18),
		testutil.TokenWithBalance(20),
	)
	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{second}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokens, err := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := tokens[0]
	if got.Name != "Tether USD" || got.Symbol != "USDT" || got.Decimals != 6 {
		t.Errorf("expected original metadata, got %s/%s/%d", got.Name, got.Symbol, got.Decimals)
	}
	if !got.Balance.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected balance 20, got %v", got.Balance.Decimal)
	}
	if got.UpdatedTime != 1000 {
		t.Errorf("expected updated time 1000, got %d", got.UpdatedTime)
	}
}

func TestTokenCache_SaveTokens_NullBalanceSeeded(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	token := testutil.CreateTestToken(testutil.TokenWithNullBalance())
	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{token}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tokens, err := cache.FetchEnabledTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Balance.Valid {
		t.Error("expected null balance")
	}
	if !tokens[0].IsEnabled {
		t.Error("expected new token to be enabled")
	}
}

func TestTokenCache_SaveTokens_Validation(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	tests := []struct {
		name  string
		token entities.Token
	}{
		{"empty address", testutil.CreateTestToken(testutil.TokenWithAddress(""))},
		{"negative decimals", testutil.CreateTestToken(testutil.TokenWithDecimals(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{tt.token})
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	tokens, _ := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if len(tokens) != 0 {
		t.Errorf("expected nothing stored, got %d tokens", len(tokens))
	}
}

func TestTokenCache_SaveTokens_StoreError(t *testing.T) {
	store := testutil.NewMockTokenRecordStore()
	storeErr := errors.New("disk full")
	store.UpsertTokenFunc = func(ctx context.Context, key entities.TokenKey, now int64, mutate repositories.TokenMutator) error {
		return storeErr
	}
	cache := NewTokenCache(store, DefaultCachePolicy(), testutil.NewFakeClock(0), zap.NewNop())

	err := cache.SaveTokens(context.Background(), testutil.TestNetwork, testWallet, []entities.Token{testutil.CreateTestToken()})
	if !errors.Is(err, storeErr) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestTokenCache_FetchEnabledTokens_OrderAndFilter(t *testing.T) {
	cache, clock := setupTokenCacheTest()
	ctx := context.Background()

	for _, addr := range []string{testutil.USDTAddress, testutil.USDCAddress, testutil.CharlieAddr} {
		token := testutil.CreateTestToken(testutil.TokenWithAddress(addr))
		if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{token}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clock.Advance(time.Millisecond)
	}

	if err := cache.SetEnabled(ctx, testutil.TestNetwork, testWallet, testutil.USDCAddress, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enabled, err := cache.FetchEnabledTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled tokens, got %d", len(enabled))
	}
	if enabled[0].Address != testutil.USDTAddress || enabled[1].Address != testutil.CharlieAddr {
		t.Errorf("unexpected order: %s, %s", enabled[0].Address, enabled[1].Address)
	}

	all, err := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 tokens, got %d", len(all))
	}
	if all[1].Address != testutil.USDCAddress || all[1].IsEnabled {
		t.Errorf("expected disabled USDC in second position, got %+v", all[1])
	}
}

func TestTokenCache_SetEnabled_KeepsBalance(t *testing.T) {
	cache, clock := setupTokenCacheTest()
	ctx := context.Background()

	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, []entities.Token{testutil.CreateTestToken()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Minute)

	if err := cache.SetEnabled(ctx, testutil.TestNetwork, testWallet, testutil.USDTAddress, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, _ := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if all[0].UpdatedTime != 0 {
		t.Errorf("expected updated time untouched, got %d", all[0].UpdatedTime)
	}
	if !all[0].Balance.Decimal.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected balance untouched, got %v", all[0].Balance.Decimal)
	}
}

func TestTokenCache_UnknownTokenIsNoop(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	if err := cache.SetEnabled(ctx, testutil.TestNetwork, testWallet, testutil.USDTAddress, false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	update := entities.Token{Address: testutil.USDTAddress, Balance: decimal.NewNullDecimal(decimal.NewFromInt(1))}
	if err := cache.UpdateBalance(ctx, testutil.TestNetwork, testWallet, update); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	all, _ := cache.FetchAllTokens(ctx, testutil.TestNetwork, testWallet)
	if len(all) != 0 {
		t.Errorf("expected no tokens, got %d", len(all))
	}
}

func TestTokenCache_SaveTickers_DefaultImage(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	ticker := testutil.CreateTestTicker(
		testutil.TickerWithID("eth"),
		testutil.TickerWithImage(""),
	)
	if err := cache.SaveTickers(ctx, testutil.TestNetwork, testWallet, []entities.Ticker{ticker}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token := testutil.CreateTestToken()
	tickers, ok, err := cache.FetchFreshTickers(ctx, testutil.TestNetwork, testWallet, []entities.Token{token})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || len(tickers) != 1 {
		t.Fatalf("expected 1 fresh ticker, got %d (ok=%v)", len(tickers), ok)
	}

	expected := "https://files.coinmarketcap.com/static/img/coins/128x128/eth.png"
	if tickers[0].Image != expected {
		t.Errorf("expected image %s, got %s", expected, tickers[0].Image)
	}
}

func TestTokenCache_FetchFreshTickers(t *testing.T) {
	cache, clock := setupTokenCacheTest()
	ctx := context.Background()

	usdt := testutil.CreateTestToken()
	usdc := testutil.CreateTestToken(testutil.TokenWithAddress(testutil.USDCAddress))

	tickers := []entities.Ticker{
		testutil.CreateTestTicker(),
		testutil.CreateTestTicker(testutil.TickerWithID("usd-coin"), testutil.TickerWithContract(testutil.USDCAddress)),
	}
	if err := cache.SaveTickers(ctx, testutil.TestNetwork, testWallet, tickers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("empty input is absent", func(t *testing.T) {
		got, ok, err := cache.FetchFreshTickers(ctx, testutil.TestNetwork, testWallet, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected ok=false for empty input")
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", got)
		}
	})

	t.Run("only requested contracts", func(t *testing.T) {
		got, ok, err := cache.FetchFreshTickers(ctx, testutil.TestNetwork, testWallet, []entities.Token{usdc})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok || len(got) != 1 || got[0].ID != "usd-coin" {
			t.Errorf("expected only usd-coin, got %+v", got)
		}
	})

	t.Run("stale tickers are absent", func(t *testing.T) {
		clock.Set((5 * time.Minute).Milliseconds())
		got, ok, err := cache.FetchFreshTickers(ctx, testutil.TestNetwork, testWallet, []entities.Token{usdt, usdc})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Errorf("expected ok=false, got %d tickers", len(got))
		}
	})
}

func TestTokenCache_FetchTokensWithTickers(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	tokens := []entities.Token{
		testutil.CreateTestToken(),
		testutil.CreateTestToken(testutil.TokenWithAddress(testutil.USDCAddress)),
	}
	if err := cache.SaveTokens(ctx, testutil.TestNetwork, testWallet, tokens); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ticker := testutil.CreateTestTicker(testutil.TickerWithContract("0xDAC17F958D2EE523A2206206994597C13D831EC7"))
	if err := cache.SaveTickers(ctx, testutil.TestNetwork, testWallet, []entities.Ticker{ticker}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := cache.FetchTokensWithTickers(ctx, testutil.TestNetwork, testWallet, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(got))
	}

	for _, tok := range got {
		switch tok.Address {
		case testutil.USDTAddress:
			if tok.Ticker == nil || tok.Ticker.ID != "tether" {
				t.Errorf("expected tether ticker on USDT, got %+v", tok.Ticker)
			}
		case testutil.USDCAddress:
			if tok.Ticker != nil {
				t.Errorf("expected no ticker on USDC, got %+v", tok.Ticker)
			}
		}
	}
}

func TestTokenCache_PartitionsAreIsolated(t *testing.T) {
	cache, _ := setupTokenCacheTest()
	ctx := context.Background()

	if err := cache.SaveTokens(ctx, "1", testWallet, []entities.Token{testutil.CreateTestToken()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other, _ := cache.FetchAllTokens(ctx, "137", testWallet)
	if len(other) != 0 {
		t.Errorf("expected no tokens on another network, got %d", len(other))
	}
	otherWallet, _ := cache.FetchAllTokens(ctx, "1", testutil.BobAddress)
	if len(otherWallet) != 0 {
		t.Errorf("expected no tokens for another wallet, got %d", len(otherWallet))
	}
}
