package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-paper-trader/internal/price"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/sqlite"
)

const (
	mintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

func (f *fakeFeed) set(mint, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[mint] = d(p)
}

func (f *fakeFeed) Price(_ context.Context, mint string) (decimal.Decimal, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[mint]; err != nil {
		return decimal.Zero, "", err
	}
	return f.prices[mint], "jupiter", nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dial := sqlite.Dialer(sqlite.Options{
		Path:        filepath.Join(t.TempDir(), "refresher.db"),
		BusyTimeout: 3 * time.Second,
	}, logger)

	cfg := pool.DefaultConfig()
	cfg.Size = 2
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond

	p := pool.New(cfg, dial, logger)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(p.CloseAll)

	l, err := ledger.New(p, ledger.Config{
		InitialBalance: d("10"),
		StopLossPct:    d("0.1"),
		TakeProfitPct:  d("0.2"),
	}, logger)
	require.NoError(t, err)
	require.NoError(t, l.Bootstrap(context.Background()))
	return l
}

func buy(t *testing.T, l *ledger.Ledger, mint, priceStr string) {
	t.Helper()
	require.True(t, l.RecordBuy(context.Background(), ledger.BuyOrder{
		TokenMint:   mint,
		AmountSOL:   d("1"),
		AmountToken: d("1").Div(d(priceStr)),
		Price:       d(priceStr),
		Fee:         d("0.001"),
		Slippage:    decimal.Zero,
		Timestamp:   t0,
	}))
}

func newTestValidator(t *testing.T) *price.Validator {
	return price.NewValidator(price.Config{
		WindowSize:         4,
		MinDataPoints:      2,
		MaxDeviation:       0.05,
		DownsideMultiplier: 1.5,
		Sources:            []string{"jupiter", "dexscreener"},
	}, zaptest.NewLogger(t))
}

func TestRefreshOnceAppliesAcceptedPrices(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	buy(t, l, mintBONK, "0.0015")

	feed := newFakeFeed()
	r := NewRefresher(l, newTestValidator(t), feed, zaptest.NewLogger(t))

	feed.set(mintBONK, "0.0015")
	assert.Empty(t, r.RefreshOnce(ctx))
	feed.set(mintBONK, "0.00152")
	assert.Empty(t, r.RefreshOnce(ctx))

	pos := l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assert.True(t, d("0.00152").Equal(pos.CurrentPrice))

	// скачок +100% отклоняется и не доходит до позиции
	feed.set(mintBONK, "0.003")
	assert.Empty(t, r.RefreshOnce(ctx))

	pos = l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assert.True(t, d("0.00152").Equal(pos.CurrentPrice))
}

func TestRefreshOnceReportsTriggers(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	buy(t, l, mintBONK, "0.0015")
	buy(t, l, mintUSDC, "0.01")

	feed := newFakeFeed()
	r := NewRefresher(l, newTestValidator(t), feed, zaptest.NewLogger(t))

	// пустая история: обе цены принимаются как холодный старт
	feed.set(mintBONK, "0.0013")
	feed.set(mintUSDC, "0.0125")

	triggers := r.RefreshOnce(ctx)
	require.Len(t, triggers, 2)

	kinds := map[string]string{}
	for _, tr := range triggers {
		kinds[tr.Position.TokenMint] = tr.Kind
	}
	assert.Equal(t, "stop_loss", kinds[mintBONK])
	assert.Equal(t, "take_profit", kinds[mintUSDC])
}

func TestRefreshOnceSkipsFeedErrors(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	buy(t, l, mintBONK, "0.0015")

	feed := newFakeFeed()
	feed.errs[mintBONK] = errors.New("quote api unavailable")
	v := newTestValidator(t)
	r := NewRefresher(l, v, feed, zaptest.NewLogger(t))

	assert.Empty(t, r.RefreshOnce(ctx))
	assert.Empty(t, v.History(mintBONK))

	pos := l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assert.True(t, d("0.0015").Equal(pos.CurrentPrice))
}

func TestRefresherRunStopsOnCancel(t *testing.T) {
	l := newTestLedger(t)
	buy(t, l, mintBONK, "0.0015")

	feed := newFakeFeed()
	feed.set(mintBONK, "0.0012")
	r := NewRefresher(l, newTestValidator(t), feed, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	hits := make(chan Trigger, 8)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, 10*time.Millisecond, func(tr Trigger) { hits <- tr })
	}()

	select {
	case tr := <-hits:
		assert.Equal(t, "stop_loss", tr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}
