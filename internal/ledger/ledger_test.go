package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/sqlite"
)

const (
	mintSOL  = "So11111111111111111111111111111111111111112"
	mintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	mintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dial := sqlite.Dialer(sqlite.Options{
		Path:        filepath.Join(t.TempDir(), "ledger.db"),
		BusyTimeout: 3 * time.Second,
	}, logger)

	cfg := pool.DefaultConfig()
	cfg.Size = 3
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond

	p := pool.New(cfg, dial, logger)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(p.CloseAll)
	return p
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *pool.Pool) {
	t.Helper()
	p := newTestPool(t)
	l, err := New(p, Config{
		InitialBalance: d("10"),
		StopLossPct:    d("0.1"),
		TakeProfitPct:  d("0.2"),
	}, zaptest.NewLogger(t), append([]Option{WithClock(func() time.Time { return t0 })}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, l.Bootstrap(context.Background()))
	return l, p
}

func countRows(t *testing.T, p *pool.Pool, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, p.WithRetry(context.Background(), func(ctx context.Context, db *gorm.DB) error {
		return db.Model(model).Count(&n).Error
	}))
	return n
}

func buy(mint, sol, tokens, price, fee, slippage string, at time.Time) BuyOrder {
	return BuyOrder{
		TokenMint:   mint,
		TokenName:   "TEST",
		AmountSOL:   d(sol),
		AmountToken: d(tokens),
		Price:       d(price),
		Fee:         d(fee),
		Slippage:    d(slippage),
		Timestamp:   at,
		Market: MarketSnapshot{
			MarketCap:    d("150000"),
			VolumeM5:     d("3200.5"),
			LiquidityUSD: d("42000"),
		},
	}
}

func sell(mint, sol, price, fee, slippage string, at time.Time) SellOrder {
	return SellOrder{
		TokenMint: mint,
		AmountSOL: d(sol),
		Price:     d(price),
		Fee:       d(fee),
		Slippage:  d(slippage),
		Timestamp: at,
		Market:    MarketSnapshot{LiquidityUSD: d("39000")},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	p := newTestPool(t)

	_, err := New(p, Config{InitialBalance: d("10"), StopLossPct: d("1.2"), TakeProfitPct: d("0.2")}, nil)
	assert.Error(t, err)

	_, err = New(nil, Config{InitialBalance: d("10"), StopLossPct: d("0.1"), TakeProfitPct: d("0.2")}, nil)
	assert.Error(t, err)
}

func TestBootstrapSeedsOnce(t *testing.T) {
	l, p := newTestLedger(t)

	require.NoError(t, l.Bootstrap(context.Background()))

	assert.Equal(t, int64(1), countRows(t, p, &models.VirtualBalance{}))
	balance := l.GetBalance(context.Background())
	require.NotNil(t, balance)
	assertDecimal(t, "10", *balance)
}

func TestBuyThenSellScenario(t *testing.T) {
	rec := &recorder{}
	l, p := newTestLedger(t, WithEventBus(rec))
	ctx := context.Background()

	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "1.5", "1000", "0.0015", "0.001", "0", t0)))

	balance := l.GetBalance(ctx)
	require.NotNil(t, balance)
	assertDecimal(t, "8.499", *balance)

	pos := l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assertDecimal(t, "0.00135", pos.StopLoss)
	assertDecimal(t, "0.0018", pos.TakeProfit)
	assertDecimal(t, "1000", pos.Amount)
	assertDecimal(t, "1.5", pos.PositionSize)
	assert.True(t, pos.StopLoss.LessThan(pos.BuyPrice))
	assert.True(t, pos.BuyPrice.LessThan(pos.TakeProfit))

	require.True(t, l.RecordSell(ctx, sell(mintBONK, "2", "0.002", "0.0008", "0", t0.Add(time.Minute))))

	// pnl = (2 - 0.0008) - (1.5 + 0.001)
	history := l.GetTradeHistory(ctx, 10)
	require.Len(t, history, 1)
	trade := history[0]
	assert.False(t, trade.Open())
	require.True(t, trade.PnL.Valid)
	assertDecimal(t, "0.4982", trade.PnL.Decimal)
	assertDecimal(t, "0.002", trade.SellPrice.Decimal)
	assertDecimal(t, "0.0008", trade.SellFee.Decimal)
	assertDecimal(t, "0.0015", trade.BuyPrice)
	assertDecimal(t, "150000", trade.Market.MarketCap)
	require.NotNil(t, trade.TimeSell)
	assert.True(t, t0.Add(time.Minute).Equal(*trade.TimeSell))

	balance = l.GetBalance(ctx)
	require.NotNil(t, balance)
	assertDecimal(t, "10.4982", *balance)

	assert.Nil(t, l.GetPosition(ctx, mintBONK))
	assert.Zero(t, l.GetOpenPositionCount(ctx))
	assert.Equal(t, int64(3), countRows(t, p, &models.VirtualBalance{}))

	assert.Equal(t, []events.EventType{
		events.TradeOpened, events.BalanceChanged,
		events.TradeClosed, events.BalanceChanged,
	}, rec.types())
}

func TestSellWithoutOpenTrade(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	assert.False(t, l.RecordSell(ctx, sell(mintUSDC, "1", "1", "0", "0", t0)))

	assert.Equal(t, int64(1), countRows(t, p, &models.VirtualBalance{}))
	assert.Empty(t, l.GetTradeHistory(ctx, 0))
	assertDecimal(t, "10", *l.GetBalance(ctx))
}

func TestBuyLeavesNoPartialStateOnFailure(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	// 12 SOL при балансе 10
	assert.False(t, l.RecordBuy(ctx, buy(mintSOL, "12", "12", "1", "0.01", "0", t0)))

	assert.Equal(t, int64(1), countRows(t, p, &models.VirtualBalance{}))
	assert.Zero(t, countRows(t, p, &models.SimulatedTrade{}))
	assert.Zero(t, countRows(t, p, &models.TokenTracking{}))
	assertDecimal(t, "10", *l.GetBalance(ctx))
}

func TestBuyRejectsInvalidOrders(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		order BuyOrder
	}{
		{"bad mint", buy("not-a-mint", "1", "1", "1", "0", "0", t0)},
		{"zero amount", buy(mintSOL, "0", "1", "1", "0", "0", t0)},
		{"zero price", buy(mintSOL, "1", "1", "0", "0", "0", t0)},
		{"negative fee", buy(mintSOL, "1", "1", "1", "-0.1", "0", t0)},
		{"full slippage", buy(mintSOL, "1", "1", "1", "0", "1", t0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, l.RecordBuy(ctx, tt.order))
		})
	}
	assert.Zero(t, countRows(t, p, &models.SimulatedTrade{}))
}

func TestAveragingIntoPosition(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "1", "1000", "0.001", "0", "0", t0)))
	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "0.5", "400", "0.00125", "0", "0", t0.Add(time.Second))))

	assert.Equal(t, int64(1), countRows(t, p, &models.TokenTracking{}))
	pos := l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assertDecimal(t, "1400", pos.Amount)
	assertDecimal(t, "1.5", pos.PositionSize)
	assertDecimal(t, "0.001", pos.BuyPrice)
	assertDecimal(t, "0.00125", pos.CurrentPrice)

	// первой закрывается самая старая сделка
	require.True(t, l.RecordSell(ctx, sell(mintBONK, "1.1", "0.0011", "0", "0", t0.Add(time.Minute))))
	pos = l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assertDecimal(t, "400", pos.Amount)
	assertDecimal(t, "0.5", pos.PositionSize)

	history := l.GetTradeHistory(ctx, 0)
	require.Len(t, history, 2)
	assert.True(t, history[0].Open())
	assert.False(t, history[1].Open())
	assertDecimal(t, "0.1", history[1].PnL.Decimal)

	require.True(t, l.RecordSell(ctx, sell(mintBONK, "0.6", "0.0015", "0", "0", t0.Add(2*time.Minute))))
	assert.Nil(t, l.GetPosition(ctx, mintBONK))
	assert.False(t, l.RecordSell(ctx, sell(mintBONK, "0.6", "0.0015", "0", "0", t0.Add(3*time.Minute))))
}

func TestBalanceInvariant(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	at := t0
	step := func() time.Time {
		at = at.Add(time.Second)
		return at
	}

	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "1.2", "900", "0.0013", "0.0011", "0.01", step())))
	require.True(t, l.RecordBuy(ctx, buy(mintUSDC, "0.75", "120", "0.00625", "0.0007", "0.02", step())))
	require.True(t, l.RecordSell(ctx, sell(mintBONK, "1.05", "0.0012", "0.0009", "0.015", step())))
	require.True(t, l.RecordBuy(ctx, buy(mintSOL, "2.3333", "2.3333", "1", "0.00123", "0.005", step())))
	require.True(t, l.RecordBuy(ctx, buy(mintUSDC, "0.4", "60", "0.0066", "0.0005", "0", step())))
	require.True(t, l.RecordSell(ctx, sell(mintUSDC, "0.91", "0.0075", "0.0006", "0.01", step())))
	assert.False(t, l.RecordSell(ctx, sell(mintBONK, "1", "0.001", "0", "0", step())))

	expected := d("10")
	openByMint := map[string]int{}
	for _, tr := range l.GetTradeHistory(ctx, 0) {
		expected = expected.Sub(tr.AmountSOL.Add(tr.BuyFee))
		if tr.Open() {
			openByMint[tr.TokenMint]++
			continue
		}
		// sell_return = pnl + buy_cost
		expected = expected.Add(tr.PnL.Decimal.Add(tr.BuyCost()))
	}

	balance := l.GetBalance(ctx)
	require.NotNil(t, balance)
	assertDecimal(t, expected.String(), *balance)

	// позиция есть тогда и только тогда, когда есть открытая сделка
	positions := l.GetOpenPositions(ctx)
	assert.Len(t, positions, len(openByMint))
	for _, pos := range positions {
		assert.Positive(t, openByMint[pos.TokenMint], pos.TokenMint)
	}
	assert.Equal(t, int64(7), countRows(t, p, &models.VirtualBalance{}))
}

func TestConcurrentBuys(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	var g errgroup.Group
	for i, mint := range []string{mintBONK, mintUSDC} {
		order := buy(mint, "1", "100", "0.01", "0.001", "0", t0.Add(time.Duration(i)*time.Second))
		g.Go(func() error {
			if !l.RecordBuy(ctx, order) {
				return assert.AnError
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(3), countRows(t, p, &models.VirtualBalance{}))
	assert.Equal(t, 2, l.GetOpenPositionCount(ctx))
	assertDecimal(t, "7.998", *l.GetBalance(ctx))
}

func TestUpdatePositionPrice(t *testing.T) {
	rec := &recorder{}
	l, _ := newTestLedger(t, WithEventBus(rec))
	ctx := context.Background()

	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "1", "1000", "0.001", "0", "0", t0)))
	before := len(rec.types())

	assert.True(t, l.UpdatePositionPrice(ctx, mintBONK, d("0.00085")))
	assert.False(t, l.UpdatePositionPrice(ctx, mintUSDC, d("1")))
	assert.False(t, l.UpdatePositionPrice(ctx, mintBONK, d("0")))

	pos := l.GetPosition(ctx, mintBONK)
	require.NotNil(t, pos)
	assertDecimal(t, "0.00085", pos.CurrentPrice)
	assertDecimal(t, "0.001", pos.BuyPrice)
	assert.True(t, pos.StopLossHit(pos.CurrentPrice))
	assert.False(t, pos.TakeProfitHit(pos.CurrentPrice))
	assertDecimal(t, "-0.15", pos.UnrealizedPnL())

	assertDecimal(t, "9", *l.GetBalance(ctx))
	assert.Equal(t, before, len(rec.types()))
}

func TestTradeStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.True(t, l.RecordBuy(ctx, buy(mintBONK, "1", "1000", "0.001", "0", "0", t0)))
	require.True(t, l.RecordBuy(ctx, buy(mintUSDC, "1", "100", "0.01", "0", "0", t0.Add(time.Second))))
	require.True(t, l.RecordBuy(ctx, buy(mintSOL, "1", "1", "1", "0", "0", t0.Add(2*time.Second))))
	require.True(t, l.RecordSell(ctx, sell(mintBONK, "1.3", "0.0013", "0", "0", t0.Add(time.Minute))))
	require.True(t, l.RecordSell(ctx, sell(mintUSDC, "0.8", "0.008", "0", "0", t0.Add(time.Minute))))

	stats := l.GetTradeStats(ctx)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 2, stats.Closed)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assertDecimal(t, "0.1", stats.TotalPnL)

	between := l.TradesBetween(ctx, t0, t0.Add(time.Second))
	require.Len(t, between, 2)
	assert.Equal(t, mintBONK, between[0].TokenMint)
}

func TestReadsDegradeToDefaults(t *testing.T) {
	l, p := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, p.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		return db.Create(&models.VirtualBalance{BalanceSOL: "not-a-number", UpdatedMs: 1}).Error
	}))
	assert.Nil(t, l.GetBalance(ctx))
	assert.False(t, l.RecordBuy(ctx, buy(mintSOL, "1", "1", "1", "0", "0", t0)))

	p.CloseAll()

	assert.Nil(t, l.GetBalance(ctx))
	assert.Empty(t, l.GetOpenPositions(ctx))
	assert.NotNil(t, l.GetOpenPositions(ctx))
	assert.Zero(t, l.GetOpenPositionCount(ctx))
	assert.Empty(t, l.GetTradeHistory(ctx, 5))
	assert.Equal(t, TradeStats{TotalPnL: decimal.Zero}, l.GetTradeStats(ctx))
	assert.False(t, l.RecordBuy(ctx, buy(mintSOL, "1", "1", "1", "0", "0", t0)))
}
