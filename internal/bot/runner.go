// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-paper-trader/internal/config"
	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/export"
	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-paper-trader/internal/price"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-paper-trader/internal/utils/metrics"
)

const (
	eventBufferSize = 1024
	refreshInterval = 10 * time.Second
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPriceFeed enables the position refresh loop.
func WithPriceFeed(feed PriceFeed) RunnerOption {
	return func(r *Runner) {
		r.feed = feed
	}
}

// Runner owns the process-wide components: one pool, one ledger, one
// validator. Initialize once at startup, Shutdown once at exit.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector

	pool      *pool.Pool
	bus       *events.Bus
	ledger    *ledger.Ledger
	store     storage.Storage
	validator *price.Validator
	feed      PriceFeed

	shutdown *ShutdownHandler
}

// NewRunner builds the components from cfg. Nothing touches the database
// until Initialize.
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...RunnerOption) (*Runner, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	dial := sqlite.Dialer(sqlite.Options{
		Path:        cfg.DatabasePath,
		BusyTimeout: cfg.Pool.BusyTimeoutDuration(),
	}, logger)

	p := pool.New(pool.Config{
		Size:           cfg.Pool.Size,
		InitRetries:    cfg.Pool.InitRetries,
		AcquireRetries: cfg.Pool.AcquireRetries,
		QueryRetries:   cfg.Pool.QueryRetries,
		RetryDelay:     cfg.Pool.RetryDelayDuration(),
		BaseDelay:      cfg.Pool.BaseDelayDuration(),
		QueryTimeout:   cfg.Pool.QueryTimeoutDuration(),
	}, dial, logger, pool.WithMetrics(collector))

	bus := events.NewBus(logger, eventBufferSize)

	l, err := ledger.New(p, ledger.Config{
		InitialBalance: cfg.InitialBalanceSOL(),
		StopLossPct:    decimal.NewFromFloat(cfg.StopLossPct),
		TakeProfitPct:  decimal.NewFromFloat(cfg.TakeProfitPct),
	}, logger, ledger.WithEventBus(bus), ledger.WithMetrics(collector))
	if err != nil {
		return nil, err
	}

	v := price.NewValidator(price.Config{
		WindowSize:         cfg.Validator.WindowSize,
		MinDataPoints:      cfg.Validator.MinDataPoints,
		MaxDeviation:       cfg.Validator.MaxDeviation,
		DownsideMultiplier: cfg.Validator.DownsideMultiplier,
		Sources:            cfg.Validator.Sources,
	}, logger, price.WithEventBus(bus), price.WithMetrics(collector))

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		metrics:   collector,
		pool:      p,
		bus:       bus,
		ledger:    l,
		store:     l,
		validator: v,
		shutdown:  NewShutdownHandler(logger, 30*time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize opens the pool and prepares the ledger tables. A pool that
// cannot open a single connection is returned as *pool.InitError.
func (r *Runner) Initialize(ctx context.Context) error {
	if err := r.pool.Initialize(ctx); err != nil {
		return err
	}
	r.shutdown.Add("connection_pool", func(context.Context) error {
		r.pool.CloseAll()
		return nil
	})
	r.shutdown.Add("event_bus", r.bus.Shutdown)

	if err := r.store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("ledger bootstrap: %w", err)
	}

	r.bus.SubscribeFunc(events.TradeClosed, func(_ context.Context, e events.Event) error {
		ev, ok := e.(events.TradeClosedEvent)
		if !ok {
			return nil
		}
		r.logger.Info("Trade closed",
			zap.Uint("trade_id", ev.TradeID),
			zap.String("token_mint", ev.TokenMint),
			zap.String("pnl", ev.PnL.String()))
		return nil
	})
	return nil
}

func (r *Runner) Ledger() *ledger.Ledger { return r.ledger }
func (r *Runner) Validator() *price.Validator { return r.validator }
func (r *Runner) Bus() *events.Bus { return r.bus }

// Report logs the account state.
func (r *Runner) Report(ctx context.Context) {
	fields := []zap.Field{
		zap.Int("open_positions", r.store.GetOpenPositionCount(ctx)),
	}
	if balance := r.store.GetBalance(ctx); balance != nil {
		fields = append(fields, zap.String("balance_sol", balance.String()))
	}

	stats := r.store.GetTradeStats(ctx)
	fields = append(fields,
		zap.Int("trades", stats.Total),
		zap.Int("closed", stats.Closed),
		zap.Float64("win_rate", stats.WinRate),
		zap.String("realized_pnl", stats.TotalPnL.String()))

	r.logger.Info("Paper account status", fields...)

	for _, pos := range r.store.GetOpenPositions(ctx) {
		r.logger.Info("Open position",
			zap.String("token_mint", pos.TokenMint),
			zap.String("amount", pos.Amount.String()),
			zap.String("buy_price", pos.BuyPrice.String()),
			zap.String("current_price", pos.CurrentPrice.String()),
			zap.String("unrealized_pnl", pos.UnrealizedPnL().String()))
	}
}

// Export writes the full trade history to cfg.ExportDir.
func (r *Runner) Export(ctx context.Context, format export.ExportFormat) (string, error) {
	exporter := export.NewTradeExporter(r.logger)
	return exporter.ExportTrades(r.store.GetTradeHistory(ctx, 0), export.ExportOptions{
		Format:    format,
		OutputDir: r.cfg.ExportDir,
	})
}

// Run serves /metrics and refreshes positions until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := r.cfg.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           r.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			r.logger.Info("Serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if r.feed != nil {
		refresher := NewRefresher(r.ledger, r.validator, r.feed, r.logger)
		g.Go(func() error {
			return refresher.Run(ctx, refreshInterval, nil)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

func (r *Runner) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	return mux
}

// Shutdown closes components in reverse start order.
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}
