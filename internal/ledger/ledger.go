// internal/ledger/ledger.go
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
	"github.com/rovshanmuradov/solana-paper-trader/internal/utils/metrics"
)

// Config holds the ledger's trading policy.
type Config struct {
	InitialBalance decimal.Decimal
	StopLossPct    decimal.Decimal
	TakeProfitPct  decimal.Decimal
}

func (c Config) validate() error {
	if c.InitialBalance.IsNegative() {
		return errors.New("initial balance must not be negative")
	}
	if !c.StopLossPct.IsPositive() || c.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("stop loss pct %s must be in (0, 1)", c.StopLossPct)
	}
	if !c.TakeProfitPct.IsPositive() {
		return errors.Errorf("take profit pct %s must be positive", c.TakeProfitPct)
	}
	return nil
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEventBus publishes committed trades and balance changes.
func WithEventBus(pub events.Publisher) Option {
	return func(l *Ledger) {
		l.events = pub
	}
}

// WithMetrics counts trades and publishes the balance gauge.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Ledger) {
		l.metrics = c
	}
}

// WithClock replaces time.Now for timestamps the caller left zero.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger owns the virtual balance, trade history and open-position tables.
// Every mutation is one pool transaction; reads go through the retrying path
// and degrade to safe defaults.
type Ledger struct {
	pool    *pool.Pool
	cfg     Config
	logger  *zap.Logger
	events  events.Publisher
	metrics *metrics.Collector
	now     func() time.Time
}

// New builds a ledger over an initialized pool.
func New(p *pool.Pool, cfg Config, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	if p == nil {
		return nil, errors.New("ledger requires a connection pool")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid ledger config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		pool:   p,
		cfg:    cfg,
		logger: logger.Named("ledger"),
		events: events.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Bootstrap creates the three tables and seeds the initial balance row when
// the balance table is empty.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		return db.AutoMigrate(models.All()...)
	})
	if err != nil {
		return errors.Wrap(err, "failed to migrate ledger tables")
	}

	var seeded bool
	err = l.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.VirtualBalance{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		seeded = true
		return tx.Create(&models.VirtualBalance{
			BalanceSOL: l.cfg.InitialBalance.String(),
			UpdatedMs:  toMillis(l.now()),
		}).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to seed virtual balance")
	}

	if seeded {
		l.logger.Info("Virtual balance seeded", zap.String("balance_sol", l.cfg.InitialBalance.String()))
		l.metrics.SetBalance(l.cfg.InitialBalance)
	} else if b := l.GetBalance(ctx); b != nil {
		l.metrics.SetBalance(*b)
	}
	return nil
}

// appendBalance reads the latest balance inside tx and appends balance+delta.
func (l *Ledger) appendBalance(tx *gorm.DB, delta decimal.Decimal, at time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var row models.VirtualBalance
	err := tx.Order("id DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, decimal.Zero, ErrNoBalance
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "failed to read balance")
	}

	current, err := decodeBalance(row)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return current, decimal.Zero, errors.Wrapf(ErrInsufficientBalance, "balance %s, change %s", current, delta)
	}

	if err := tx.Create(&models.VirtualBalance{
		BalanceSOL: next.String(),
		UpdatedMs:  toMillis(at),
	}).Error; err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "failed to append balance")
	}
	return current, next, nil
}

func (l *Ledger) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return l.now()
	}
	return t
}

func (l *Ledger) publish(ev events.Event) {
	if err := l.events.Publish(ev); err != nil {
		l.logger.Warn("Failed to publish event", zap.String("event_type", string(ev.Type())), zap.Error(err))
	}
}

// outcome maps a failed mutation onto the trade metric status.
func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrNoOpenTrade),
		errors.Is(err, ErrInsufficientBalance):
		return "rejected"
	default:
		return "failed"
	}
}
