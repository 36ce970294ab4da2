// internal/price/validator.go
package price

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/utils/metrics"
)

const (
	DefaultWindowSize         = 12
	DefaultMinDataPoints      = 6
	DefaultMaxDeviation       = 0.05
	DefaultDownsideMultiplier = 1.5
)

// Причины вердиктов
const (
	ReasonColdStart     = "insufficient historical data"
	ReasonSourceDiverge = "cross-source divergence"
	ReasonSpike         = "price spike above rolling average"
	ReasonDrop          = "price drop below rolling average"
	ReasonNonPositive   = "non-positive price"
	ReasonWithinRange   = "within rolling range"
)

// Config is the validation policy.
type Config struct {
	WindowSize         int
	MinDataPoints      int
	MaxDeviation       float64
	DownsideMultiplier float64
	Sources            []string
}

// DefaultConfig returns the documented defaults for the two feeds.
func DefaultConfig() Config {
	return Config{
		WindowSize:         DefaultWindowSize,
		MinDataPoints:      DefaultMinDataPoints,
		MaxDeviation:       DefaultMaxDeviation,
		DownsideMultiplier: DefaultDownsideMultiplier,
		Sources:            []string{"jupiter", "dexscreener"},
	}
}

// Result is a validation verdict. Confidence is not clamped: a rejection
// after a large divergence can be negative.
type Result struct {
	Valid      bool
	Confidence float64
	Reason     string
	Deviation  float64
	Suggested  decimal.NullDecimal
}

// Option configures a Validator.
type Option func(*Validator)

// WithEventBus publishes rejections as price.rejected events.
func WithEventBus(pub events.Publisher) Option {
	return func(v *Validator) {
		v.events = pub
	}
}

// WithMetrics counts verdicts.
func WithMetrics(c *metrics.Collector) Option {
	return func(v *Validator) {
		v.metrics = c
	}
}

// Validator keeps a rolling price window per token and decides whether a
// new observation can be trusted. Safe for concurrent use.
type Validator struct {
	mu      sync.RWMutex
	cfg     Config
	history map[string]*window

	maxUp   decimal.Decimal
	maxDown decimal.Decimal

	logger  *zap.Logger
	events  events.Publisher
	metrics *metrics.Collector
}

// NewValidator creates a validator. Zero values in cfg fall back to defaults.
func NewValidator(cfg Config, logger *zap.Logger, opts ...Option) *Validator {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.MinDataPoints > cfg.WindowSize {
		cfg.MinDataPoints = cfg.WindowSize
	}
	if cfg.MaxDeviation <= 0 {
		cfg.MaxDeviation = def.MaxDeviation
	}
	if cfg.DownsideMultiplier <= 0 {
		cfg.DownsideMultiplier = def.DownsideMultiplier
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = def.Sources
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxUp := decimal.NewFromFloat(cfg.MaxDeviation)
	v := &Validator{
		cfg:     cfg,
		history: make(map[string]*window),
		maxUp:   maxUp,
		maxDown: maxUp.Mul(decimal.NewFromFloat(cfg.DownsideMultiplier)),
		logger:  logger.Named("price_validator"),
		events:  events.Nop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddPricePoint appends an observation, evicting the oldest beyond the
// window size.
func (v *Validator) AddPricePoint(token string, price decimal.Decimal, ts time.Time, source string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	w, ok := v.history[token]
	if !ok {
		w = newWindow(v.cfg.WindowSize)
		v.history[token] = w
	}
	w.add(Point{Price: price, Timestamp: ts, Source: source})
}

// Validate judges candidate against the token's history. It does not record
// the candidate.
func (v *Validator) Validate(token string, candidate decimal.Decimal, source string) Result {
	v.mu.RLock()
	res := v.validateLocked(token, candidate, source)
	v.mu.RUnlock()

	v.metrics.RecordValidation(res.Valid, res.Reason)
	if !res.Valid {
		v.logger.Warn("Price rejected",
			zap.String("token_mint", token),
			zap.String("source", source),
			zap.String("price", candidate.String()),
			zap.String("reason", res.Reason),
			zap.Float64("confidence", res.Confidence))
		v.publishRejection(token, candidate, source, res)
	}
	return res
}

func (v *Validator) validateLocked(token string, candidate decimal.Decimal, source string) Result {
	if !candidate.IsPositive() {
		return Result{Valid: false, Confidence: 0, Reason: ReasonNonPositive}
	}

	w := v.history[token]
	if w == nil || w.len() < v.cfg.MinDataPoints {
		return Result{Valid: true, Confidence: 0.5, Reason: ReasonColdStart}
	}

	mean := w.mean()
	suggested := decimal.NewNullDecimal(mean)

	if other, ok := w.latestFrom(v.cfg.Sources, source); ok && other.Price.IsPositive() {
		divergence := candidate.Sub(other.Price).Abs().Div(other.Price)
		if divergence.GreaterThan(v.maxUp) {
			return Result{
				Valid:      false,
				Confidence: 1 - divergence.InexactFloat64(),
				Reason:     ReasonSourceDiverge,
				Deviation:  divergence.InexactFloat64(),
				Suggested:  suggested,
			}
		}
	}

	if !mean.IsPositive() {
		return Result{Valid: true, Confidence: 0.5, Reason: ReasonColdStart}
	}

	deviation := candidate.Sub(mean).Div(mean)
	dev := deviation.InexactFloat64()
	confidence := 1 - deviation.Abs().InexactFloat64()

	switch {
	case deviation.GreaterThan(v.maxUp):
		return Result{Valid: false, Confidence: confidence, Reason: ReasonSpike, Deviation: dev, Suggested: suggested}
	case deviation.LessThan(v.maxDown.Neg()):
		return Result{Valid: false, Confidence: confidence, Reason: ReasonDrop, Deviation: dev, Suggested: suggested}
	}
	return Result{Valid: true, Confidence: confidence, Reason: ReasonWithinRange, Deviation: dev}
}

// Observe validates a price and records it only when accepted.
func (v *Validator) Observe(token string, price decimal.Decimal, ts time.Time, source string) Result {
	res := v.Validate(token, price, source)
	if res.Valid {
		v.AddPricePoint(token, price, ts, source)
	}
	return res
}

// History returns a copy of the token's window, oldest first.
func (v *Validator) History(token string) []Point {
	v.mu.RLock()
	defer v.mu.RUnlock()

	w := v.history[token]
	if w == nil {
		return nil
	}
	return w.snapshot()
}

// RollingAverage returns the mean of the token's window and false when there
// is no history.
func (v *Validator) RollingAverage(token string) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	w := v.history[token]
	if w == nil || w.len() == 0 {
		return decimal.Zero, false
	}
	return w.mean(), true
}

// Reset drops the token's history.
func (v *Validator) Reset(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.history, token)
}

func (v *Validator) publishRejection(token string, price decimal.Decimal, source string, res Result) {
	err := v.events.Publish(events.PriceRejectedEvent{
		BaseEvent:  events.NewBase(events.PriceRejected, time.Now()),
		TokenMint:  token,
		Source:     source,
		Price:      price,
		Suggested:  res.Suggested,
		Confidence: res.Confidence,
		Reason:     res.Reason,
	})
	if err != nil {
		v.logger.Debug("Failed to publish rejection", zap.Error(err))
	}
}
