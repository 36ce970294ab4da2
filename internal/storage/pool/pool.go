// internal/storage/pool/pool.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/utils/metrics"
)

const (
	DefaultSize           = 5
	DefaultInitRetries    = 2
	DefaultAcquireRetries = 3
	DefaultQueryRetries   = 3
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultBaseDelay      = 100 * time.Millisecond
	DefaultQueryTimeout   = 5 * time.Second

	dialTimeout = 10 * time.Second
)

// Dialer opens one datastore connection.
type Dialer func(ctx context.Context) (*gorm.DB, error)

// Config holds pool sizing and retry policy.
type Config struct {
	Size           int
	InitRetries    int
	AcquireRetries int
	QueryRetries   int
	RetryDelay     time.Duration
	BaseDelay      time.Duration
	QueryTimeout   time.Duration
}

// DefaultConfig returns the documented pool defaults.
func DefaultConfig() Config {
	return Config{
		Size:           DefaultSize,
		InitRetries:    DefaultInitRetries,
		AcquireRetries: DefaultAcquireRetries,
		QueryRetries:   DefaultQueryRetries,
		RetryDelay:     DefaultRetryDelay,
		BaseDelay:      DefaultBaseDelay,
		QueryTimeout:   DefaultQueryTimeout,
	}
}

// ConnState is the lifecycle position of a pooled connection:
// idle -> in-use -> idle, or in-use -> evicted (then replaced by a new idle one).
type ConnState int

const (
	StateIdle ConnState = iota
	StateInUse
	StateEvicted
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	default:
		return "evicted"
	}
}

// Conn is a pooled connection handed out by Acquire.
type Conn struct {
	id        int
	db        *gorm.DB
	state     ConnState
	createdAt time.Time
}

// ID returns the pool-local identifier of the connection.
func (c *Conn) ID() int { return c.id }

// DB returns the gorm handle bound to this connection.
func (c *Conn) DB() *gorm.DB { return c.db }

// Stats is a snapshot of pool bookkeeping.
type Stats struct {
	Total int
	Idle  int
	InUse int
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics publishes pool state to the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) {
		p.metrics = c
	}
}

// Pool is a fixed-size set of connections to a single embedded database file.
// Create it with New, call Initialize once at startup and CloseAll once at
// shutdown.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	dial    Dialer
	logger  *zap.Logger
	metrics *metrics.Collector

	conns  []*Conn
	nextID int
	closed bool
}

// New creates an empty pool. Zero values in cfg fall back to the defaults.
func New(cfg Config, dial Dialer, logger *zap.Logger, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.InitRetries < 0 {
		cfg.InitRetries = def.InitRetries
	}
	if cfg.AcquireRetries < 0 {
		cfg.AcquireRetries = def.AcquireRetries
	}
	if cfg.QueryRetries <= 0 {
		cfg.QueryRetries = def.QueryRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		dial:   dial,
		logger: logger.Named("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize opens up to cfg.Size connections. Missing slots are retried for
// cfg.InitRetries extra rounds, cfg.RetryDelay apart. A partially filled pool
// is accepted; an empty one is an *InitError.
func (p *Pool) Initialize(ctx context.Context) error {
	var lastErr error

	for round := 0; round <= p.cfg.InitRetries; round++ {
		if round > 0 {
			p.logger.Warn("Retrying connection pool fill",
				zap.Int("round", round),
				zap.Int("open", p.Stats().Total),
				zap.Int("wanted", p.cfg.Size))
			if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
				return &InitError{Rounds: round, Err: err}
			}
		}

		for p.Stats().Total < p.cfg.Size {
			if err := p.openOne(ctx); err != nil {
				lastErr = err
				p.logger.Error("Failed to open connection", zap.Int("round", round), zap.Error(err))
				break
			}
		}

		if p.Stats().Total == p.cfg.Size {
			break
		}
	}

	stats := p.Stats()
	if stats.Total == 0 {
		if lastErr == nil {
			lastErr = ErrNoConnections
		}
		return &InitError{Rounds: p.cfg.InitRetries + 1, Err: lastErr}
	}
	if stats.Total < p.cfg.Size {
		p.logger.Warn("Connection pool partially initialized",
			zap.Int("open", stats.Total),
			zap.Int("wanted", p.cfg.Size),
			zap.NamedError("last_error", lastErr))
	} else {
		p.logger.Info("Connection pool initialized", zap.Int("size", stats.Total))
	}
	return nil
}

// openOne dials a connection and adds it to the idle set.
func (p *Pool) openOne(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	db, err := p.dial(dialCtx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		closeDB(db)
		return ErrPoolClosed
	}
	p.nextID++
	p.conns = append(p.conns, &Conn{
		id:        p.nextID,
		db:        db,
		state:     StateIdle,
		createdAt: time.Now(),
	})
	p.publishLocked()
	return nil
}

// Acquire returns an idle connection, waiting up to cfg.AcquireRetries retry
// delays for one to become free.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.AcquireN(ctx, p.cfg.AcquireRetries)
}

// AcquireN is Acquire with an explicit retry count. It never blocks longer
// than retries * cfg.RetryDelay.
func (p *Pool) AcquireN(ctx context.Context, retries int) (*Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, err := p.takeIdle()
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}
		if attempt >= retries {
			return nil, ErrNoConnections
		}
		if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func (p *Pool) takeIdle() (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	for _, c := range p.conns {
		if c.state == StateIdle {
			c.state = StateInUse
			p.publishLocked()
			return c, nil
		}
	}
	return nil, nil
}

// Release returns conn to the idle set. Releasing an idle, evicted or
// foreign connection is a no-op.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn.state != StateInUse || !p.ownsLocked(conn) {
		return
	}
	conn.state = StateIdle
	p.publishLocked()
}

// evict removes a broken connection and dials a replacement.
func (p *Pool) evict(conn *Conn, cause error) {
	p.mu.Lock()
	if !p.ownsLocked(conn) || conn.state == StateEvicted {
		p.mu.Unlock()
		return
	}
	conn.state = StateEvicted
	p.removeLocked(conn)
	closed := p.closed
	p.publishLocked()
	p.mu.Unlock()

	p.metrics.RecordEviction()
	closeDB(conn.db)

	p.logger.Warn("Evicted broken connection",
		zap.Int("conn_id", conn.id),
		zap.Duration("age", time.Since(conn.createdAt)),
		zap.Error(cause))

	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := p.openOne(ctx); err != nil {
		p.logger.Error("Failed to replace evicted connection", zap.Error(err))
	}
}

// finish hands a connection back after use: connection-class failures evict
// it, everything else releases it.
func (p *Pool) finish(conn *Conn, err error) {
	if Classify(err) == ClassConnection {
		p.evict(conn, err)
		return
	}
	p.Release(conn)
}

// CloseAll closes every pooled connection. Close failures are logged and the
// pool is left empty and closed either way.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.closed = true
	p.publishLocked()
	p.mu.Unlock()

	for _, c := range conns {
		c.state = StateEvicted
		if err := closeDBErr(c.db); err != nil {
			p.logger.Warn("Failed to close connection", zap.Int("conn_id", c.id), zap.Error(err))
		}
	}
	p.logger.Info("Connection pool closed", zap.Int("closed", len(conns)))
}

// Stats returns current bookkeeping counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{Total: len(p.conns)}
	for _, c := range p.conns {
		if c.state == StateInUse {
			s.InUse++
		} else {
			s.Idle++
		}
	}
	return s
}

func (p *Pool) publishLocked() {
	s := p.statsLocked()
	p.metrics.SetPoolConnections(s.Idle, s.InUse)
}

func (p *Pool) ownsLocked(conn *Conn) bool {
	for _, c := range p.conns {
		if c == conn {
			return true
		}
	}
	return false
}

func (p *Pool) removeLocked(conn *Conn) {
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

func closeDB(db *gorm.DB) {
	_ = closeDBErr(db)
}

func closeDBErr(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errIsContext reports whether err came from the caller's context.
func errIsContext(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
