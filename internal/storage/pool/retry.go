// internal/storage/pool/retry.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QueryFunc is one attempt of a retried operation. ctx carries the
// per-attempt timeout.
type QueryFunc func(ctx context.Context, db *gorm.DB) error

type attemptResult struct {
	err error
}

// WithRetry runs fn with cfg.QueryRetries attempts.
func (p *Pool) WithRetry(ctx context.Context, fn QueryFunc) error {
	return p.WithRetryN(ctx, p.cfg.QueryRetries, fn)
}

// WithRetryN runs fn at most retries times. Each attempt gets its own
// connection and is raced against cfg.QueryTimeout. Attempts are spaced by
// base_delay * 2^attempt. Connection-class failures evict the connection and
// dial a replacement before the next attempt.
func (p *Pool) WithRetryN(ctx context.Context, retries int, fn QueryFunc) error {
	if retries < 1 {
		retries = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.BaseDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = p.cfg.BaseDelay << retries

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	operation := func() (struct{}, error) {
		attempts++
		err := p.attempt(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			lastErr = perm.Unwrap()
			return struct{}{}, err
		}
		lastErr = err
		if errors.Is(err, ErrPoolClosed) || errIsContext(ctx, err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		p.logger.Warn("Query attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", retries),
			zap.String("class", Classify(err).String()),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(retries)),
		backoff.WithNotify(notify))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("query cancelled after %d attempts: %w", attempts, ctx.Err())
	}
	if permanent {
		return lastErr
	}
	if lastErr == nil {
		lastErr = err
	}

	p.logger.Error("Query failed after all attempts", zap.Int("attempts", attempts), zap.Error(lastErr))
	return &RetryError{Attempts: attempts, Err: lastErr}
}

// attempt runs fn once on a freshly acquired connection.
func (p *Pool) attempt(ctx context.Context, fn QueryFunc) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		p.metrics.RecordAttempt("failure")
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("query panicked: %v", r)
			}
			done <- res
		}()
		res.err = fn(attemptCtx, conn.db.WithContext(attemptCtx))
	}()

	select {
	case res := <-done:
		p.finish(conn, res.err)
		if res.err != nil {
			p.metrics.RecordAttempt("failure")
			return res.err
		}
		p.metrics.RecordAttempt("success")
		return nil

	case <-attemptCtx.Done():
		// Брошенная попытка держит соединение, пока fn не вернётся
		go func() {
			res := <-done
			p.finish(conn, res.err)
		}()

		if ctx.Err() != nil {
			p.metrics.RecordAttempt("failure")
			return ctx.Err()
		}
		p.metrics.RecordAttempt("timeout")
		return fmt.Errorf("%w after %s", ErrTimeout, p.cfg.QueryTimeout)
	}
}
