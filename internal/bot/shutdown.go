// internal/bot/shutdown.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc is one shutdown step.
type CloseFunc func(ctx context.Context) error

type namedCloser struct {
	name  string
	close CloseFunc
}

// ShutdownHandler closes registered services in reverse registration order,
// so the pool registered first is closed after everything that uses it.
type ShutdownHandler struct {
	logger   *zap.Logger
	timeout  time.Duration
	mu       sync.Mutex
	services []namedCloser
	done     bool
}

// NewShutdownHandler creates a handler; a zero timeout means 30s.
func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a shutdown step.
func (sh *ShutdownHandler) Add(name string, fn CloseFunc) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.services = append(sh.services, namedCloser{name: name, close: fn})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// Shutdown runs every step once, LIFO, each bounded by the handler timeout.
// Step failures are logged and joined into the returned error.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	if sh.done {
		sh.mu.Unlock()
		return nil
	}
	sh.done = true
	services := make([]namedCloser, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sh.timeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := sh.closeOne(ctx, svc); err != nil {
			sh.logger.Error("Failed to shutdown service", zap.String("service", svc.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", svc.name, err))
			continue
		}
		sh.logger.Info("Service shutdown complete", zap.String("service", svc.name))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sh.logger.Info("Graceful shutdown completed successfully")
	return nil
}

func (sh *ShutdownHandler) closeOne(ctx context.Context, svc namedCloser) error {
	done := make(chan error, 1)
	go func() {
		done <- svc.close(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
