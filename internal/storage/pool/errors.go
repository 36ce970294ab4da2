// internal/storage/pool/errors.go
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNoConnections возникает, когда в пуле нет свободных соединений
	ErrNoConnections = errors.New("no connections available")

	// ErrPoolClosed возникает при обращении к закрытому пулу
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrTimeout возникает, когда попытка не уложилась в таймаут
	ErrTimeout = errors.New("query attempt timed out")

	// ErrRollback can be returned by a transaction body to request a rollback
	// without any other failure.
	ErrRollback = errors.New("transaction rollback requested")
)

// InitError is returned when the pool ends initialization with no connections.
type InitError struct {
	Rounds int
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("connection pool initialization failed after %d rounds: %v", e.Rounds, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// RetryError aggregates a retried operation that never succeeded.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying; WithRetry returns it after the
// current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// ErrorClass is the retry-relevant category of a storage error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassBusy: the engine is serializing a writer; the connection is healthy.
	ClassBusy
	// ClassConnection: the connection itself is unusable and must be replaced.
	ClassConnection
	// ClassTimeout: the attempt ran out of time.
	ClassTimeout
	// ClassOther: any other failure (constraint, logic, decode).
	ClassOther
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassBusy:
		return "busy"
	case ClassConnection:
		return "connection"
	case ClassTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Classify maps an error onto the pool's recovery states. Driver error codes
// are preferred; message matching is kept only for conditions SQLite reports
// under its generic SQLITE_ERROR code.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ClassBusy
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt, sqlite3.ErrMisuse:
			return ClassConnection
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return ClassConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "database is closed"):
		return ClassConnection
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return ClassBusy
	}

	return ClassOther
}
