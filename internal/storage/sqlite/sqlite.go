// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Options describes a single connection to the embedded database file.
type Options struct {
	Path        string
	BusyTimeout time.Duration
}

// DSN builds the go-sqlite3 data source name. Transactions begin IMMEDIATE so
// a read-then-write inside one transaction holds the write lock from BEGIN.
func (o Options) DSN() string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", o.BusyTimeout.Milliseconds()))
	params.Set("_txlock", "immediate")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	return fmt.Sprintf("file:%s?%s", o.Path, params.Encode())
}

// Open opens one dedicated connection: the returned *gorm.DB never holds more
// than one underlying sql connection.
func Open(ctx context.Context, opts Options, zapLogger *zap.Logger) (*gorm.DB, error) {
	if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(gormsqlite.Open(opts.DSN()), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Dialer returns a connection factory suitable for pool.New.
func Dialer(opts Options, zapLogger *zap.Logger) func(ctx context.Context) (*gorm.DB, error) {
	return func(ctx context.Context) (*gorm.DB, error) {
		return Open(ctx, opts, zapLogger)
	}
}
