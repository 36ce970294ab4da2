// internal/storage/pool/tx.go
package pool

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc is the body of a transaction. Returning an error (ErrRollback
// included) rolls the whole transaction back.
type TxFunc func(tx *gorm.DB) error

// WithTransaction runs fn inside BEGIN/COMMIT on one pooled connection.
// Any error or panic in fn rolls back; the connection goes back to the pool
// on every path.
func (p *Pool) WithTransaction(ctx context.Context, fn TxFunc) (err error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		p.finish(conn, err)
	}()

	tx := conn.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback().Error; rbErr != nil {
				p.logger.Error("Rollback after panic failed", zap.Int("conn_id", conn.id), zap.Error(rbErr))
			}
			p.Release(conn)
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			p.logger.Error("Rollback failed",
				zap.Int("conn_id", conn.id),
				zap.Error(rbErr),
				zap.NamedError("cause", err))
			err = errors.Join(err, rbErr)
		}
		if errors.Is(err, ErrRollback) {
			p.logger.Debug("Transaction rolled back on request", zap.Int("conn_id", conn.id))
		}
		return err
	}

	if err = tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
