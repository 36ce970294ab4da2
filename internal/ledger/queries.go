// internal/ledger/queries.go
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
)

// Чтения мониторинговые: любая ошибка логируется и превращается в безопасное
// значение по умолчанию.

// GetBalance returns the latest balance, or nil when it cannot be read.
func (l *Ledger) GetBalance(ctx context.Context) *decimal.Decimal {
	var row models.VirtualBalance
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		err := db.Order("id DESC").Limit(1).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pool.Permanent(ErrNoBalance)
		}
		return err
	})
	if err != nil {
		l.logger.Warn("Failed to read balance", zap.Error(err))
		return nil
	}

	balance, err := decodeBalance(row)
	if err != nil {
		l.logger.Error("Corrupt balance row", zap.Uint("id", row.ID), zap.Error(err))
		return nil
	}
	return &balance
}

// GetOpenPositions returns every open position, or an empty slice on failure.
func (l *Ledger) GetOpenPositions(ctx context.Context) []Position {
	var rows []models.TokenTracking
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		rows = rows[:0]
		return db.Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		l.logger.Warn("Failed to read open positions", zap.Error(err))
		return []Position{}
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		p, err := decodePosition(row)
		if err != nil {
			l.logger.Error("Corrupt position row", zap.Error(err))
			return []Position{}
		}
		positions = append(positions, p)
	}
	return positions
}

// GetPosition returns the open position for one token, or nil.
func (l *Ledger) GetPosition(ctx context.Context, tokenMint string) *Position {
	var row models.TokenTracking
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		err := db.Where("token_mint = ?", tokenMint).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pool.Permanent(ErrNoPosition)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNoPosition) {
			l.logger.Warn("Failed to read position", zap.String("token_mint", tokenMint), zap.Error(err))
		}
		return nil
	}

	p, err := decodePosition(row)
	if err != nil {
		l.logger.Error("Corrupt position row", zap.Error(err))
		return nil
	}
	return &p
}

// GetOpenPositionCount returns the number of open positions, or 0 on failure.
func (l *Ledger) GetOpenPositionCount(ctx context.Context) int {
	var count int64
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		return db.Model(&models.TokenTracking{}).Count(&count).Error
	})
	if err != nil {
		l.logger.Warn("Failed to count open positions", zap.Error(err))
		return 0
	}
	return int(count)
}

// GetTradeHistory returns trades newest first. limit <= 0 returns all.
func (l *Ledger) GetTradeHistory(ctx context.Context, limit int) []Trade {
	var rows []models.SimulatedTrade
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		rows = rows[:0]
		q := db.Order("time_buy DESC, id DESC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		l.logger.Warn("Failed to read trade history", zap.Error(err))
		return []Trade{}
	}

	trades, err := decodeTrades(rows)
	if err != nil {
		l.logger.Error("Corrupt trade row", zap.Error(err))
		return []Trade{}
	}
	return trades
}

// GetTradeStats aggregates the whole trade table. Failures return zero stats.
func (l *Ledger) GetTradeStats(ctx context.Context) TradeStats {
	stats := TradeStats{TotalPnL: decimal.Zero}

	trades := l.GetTradeHistory(ctx, 0)
	for _, t := range trades {
		stats.Total++
		if t.Open() {
			stats.Open++
			continue
		}
		stats.Closed++
		if !t.PnL.Valid {
			continue
		}
		stats.TotalPnL = stats.TotalPnL.Add(t.PnL.Decimal)
		if t.PnL.Decimal.IsPositive() {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.Closed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Closed)
	}
	return stats
}

// UpdatePositionPrice refreshes current_price and last_updated of a position.
// Balance and trades are not touched.
func (l *Ledger) UpdatePositionPrice(ctx context.Context, tokenMint string, price decimal.Decimal) bool {
	if !price.IsPositive() {
		l.logger.Warn("Ignoring non-positive position price",
			zap.String("token_mint", tokenMint), zap.String("price", price.String()))
		return false
	}

	now := toMillis(l.now())
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		res := db.Model(&models.TokenTracking{}).
			Where("token_mint = ?", tokenMint).
			Updates(map[string]interface{}{
				"current_price": price.String(),
				"last_updated":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pool.Permanent(ErrNoPosition)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Failed to update position price",
			zap.String("token_mint", tokenMint), zap.Error(err))
		return false
	}
	return true
}

// TradesBetween returns trades bought within [from, to], oldest first.
func (l *Ledger) TradesBetween(ctx context.Context, from, to time.Time) []Trade {
	var rows []models.SimulatedTrade
	err := l.pool.WithRetry(ctx, func(ctx context.Context, db *gorm.DB) error {
		rows = rows[:0]
		return db.Where("time_buy BETWEEN ? AND ?", toMillis(from), toMillis(to)).
			Order("time_buy ASC, id ASC").
			Find(&rows).Error
	})
	if err != nil {
		l.logger.Warn("Failed to read trades", zap.Error(err))
		return []Trade{}
	}

	trades, err := decodeTrades(rows)
	if err != nil {
		l.logger.Error("Corrupt trade row", zap.Error(err))
		return []Trade{}
	}
	return trades
}

func decodeTrades(rows []models.SimulatedTrade) ([]Trade, error) {
	trades := make([]Trade, 0, len(rows))
	for _, row := range rows {
		t, err := decodeTrade(row)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}
