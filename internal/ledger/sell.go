// internal/ledger/sell.go
package ledger

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
)

// RecordSell closes the oldest open trade for the token in one transaction:
// the trade gets its sell fields and pnl, the balance is credited with the
// sell return and the position is removed once no open trade is left.
func (l *Ledger) RecordSell(ctx context.Context, order SellOrder) bool {
	order.Timestamp = l.timestamp(order.Timestamp)
	logger := l.logger.With(
		zap.String("token_mint", order.TokenMint),
		zap.String("amount_sol", order.AmountSOL.String()),
		zap.String("price", order.Price.String()))

	if err := validateSell(order); err != nil {
		logger.Warn("Sell rejected", zap.Error(err))
		l.metrics.RecordTrade("sell", "rejected")
		return false
	}

	var (
		closed      Trade
		ret, pnl    decimal.Decimal
		old, newBal decimal.Decimal
	)

	err := l.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row models.SimulatedTrade
		err := tx.Where("token_mint = ? AND time_sell IS NULL", order.TokenMint).
			Order("time_buy ASC, id ASC").
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoOpenTrade
		}
		if err != nil {
			return errors.Wrap(err, "failed to find open trade")
		}

		closed, err = decodeTrade(row)
		if err != nil {
			return err
		}

		ret = sellReturn(order.AmountSOL, order.Fee, order.Slippage)
		pnl = ret.Sub(closed.BuyCost())

		res := tx.Model(&models.SimulatedTrade{}).
			Where("id = ? AND time_sell IS NULL", row.ID).
			Updates(map[string]interface{}{
				"sell_price":         order.Price.String(),
				"sell_fees":          order.Fee.String(),
				"sell_slippage":      order.Slippage.String(),
				"time_sell":          toMillis(order.Timestamp),
				"pnl":                pnl.String(),
				"liquidity_sell_usd": order.Market.LiquidityUSD.String(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to close trade")
		}
		if res.RowsAffected != 1 {
			return errors.Errorf("trade %d was closed concurrently", row.ID)
		}

		old, newBal, err = l.appendBalance(tx, ret, order.Timestamp)
		if err != nil {
			return err
		}

		return l.reducePosition(tx, closed)
	})
	if err != nil {
		if errors.Is(err, ErrNoOpenTrade) {
			// без исходной покупки PnL не посчитать
			logger.Error("Sell has no matching buy", zap.Error(err))
		} else {
			logger.Error("Failed to record sell", zap.Error(err))
		}
		l.metrics.RecordTrade("sell", outcome(err))
		return false
	}

	logger.Info("Sell recorded",
		zap.Uint("trade_id", closed.ID),
		zap.String("pnl", pnl.String()),
		zap.String("balance_sol", newBal.String()))
	l.metrics.RecordTrade("sell", "committed")
	l.metrics.SetBalance(newBal)

	l.publish(events.TradeClosedEvent{
		BaseEvent:  events.NewBase(events.TradeClosed, order.Timestamp),
		TradeID:    closed.ID,
		TokenMint:  order.TokenMint,
		SellPrice:  order.Price,
		SellReturn: ret,
		PnL:        pnl,
	})
	l.publish(events.BalanceChangedEvent{
		BaseEvent:  events.NewBase(events.BalanceChanged, order.Timestamp),
		OldBalance: old,
		NewBalance: newBal,
		Reason:     "sell",
	})
	return true
}

// reducePosition drops the closed trade from the position; the row is
// deleted when the token has no open trade left.
func (l *Ledger) reducePosition(tx *gorm.DB, closed Trade) error {
	var open int64
	if err := tx.Model(&models.SimulatedTrade{}).
		Where("token_mint = ? AND time_sell IS NULL", closed.TokenMint).
		Count(&open).Error; err != nil {
		return errors.Wrap(err, "failed to count open trades")
	}

	if open == 0 {
		err := tx.Where("token_mint = ?", closed.TokenMint).Delete(&models.TokenTracking{}).Error
		return errors.Wrap(err, "failed to delete position")
	}

	var row models.TokenTracking
	if err := tx.Where("token_mint = ?", closed.TokenMint).Take(&row).Error; err != nil {
		return errors.Wrap(err, "failed to read position")
	}
	pos, err := decodePosition(row)
	if err != nil {
		return err
	}

	amount := decimal.Max(pos.Amount.Sub(closed.AmountToken), decimal.Zero)
	size := decimal.Max(pos.PositionSize.Sub(closed.AmountSOL), decimal.Zero)
	err = tx.Model(&models.TokenTracking{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"amount":            amount.String(),
		"position_size_sol": size.String(),
	}).Error
	return errors.Wrap(err, "failed to reduce position")
}

func validateSell(order SellOrder) error {
	switch {
	case order.TokenMint == "":
		return errors.Wrap(ErrInvalidOrder, "token mint is empty")
	case !order.AmountSOL.IsPositive():
		return errors.Wrap(ErrInvalidOrder, "amount_sol must be positive")
	case !order.Price.IsPositive():
		return errors.Wrap(ErrInvalidOrder, "price must be positive")
	case order.Fee.IsNegative():
		return errors.Wrap(ErrInvalidOrder, "fee must not be negative")
	case order.Slippage.IsNegative() || order.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return errors.Wrap(ErrInvalidOrder, "slippage must be in [0, 1)")
	}
	return nil
}
