// internal/ledger/buy.go
package ledger

import (
	"context"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solana-paper-trader/internal/events"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
)

// RecordBuy stores a buy as one transaction: the open trade, the debited
// balance (sol + fee) and the position entry. It returns false and leaves
// all three tables untouched on any failure.
func (l *Ledger) RecordBuy(ctx context.Context, order BuyOrder) bool {
	order.Timestamp = l.timestamp(order.Timestamp)
	logger := l.logger.With(
		zap.String("token_mint", order.TokenMint),
		zap.String("amount_sol", order.AmountSOL.String()),
		zap.String("price", order.Price.String()))

	if err := validateBuy(&order); err != nil {
		logger.Warn("Buy rejected", zap.Error(err))
		l.metrics.RecordTrade("buy", "rejected")
		return false
	}

	var (
		tradeID     uint
		old, newBal decimal.Decimal
	)
	debit := order.AmountSOL.Add(order.Fee)

	err := l.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		row := encodeBuy(order)
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "failed to insert trade")
		}
		tradeID = row.ID

		var err error
		old, newBal, err = l.appendBalance(tx, debit.Neg(), order.Timestamp)
		if err != nil {
			return err
		}

		return l.upsertPosition(tx, order)
	})
	if err != nil {
		logger.Error("Failed to record buy", zap.Error(err))
		l.metrics.RecordTrade("buy", outcome(err))
		return false
	}

	logger.Info("Buy recorded",
		zap.Uint("trade_id", tradeID),
		zap.String("balance_sol", newBal.String()))
	l.metrics.RecordTrade("buy", "committed")
	l.metrics.SetBalance(newBal)

	l.publish(events.TradeOpenedEvent{
		BaseEvent:   events.NewBase(events.TradeOpened, order.Timestamp),
		TradeID:     tradeID,
		TokenMint:   order.TokenMint,
		TokenName:   order.TokenName,
		AmountSOL:   order.AmountSOL,
		AmountToken: order.AmountToken,
		Price:       order.Price,
		Fee:         order.Fee,
	})
	l.publish(events.BalanceChangedEvent{
		BaseEvent:  events.NewBase(events.BalanceChanged, order.Timestamp),
		OldBalance: old,
		NewBalance: newBal,
		Reason:     "buy",
	})
	return true
}

// upsertPosition creates the position with stop-loss/take-profit or averages
// into the existing one. The original buy price and triggers are kept when
// averaging in.
func (l *Ledger) upsertPosition(tx *gorm.DB, order BuyOrder) error {
	var pos models.TokenTracking
	err := tx.Where("token_mint = ?", order.TokenMint).Take(&pos).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		one := decimal.NewFromInt(1)
		pos = models.TokenTracking{
			TokenMint:       order.TokenMint,
			TokenName:       order.TokenName,
			Amount:          order.AmountToken.String(),
			BuyPrice:        order.Price.String(),
			CurrentPrice:    order.Price.String(),
			LastUpdated:     toMillis(order.Timestamp),
			StopLoss:        order.Price.Mul(one.Sub(l.cfg.StopLossPct)).String(),
			TakeProfit:      order.Price.Mul(one.Add(l.cfg.TakeProfitPct)).String(),
			PositionSizeSOL: order.AmountSOL.String(),
			VolumeM5:        order.Market.VolumeM5.String(),
			MarketCap:       order.Market.MarketCap.String(),
			LiquidityUSD:    order.Market.LiquidityUSD.String(),
		}
		return errors.Wrap(tx.Create(&pos).Error, "failed to insert position")

	case err != nil:
		return errors.Wrap(err, "failed to read position")
	}

	current, err := decodePosition(pos)
	if err != nil {
		return err
	}

	res := tx.Model(&models.TokenTracking{}).Where("id = ?", pos.ID).Updates(map[string]interface{}{
		"amount":            current.Amount.Add(order.AmountToken).String(),
		"position_size_sol": current.PositionSize.Add(order.AmountSOL).String(),
		"current_price":     order.Price.String(),
		"last_updated":      toMillis(order.Timestamp),
		"volume_m5":         order.Market.VolumeM5.String(),
		"market_cap":        order.Market.MarketCap.String(),
		"liquidity_usd":     order.Market.LiquidityUSD.String(),
	})
	return errors.Wrap(res.Error, "failed to average into position")
}

func validateBuy(order *BuyOrder) error {
	order.TokenMint = strings.TrimSpace(order.TokenMint)
	if _, err := solana.PublicKeyFromBase58(order.TokenMint); err != nil {
		return errors.Wrapf(ErrInvalidOrder, "token mint %q: %v", order.TokenMint, err)
	}
	if order.TokenName == "" {
		order.TokenName = order.TokenMint
	}
	switch {
	case !order.AmountSOL.IsPositive():
		return errors.Wrap(ErrInvalidOrder, "amount_sol must be positive")
	case !order.AmountToken.IsPositive():
		return errors.Wrap(ErrInvalidOrder, "amount_token must be positive")
	case !order.Price.IsPositive():
		return errors.Wrap(ErrInvalidOrder, "price must be positive")
	case order.Fee.IsNegative():
		return errors.Wrap(ErrInvalidOrder, "fee must not be negative")
	case order.Slippage.IsNegative() || order.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return errors.Wrap(ErrInvalidOrder, "slippage must be in [0, 1)")
	}
	return nil
}
