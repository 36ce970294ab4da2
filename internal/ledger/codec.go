// internal/ledger/codec.go
package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/models"
)

// Денежные поля хранятся как TEXT; каждое чтение проверяет разбор.

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "corrupt decimal in %s: %q", field, raw)
	}
	return d, nil
}

func parseNullDecimal(field string, raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(field, *raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// decoder collects the first parse error so row conversion reads linearly.
type decoder struct {
	err error
}

func (d *decoder) dec(field, raw string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := parseDecimal(field, raw)
	d.err = err
	return v
}

func (d *decoder) null(field string, raw *string) decimal.NullDecimal {
	if d.err != nil {
		return decimal.NullDecimal{}
	}
	v, err := parseNullDecimal(field, raw)
	d.err = err
	return v
}

func decodeBalance(row models.VirtualBalance) (decimal.Decimal, error) {
	return parseDecimal("virtual_balance.balance_sol", row.BalanceSOL)
}

func decodeTrade(row models.SimulatedTrade) (Trade, error) {
	var d decoder
	t := Trade{
		ID:           row.ID,
		TokenMint:    row.TokenMint,
		TokenName:    row.TokenName,
		AmountSOL:    d.dec("amount_sol", row.AmountSOL),
		AmountToken:  d.dec("amount_token", row.AmountToken),
		BuyPrice:     d.dec("buy_price", row.BuyPrice),
		BuyFee:       d.dec("buy_fees", row.BuyFees),
		BuySlippage:  d.dec("buy_slippage", row.BuySlippage),
		TimeBuy:      fromMillis(row.TimeBuy),
		SellPrice:    d.null("sell_price", row.SellPrice),
		SellFee:      d.null("sell_fees", row.SellFees),
		SellSlippage: d.null("sell_slippage", row.SellSlippage),
		PnL:          d.null("pnl", row.PnL),
		Market: MarketSnapshot{
			MarketCap:    d.dec("market_cap", row.MarketCap),
			VolumeM5:     d.dec("volume_m5", row.VolumeM5),
			LiquidityUSD: d.dec("liquidity_buy_usd", row.LiquidityBuyUSD),
		},
		LiquiditySellUSD: d.null("liquidity_sell_usd", row.LiquiditySellUSD),
	}
	if row.TimeSell != nil {
		ts := fromMillis(*row.TimeSell)
		t.TimeSell = &ts
	}
	if d.err != nil {
		return Trade{}, errors.Wrapf(d.err, "trade %d", row.ID)
	}
	return t, nil
}

func decodePosition(row models.TokenTracking) (Position, error) {
	var d decoder
	p := Position{
		TokenMint:    row.TokenMint,
		TokenName:    row.TokenName,
		Amount:       d.dec("amount", row.Amount),
		BuyPrice:     d.dec("buy_price", row.BuyPrice),
		CurrentPrice: d.dec("current_price", row.CurrentPrice),
		LastUpdated:  fromMillis(row.LastUpdated),
		StopLoss:     d.dec("stop_loss", row.StopLoss),
		TakeProfit:   d.dec("take_profit", row.TakeProfit),
		PositionSize: d.dec("position_size_sol", row.PositionSizeSOL),
		Market: MarketSnapshot{
			MarketCap:    d.dec("market_cap", row.MarketCap),
			VolumeM5:     d.dec("volume_m5", row.VolumeM5),
			LiquidityUSD: d.dec("liquidity_usd", row.LiquidityUSD),
		},
	}
	if d.err != nil {
		return Position{}, errors.Wrapf(d.err, "position %s", row.TokenMint)
	}
	return p, nil
}

func encodeBuy(o BuyOrder) models.SimulatedTrade {
	return models.SimulatedTrade{
		TokenName:       o.TokenName,
		TokenMint:       o.TokenMint,
		AmountSOL:       o.AmountSOL.String(),
		AmountToken:     o.AmountToken.String(),
		BuyPrice:        o.Price.String(),
		BuyFees:         o.Fee.String(),
		BuySlippage:     o.Slippage.String(),
		TimeBuy:         toMillis(o.Timestamp),
		MarketCap:       o.Market.MarketCap.String(),
		VolumeM5:        o.Market.VolumeM5.String(),
		LiquidityBuyUSD: o.Market.LiquidityUSD.String(),
	}
}
