// internal/bot/refresher.go
package bot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
	"github.com/rovshanmuradov/solana-paper-trader/internal/price"
)

// PriceFeed supplies raw market prices. Implementations live outside this
// module (DEX quote APIs, log subscriptions).
type PriceFeed interface {
	Price(ctx context.Context, tokenMint string) (decimal.Decimal, string, error)
}

// Trigger reports a position whose stop-loss or take-profit level was crossed.
type Trigger struct {
	Position ledger.Position
	Price    decimal.Decimal
	Kind     string // "stop_loss" или "take_profit"
}

// Refresher keeps open positions priced: every feed price goes through the
// validator, and only accepted prices reach the ledger.
type Refresher struct {
	ledger    *ledger.Ledger
	validator *price.Validator
	feed      PriceFeed
	logger    *zap.Logger
	now       func() time.Time
}

// NewRefresher wires a feed to the ledger through the validator.
func NewRefresher(l *ledger.Ledger, v *price.Validator, feed PriceFeed, logger *zap.Logger) *Refresher {
	return &Refresher{
		ledger:    l,
		validator: v,
		feed:      feed,
		logger:    logger.Named("refresher"),
		now:       time.Now,
	}
}

// RefreshOnce prices every open position once and returns the triggers hit
// at the accepted prices. Feed errors and rejected prices skip the position.
func (r *Refresher) RefreshOnce(ctx context.Context) []Trigger {
	var triggers []Trigger

	for _, pos := range r.ledger.GetOpenPositions(ctx) {
		if ctx.Err() != nil {
			return triggers
		}

		quote, source, err := r.feed.Price(ctx, pos.TokenMint)
		if err != nil {
			r.logger.Warn("Price feed failed", zap.String("token_mint", pos.TokenMint), zap.Error(err))
			continue
		}

		res := r.validator.Observe(pos.TokenMint, quote, r.now(), source)
		if !res.Valid {
			continue
		}
		if !r.ledger.UpdatePositionPrice(ctx, pos.TokenMint, quote) {
			continue
		}

		switch {
		case pos.StopLossHit(quote):
			triggers = append(triggers, Trigger{Position: pos, Price: quote, Kind: "stop_loss"})
		case pos.TakeProfitHit(quote):
			triggers = append(triggers, Trigger{Position: pos, Price: quote, Kind: "take_profit"})
		}
	}
	return triggers
}

// Run refreshes every interval until ctx is done, handing triggers to onTrigger.
func (r *Refresher) Run(ctx context.Context, interval time.Duration, onTrigger func(Trigger)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, t := range r.RefreshOnce(ctx) {
				r.logger.Info("Position trigger hit",
					zap.String("token_mint", t.Position.TokenMint),
					zap.String("kind", t.Kind),
					zap.String("price", t.Price.String()))
				if onTrigger != nil {
					onTrigger(t)
				}
			}
		}
	}
}
