// internal/ledger/types.go
package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoOpenTrade: продажа без соответствующей покупки, PnL посчитать нельзя
	ErrNoOpenTrade = errors.New("no open trade for token")
	// ErrNoPosition: позиция по токену не найдена
	ErrNoPosition = errors.New("no open position for token")
	// ErrInsufficientBalance: покупка увела бы баланс в минус
	ErrInsufficientBalance = errors.New("insufficient virtual balance")
	// ErrNoBalance: таблица баланса пуста, нужен Bootstrap
	ErrNoBalance = errors.New("virtual balance is not initialized")
	// ErrInvalidOrder: ордер не прошёл проверку полей
	ErrInvalidOrder = errors.New("invalid order")
)

// MarketSnapshot is the market context recorded alongside a trade.
type MarketSnapshot struct {
	MarketCap    decimal.Decimal `json:"market_cap"`
	VolumeM5     decimal.Decimal `json:"volume_m5"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
}

// BuyOrder describes an executed simulated buy.
type BuyOrder struct {
	TokenMint   string
	TokenName   string
	AmountSOL   decimal.Decimal
	AmountToken decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	Slippage    decimal.Decimal // доля, 0.01 = 1%
	Timestamp   time.Time
	Market      MarketSnapshot
}

// SellOrder describes an executed simulated sell. AmountSOL is the gross SOL
// proceeds before fee and slippage.
type SellOrder struct {
	TokenMint string
	AmountSOL decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Slippage  decimal.Decimal
	Timestamp time.Time
	Market    MarketSnapshot
}

// Trade is one row of trade history. Sell fields are invalid while the trade
// is open.
type Trade struct {
	ID               uint                `json:"id"`
	TokenMint        string              `json:"token_mint"`
	TokenName        string              `json:"token_name"`
	AmountSOL        decimal.Decimal     `json:"amount_sol"`
	AmountToken      decimal.Decimal     `json:"amount_token"`
	BuyPrice         decimal.Decimal     `json:"buy_price"`
	BuyFee           decimal.Decimal     `json:"buy_fee"`
	BuySlippage      decimal.Decimal     `json:"buy_slippage"`
	TimeBuy          time.Time           `json:"time_buy"`
	SellPrice        decimal.NullDecimal `json:"sell_price"`
	SellFee          decimal.NullDecimal `json:"sell_fee"`
	SellSlippage     decimal.NullDecimal `json:"sell_slippage"`
	TimeSell         *time.Time          `json:"time_sell,omitempty"`
	PnL              decimal.NullDecimal `json:"pnl"`
	Market           MarketSnapshot      `json:"market"`
	LiquiditySellUSD decimal.NullDecimal `json:"liquidity_sell_usd"`
}

// Open reports whether the trade has not been sold yet.
func (t Trade) Open() bool {
	return t.TimeSell == nil
}

// BuyCost is sol + fee + sol*slippage.
func (t Trade) BuyCost() decimal.Decimal {
	return buyCost(t.AmountSOL, t.BuyFee, t.BuySlippage)
}

// Position is the open-position index entry for one token.
type Position struct {
	TokenMint    string          `json:"token_mint"`
	TokenName    string          `json:"token_name"`
	Amount       decimal.Decimal `json:"amount"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	LastUpdated  time.Time       `json:"last_updated"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	PositionSize decimal.Decimal `json:"position_size_sol"`
	Market       MarketSnapshot  `json:"market"`
}

// StopLossHit reports whether price is at or below the stop-loss level.
func (p Position) StopLossHit(price decimal.Decimal) bool {
	return price.LessThanOrEqual(p.StopLoss)
}

// TakeProfitHit reports whether price is at or above the take-profit level.
func (p Position) TakeProfitHit(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(p.TakeProfit)
}

// UnrealizedPnL values the position at CurrentPrice against BuyPrice.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.BuyPrice).Mul(p.Amount)
}

// TradeStats summarizes the trade table.
type TradeStats struct {
	Total    int             `json:"total"`
	Open     int             `json:"open"`
	Closed   int             `json:"closed"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	WinRate  float64         `json:"win_rate"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

func buyCost(sol, fee, slippage decimal.Decimal) decimal.Decimal {
	return sol.Add(fee).Add(sol.Mul(slippage))
}

func sellReturn(amount, fee, slippage decimal.Decimal) decimal.Decimal {
	return amount.Sub(fee).Sub(amount.Mul(slippage))
}
