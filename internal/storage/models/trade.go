// internal/storage/models/trade.go
package models

// SimulatedTrade is opened by a buy and closed once by the matching sell.
// Sell columns stay NULL while the trade is open.
type SimulatedTrade struct {
	ID               uint    `gorm:"primaryKey;autoIncrement"`
	TokenName        string  `gorm:"column:token_name;type:text;not null"`
	TokenMint        string  `gorm:"column:token_mint;type:text;not null;index"`
	AmountSOL        string  `gorm:"column:amount_sol;type:text;not null"`
	AmountToken      string  `gorm:"column:amount_token;type:text;not null"`
	BuyPrice         string  `gorm:"column:buy_price;type:text;not null"`
	BuyFees          string  `gorm:"column:buy_fees;type:text;not null"`
	BuySlippage      string  `gorm:"column:buy_slippage;type:text;not null"`
	SellPrice        *string `gorm:"column:sell_price;type:text"`
	SellFees         *string `gorm:"column:sell_fees;type:text"`
	SellSlippage     *string `gorm:"column:sell_slippage;type:text"`
	TimeBuy          int64   `gorm:"column:time_buy;type:integer;not null;index"`
	TimeSell         *int64  `gorm:"column:time_sell;type:integer"`
	PnL              *string `gorm:"column:pnl;type:text"`
	MarketCap        string  `gorm:"column:market_cap;type:text"`
	VolumeM5         string  `gorm:"column:volume_m5;type:text"`
	LiquidityBuyUSD  string  `gorm:"column:liquidity_buy_usd;type:text"`
	LiquiditySellUSD *string `gorm:"column:liquidity_sell_usd;type:text"`
}

func (SimulatedTrade) TableName() string {
	return "simulated_trades"
}
