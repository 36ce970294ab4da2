// internal/storage/models/tracking.go
package models

// TokenTracking is the open-position index, one row per token mint.
type TokenTracking struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	TokenMint       string `gorm:"column:token_mint;type:text;not null;uniqueIndex"`
	TokenName       string `gorm:"column:token_name;type:text;not null"`
	Amount          string `gorm:"column:amount;type:text;not null"`
	BuyPrice        string `gorm:"column:buy_price;type:text;not null"`
	CurrentPrice    string `gorm:"column:current_price;type:text;not null"`
	LastUpdated     int64  `gorm:"column:last_updated;type:integer;not null"`
	StopLoss        string `gorm:"column:stop_loss;type:text;not null"`
	TakeProfit      string `gorm:"column:take_profit;type:text;not null"`
	PositionSizeSOL string `gorm:"column:position_size_sol;type:text;not null"`
	VolumeM5        string `gorm:"column:volume_m5;type:text"`
	MarketCap       string `gorm:"column:market_cap;type:text"`
	LiquidityUSD    string `gorm:"column:liquidity_usd;type:text"`
}

func (TokenTracking) TableName() string {
	return "token_tracking"
}
