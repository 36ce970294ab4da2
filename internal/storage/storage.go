// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-paper-trader/internal/ledger"
)

// Storage определяет интерфейс, через который внешние слои работают с
// бумажным счётом. Ни один метод не пробрасывает ошибки хранилища наружу.
type Storage interface {
	// Мутации
	RecordBuy(ctx context.Context, order ledger.BuyOrder) bool
	RecordSell(ctx context.Context, order ledger.SellOrder) bool
	UpdatePositionPrice(ctx context.Context, tokenMint string, price decimal.Decimal) bool

	// Чтения
	GetBalance(ctx context.Context) *decimal.Decimal
	GetOpenPositions(ctx context.Context) []ledger.Position
	GetOpenPositionCount(ctx context.Context) int
	GetTradeHistory(ctx context.Context, limit int) []ledger.Trade
	GetTradeStats(ctx context.Context) ledger.TradeStats

	// Миграции и начальный баланс
	Bootstrap(ctx context.Context) error
}

var _ Storage = (*ledger.Ledger)(nil)
