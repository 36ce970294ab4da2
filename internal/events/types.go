// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// Ledger events, published after the transaction commits
	TradeOpened    EventType = "trade.opened"
	TradeClosed    EventType = "trade.closed"
	BalanceChanged EventType = "balance.changed"

	// Validator events
	PriceRejected EventType = "price.rejected"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event of type t at time at.
func NewBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventType: t, EventTime: at}
}

// TradeOpenedEvent is emitted after a buy is committed.
type TradeOpenedEvent struct {
	BaseEvent
	TradeID     uint
	TokenMint   string
	TokenName   string
	AmountSOL   decimal.Decimal
	AmountToken decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
}

// TradeClosedEvent is emitted after a sell is committed.
type TradeClosedEvent struct {
	BaseEvent
	TradeID    uint
	TokenMint  string
	SellPrice  decimal.Decimal
	SellReturn decimal.Decimal
	PnL        decimal.Decimal
}

// BalanceChangedEvent is emitted whenever a new balance row is appended.
type BalanceChangedEvent struct {
	BaseEvent
	OldBalance decimal.Decimal
	NewBalance decimal.Decimal
	Reason     string // "buy", "sell"
}

// PriceRejectedEvent is emitted when the validator refuses a price.
type PriceRejectedEvent struct {
	BaseEvent
	TokenMint  string
	Source     string
	Price      decimal.Decimal
	Suggested  decimal.NullDecimal
	Confidence float64
	Reason     string
}
