// internal/storage/models/balance.go
package models

// VirtualBalance is an append-only balance row; the newest row is current.
type VirtualBalance struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	BalanceSOL string `gorm:"column:balance_sol;type:text;not null"`
	UpdatedMs  int64  `gorm:"column:updated_at;type:integer;not null"`
}

func (VirtualBalance) TableName() string {
	return "virtual_balance"
}
