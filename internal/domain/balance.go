package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one user's funds in a single currency under one account class.
// Invariant: Available >= 0, Frozen >= 0; Total() == Available + Frozen.
// Borrowed is tracked separately for margin accounts and never feeds matching.
type Balance struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64           `gorm:"uniqueIndex:idx_balance_key" json:"user_id"`
	AccountType string          `gorm:"uniqueIndex:idx_balance_key" json:"account_type"` // "SPOT" or "MARGIN"
	Currency    string          `gorm:"uniqueIndex:idx_balance_key" json:"currency"`
	Available   decimal.Decimal `json:"available"`
	Frozen      decimal.Decimal `json:"frozen"`
	Borrowed    decimal.Decimal `json:"borrowed"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Total returns the spot component used by matching.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Frozen)
}
