package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a trading order.
// All monetary values are decimal to respect pair precision config.
type Order struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	UserID         int64           `gorm:"index" json:"user_id"`
	Symbol         string          `gorm:"index" json:"symbol"`
	Type           string          `json:"type"`  // "LIMIT", "MARKET"
	Side           string          `json:"side"`  // "BUY", "SELL"
	Price          decimal.Decimal `json:"price"` // Limit price. For market orders, the resolved reference price.
	Amount         decimal.Decimal `json:"amount"`
	FilledAmount   decimal.Decimal `json:"filled_amount"`
	UnfilledAmount decimal.Decimal `json:"unfilled_amount"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Status         string          `gorm:"index" json:"status"`
	Leverage       int             `json:"leverage"`
	MarginMode     string          `json:"margin_mode"` // "CROSS", "ISOLATED"; empty for spot
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	Role           string          `json:"role"`             // "MAKER" or "TAKER", assigned on first fill
	Seq            uint64          `gorm:"index" json:"seq"` // Monotonic admission sequence, breaks time ties in the book
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderStatusPending         = "PENDING"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"

	RoleMaker = "MAKER"
	RoleTaker = "TAKER"

	AccountSpot   = "SPOT"
	AccountMargin = "MARGIN"
)

// IsOpen checks if the order is still active on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// ApplyFill moves amount from unfilled to filled and advances the status.
// filled + unfilled == amount must hold before and after.
func (o *Order) ApplyFill(amount decimal.Decimal, at time.Time) {
	o.FilledAmount = o.FilledAmount.Add(amount)
	o.UnfilledAmount = o.UnfilledAmount.Sub(amount)
	o.UpdatedAt = at
	if o.UnfilledAmount.LessThanOrEqual(decimal.Zero) {
		o.Status = OrderStatusFilled
		t := at
		o.FilledAt = &t
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}

// Reservation returns the funds frozen against the unfilled remainder:
// quote (unfilled * price) for buys, base (unfilled) for sells.
func (o *Order) Reservation() decimal.Decimal {
	if o.Side == SideBuy {
		return o.UnfilledAmount.Mul(o.Price)
	}
	return o.UnfilledAmount
}
