package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution between a buy and a sell order.
// Immutable once created.
type Fill struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"index" json:"symbol"`
	BuyOrderID  string          `gorm:"index" json:"buy_order_id"`
	SellOrderID string          `gorm:"index" json:"sell_order_id"`
	BuyerID     int64           `gorm:"index" json:"buyer_id"`
	SellerID    int64           `gorm:"index" json:"seller_id"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	TotalValue  decimal.Decimal `json:"total_value"`
	BuyerFee    decimal.Decimal `json:"buyer_fee"`
	SellerFee   decimal.Decimal `json:"seller_fee"`
	BuyerRole   string          `json:"buyer_role"`
	SellerRole  string          `json:"seller_role"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}
