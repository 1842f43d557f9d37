package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair is the per-symbol trading configuration.
type TradingPair struct {
	Symbol          string          `gorm:"primaryKey" json:"symbol"` // e.g. "BTC/POINT"
	BaseCurrency    string          `json:"base_currency"`
	QuoteCurrency   string          `json:"quote_currency"`
	MinOrderAmount  decimal.Decimal `json:"min_order_amount"`
	MaxOrderAmount  decimal.Decimal `json:"max_order_amount"`
	PricePrecision  int32           `json:"price_precision"`
	AmountPrecision int32           `json:"amount_precision"`
	MakerFeeRate    decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate    decimal.Decimal `json:"taker_fee_rate"`
	Enabled         bool            `gorm:"index" json:"enabled"`
	MaxLeverage     int             `json:"max_leverage"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FeeRate returns the fee rate for a fill role.
func (p *TradingPair) FeeRate(role string) decimal.Decimal {
	if role == RoleMaker {
		return p.MakerFeeRate
	}
	return p.TakerFeeRate
}
