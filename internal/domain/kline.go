package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLCV bar aggregated from fills over a fixed interval.
type Kline struct {
	ID       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol   string          `gorm:"uniqueIndex:idx_kline_key" json:"symbol"`
	Interval string          `gorm:"uniqueIndex:idx_kline_key" json:"interval"` // "1m", "5m", "1h", "1d"
	OpenTime time.Time       `gorm:"uniqueIndex:idx_kline_key" json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Turnover decimal.Decimal `json:"turnover"`
}
