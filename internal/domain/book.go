package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated row of the depth view.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"` // Sum of unfilled amount resting at this price
}

// BookSnapshot is the aggregated price->quantity view of one symbol's book.
// Derived for display; the authoritative state is the live heaps + index.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // Descending
	Asks      []PriceLevel `json:"asks"` // Ascending
	Timestamp time.Time    `json:"timestamp"`
}

// Ticker is the rolling 24h market summary for one symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	UpdatedAt time.Time       `json:"updated_at"`
}
