package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func now() time.Time {
	return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
}
