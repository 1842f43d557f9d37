package domain

import (
	"context"
	"time"
)

// Store is the persistent collaborator behind the trading core.
// Implementations must apply each call atomically.
type Store interface {
	CreateOrder(order *Order) error
	SaveOrder(order *Order) error
	GetOrder(id string) (*Order, error)
	ListOrders(userID int64, symbol, status string, limit, offset int) ([]Order, int64, error)
	ListOpenOrders() ([]Order, error)
	CountOpenOrders(userID int64) (int64, error)

	CreateFill(fill *Fill) error
	ListUserFills(userID int64, since time.Time, limit int) ([]Fill, error)
	ListSymbolFills(symbol string, limit int) ([]Fill, error)

	GetBalance(userID int64, accountType, currency string) (*Balance, error)
	ListBalances(userID int64, accountType string) ([]Balance, error)
	SaveBalance(balance *Balance) error

	GetPair(symbol string) (*TradingPair, error)
	ListPairs() ([]TradingPair, error)
	SavePair(pair *TradingPair) error

	SaveKline(kline *Kline) error
	ListKlines(symbol, interval string, from, to time.Time, limit int) ([]Kline, error)

	// CancelStats returns (cancelled, total) order counts for a user since a time.
	CancelStats(userID int64, since time.Time) (int64, int64, error)
}

// Cache is the opportunistic fast-path collaborator. Unavailability must
// never block matching; implementations log and move on.
type Cache interface {
	SetSnapshot(ctx context.Context, snapshot *BookSnapshot, ttl time.Duration) error
	GetSnapshot(ctx context.Context, symbol string) (*BookSnapshot, error)
	PushRecentFill(ctx context.Context, fill *Fill, maxLen int64) error
	RecentFills(ctx context.Context, symbol string, limit int64) ([]Fill, error)
}

// KlineSink consumes completed fills for OHLCV aggregation.
// Must never be on the critical settlement path.
type KlineSink interface {
	OnFill(fill *Fill)
}

// Notifier broadcasts book and order events. Fire-and-forget: failures are
// logged, never surfaced to the trading caller.
type Notifier interface {
	OnDepthChanged(symbol string)
	OnTrade(fill *Fill)
	OnOrderUpdate(userID int64, order *Order)
}
