package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

// OrderBook holds the live resting orders for one symbol: a bid max-heap, an
// ask min-heap, and an id index for O(1) lookup/cancel.
//
// The book's mutex keeps individual operations consistent under concurrent
// reads; serializing whole match/cancel sequences per symbol is the engine's
// job.
type OrderBook struct {
	Symbol string

	mu     sync.RWMutex
	bids   *Queue
	asks   *Queue
	orders map[string]*domain.Order
}

// NewOrderBook creates an empty book for a symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   NewBidQueue(),
		asks:   NewAskQueue(),
		orders: make(map[string]*domain.Order),
	}
}

// AddOrder rests an order on its side of the book.
// Only open orders with unfilled amount are accepted.
func (ob *OrderBook) AddOrder(order *domain.Order) bool {
	if !order.IsOpen() || order.UnfilledAmount.LessThanOrEqual(decimal.Zero) {
		return false
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, exists := ob.orders[order.ID]; exists {
		return false
	}
	if order.Side == domain.SideBuy {
		ob.bids.Push(order)
	} else {
		ob.asks.Push(order)
	}
	ob.orders[order.ID] = order
	return true
}

// RemoveOrder deletes an order from the heap and index.
// Returns whether it was found.
func (ob *OrderBook) RemoveOrder(orderID string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, exists := ob.orders[orderID]
	if !exists {
		return false
	}
	if order.Side == domain.SideBuy {
		ob.bids.Remove(orderID)
	} else {
		ob.asks.Remove(orderID)
	}
	delete(ob.orders, orderID)
	return true
}

// UpdateOrder applies a fill delta to a resting order and removes it from the
// book once nothing is left unfilled.
func (ob *OrderBook) UpdateOrder(orderID string, filledDelta decimal.Decimal, at time.Time) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, exists := ob.orders[orderID]
	if !exists {
		return false
	}
	order.ApplyFill(filledDelta, at)
	if order.UnfilledAmount.LessThanOrEqual(decimal.Zero) {
		if order.Side == domain.SideBuy {
			ob.bids.Remove(orderID)
		} else {
			ob.asks.Remove(orderID)
		}
		delete(ob.orders, orderID)
	}
	return true
}

// GetOrder looks up a resting order by id.
func (ob *OrderBook) GetOrder(orderID string) (*domain.Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	order, exists := ob.orders[orderID]
	return order, exists
}

// GetBestBid returns the highest-priced resting buy, nil if none.
func (ob *OrderBook) GetBestBid() *domain.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.Peek()
}

// GetBestAsk returns the lowest-priced resting sell, nil if none.
func (ob *OrderBook) GetBestAsk() *domain.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks.Peek()
}

// PopBestBid removes and returns the highest-priced resting buy.
func (ob *OrderBook) PopBestBid() *domain.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	order := ob.bids.Pop()
	if order != nil {
		delete(ob.orders, order.ID)
	}
	return order
}

// PopBestAsk removes and returns the lowest-priced resting sell.
func (ob *OrderBook) PopBestAsk() *domain.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	order := ob.asks.Pop()
	if order != nil {
		delete(ob.orders, order.ID)
	}
	return order
}

// Len returns (bid count, ask count).
func (ob *OrderBook) Len() (int, int) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.Len(), ob.asks.Len()
}

// GetDepth aggregates resting orders into up to `levels` price levels per
// side, bids descending and asks ascending. Oversamples levels*2 raw orders
// per side, so extreme concentration at one price can truncate deeper levels.
func (ob *OrderBook) GetDepth(levels int) (bids, asks []domain.PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return aggregate(ob.bids.ToArray(), levels), aggregate(ob.asks.ToArray(), levels)
}

func aggregate(orders []*domain.Order, levels int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, levels)
	sample := levels * 2
	for i, o := range orders {
		if i >= sample {
			break
		}
		if n := len(out); n > 0 && out[n-1].Price.Equal(o.Price) {
			out[n-1].Amount = out[n-1].Amount.Add(o.UnfilledAmount)
			continue
		}
		if len(out) == levels {
			break
		}
		out = append(out, domain.PriceLevel{Price: o.Price, Amount: o.UnfilledAmount})
	}
	return out
}

// GetSnapshot wraps the depth view with a capture timestamp.
func (ob *OrderBook) GetSnapshot(levels int) *domain.BookSnapshot {
	bids, asks := ob.GetDepth(levels)
	return &domain.BookSnapshot{
		Symbol:    ob.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}
}

// GetMidPrice returns (bestBid+bestAsk)/2; ok=false if either side is empty.
func (ob *OrderBook) GetMidPrice() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bid, ask := ob.bids.Peek(), ob.asks.Peek()
	if bid == nil || ask == nil {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// GetSpread returns bestAsk-bestBid; ok=false if either side is empty.
func (ob *OrderBook) GetSpread() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bid, ask := ob.bids.Peek(), ob.asks.Peek()
	if bid == nil || ask == nil {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Clear drops all resting orders.
func (ob *OrderBook) Clear() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids = NewBidQueue()
	ob.asks = NewAskQueue()
	ob.orders = make(map[string]*domain.Order)
}
