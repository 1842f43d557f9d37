package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange_go/internal/domain"
)

// Manager is the symbol -> OrderBook registry. Books are created lazily;
// get-or-create is atomic so concurrent first access cannot produce two books
// for the same symbol.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{books: make(map[string]*OrderBook)}
}

// GetOrderBook returns the book for a symbol, creating it on first access.
func (m *Manager) GetOrderBook(symbol string) *OrderBook {
	m.mu.RLock()
	ob, exists := m.books[symbol]
	m.mu.RUnlock()
	if exists {
		return ob
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another goroutine may have created it between locks.
	if ob, exists = m.books[symbol]; exists {
		return ob
	}
	ob = NewOrderBook(symbol)
	m.books[symbol] = ob
	return ob
}

// AddOrder rests an order on its symbol's book, creating the book if needed.
func (m *Manager) AddOrder(order *domain.Order) bool {
	return m.GetOrderBook(order.Symbol).AddOrder(order)
}

// UpdateOrder applies a fill delta to a resting order on a symbol's book.
func (m *Manager) UpdateOrder(symbol, orderID string, filledDelta decimal.Decimal, at time.Time) bool {
	m.mu.RLock()
	ob, exists := m.books[symbol]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return ob.UpdateOrder(orderID, filledDelta, at)
}

// Symbols lists all symbols with a live book.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	return out
}

// RemoveOrder removes an order from a symbol's book if that book exists.
func (m *Manager) RemoveOrder(symbol, orderID string) bool {
	m.mu.RLock()
	ob, exists := m.books[symbol]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return ob.RemoveOrder(orderID)
}

// Clear empties one symbol's book. Used for resets and tests.
func (m *Manager) Clear(symbol string) {
	m.mu.RLock()
	ob, exists := m.books[symbol]
	m.mu.RUnlock()
	if exists {
		ob.Clear()
	}
}

// ClearAll drops every book.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = make(map[string]*OrderBook)
}
