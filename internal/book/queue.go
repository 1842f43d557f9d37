package book

import (
	"container/heap"
	"sort"

	"exchange_go/internal/domain"
)

// Queue is a binary heap of resting orders keyed by price.
// Bids use a max-heap (best = highest price), asks a min-heap.
// Price ties break by creation time then admission sequence, so the root is
// always the earliest order at the best price and matching stays strictly
// price-time ordered.
type Queue struct {
	h *orderHeap
}

// NewBidQueue returns a max-heap queue (highest price first).
func NewBidQueue() *Queue {
	return &Queue{h: &orderHeap{desc: true}}
}

// NewAskQueue returns a min-heap queue (lowest price first).
func NewAskQueue() *Queue {
	return &Queue{h: &orderHeap{desc: false}}
}

// Push inserts an order. O(log n).
func (q *Queue) Push(order *domain.Order) {
	heap.Push(q.h, order)
}

// Pop removes and returns the best-priced order, nil if empty. O(log n).
func (q *Queue) Pop() *domain.Order {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(q.h).(*domain.Order)
}

// Peek returns the best-priced order without removing it, nil if empty. O(1).
func (q *Queue) Peek() *domain.Order {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h.items[0]
}

// Remove deletes an order by id. Linear scan to locate, then sift. O(n).
func (q *Queue) Remove(orderID string) bool {
	for i, o := range q.h.items {
		if o.ID == orderID {
			heap.Remove(q.h, i)
			return true
		}
	}
	return false
}

// Len returns the number of resting orders.
func (q *Queue) Len() int {
	return q.h.Len()
}

// ToArray materializes the queue sorted by priority (price, then creation
// time). Display/depth use only; never called during matching.
func (q *Queue) ToArray() []*domain.Order {
	out := make([]*domain.Order, len(q.h.items))
	copy(out, q.h.items)
	sort.Slice(out, func(i, j int) bool {
		return q.h.before(out[i], out[j])
	})
	return out
}

// orderHeap implements heap.Interface over resting orders.
type orderHeap struct {
	items []*domain.Order
	desc  bool // true for bids (max-heap)
}

func (h *orderHeap) before(a, b *domain.Order) bool {
	if !a.Price.Equal(b.Price) {
		if h.desc {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (h *orderHeap) Len() int           { return len(h.items) }
func (h *orderHeap) Less(i, j int) bool { return h.before(h.items[i], h.items[j]) }
func (h *orderHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *orderHeap) Push(x any) {
	h.items = append(h.items, x.(*domain.Order))
}

func (h *orderHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
