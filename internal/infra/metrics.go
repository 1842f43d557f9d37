package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersCreated   atomic.Uint64
	ordersRejected  atomic.Uint64
	ordersCancelled atomic.Uint64
	fillsExecuted   atomic.Uint64
	riskRejections  atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking (createOrder end to end)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitsOpen      atomic.Int32
}

// RecordOrder records an accepted order with its processing latency.
func (m *Metrics) RecordOrder(latencyNs int64) {
	m.ordersCreated.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordRejection records a rejected order; risk=true for admission rejects.
func (m *Metrics) RecordRejection(risk bool) {
	m.ordersRejected.Add(1)
	if risk {
		m.riskRejections.Add(1)
	}
}

// RecordCancel records a cancelled order.
func (m *Metrics) RecordCancel() {
	m.ordersCancelled.Add(1)
}

// RecordFill records an executed fill.
func (m *Metrics) RecordFill() {
	m.fillsExecuted.Add(1)
}

// RecordError records an internal error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active push connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active push connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitsOpen sets how many symbols are currently halted.
func (m *Metrics) SetCircuitsOpen(n int32) {
	m.circuitsOpen.Store(n)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersCreated     uint64
	OrdersRejected    uint64
	OrdersCancelled   uint64
	FillsExecuted     uint64
	RiskRejections    uint64
	ErrorsTotal       uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	CircuitsOpen      int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersCreated:     m.ordersCreated.Load(),
		OrdersRejected:    m.ordersRejected.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		FillsExecuted:     m.fillsExecuted.Load(),
		RiskRejections:    m.riskRejections.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CircuitsOpen:      m.circuitsOpen.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersCreated.Store(0)
	m.ordersRejected.Store(0)
	m.ordersCancelled.Store(0)
	m.fillsExecuted.Store(0)
	m.riskRejections.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitsOpen.Store(0)
}
