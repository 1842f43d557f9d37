package infra

import (
	"testing"
)

func TestMetrics_RecordOrder(t *testing.T) {
	m := &Metrics{}

	m.RecordOrder(1000)
	m.RecordOrder(2000)
	m.RecordOrder(3000)

	snap := m.Snapshot()

	if snap.OrdersCreated != 3 {
		t.Errorf("Expected 3 orders, got %d", snap.OrdersCreated)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Rejections(t *testing.T) {
	m := &Metrics{}

	m.RecordRejection(true)
	m.RecordRejection(false)

	snap := m.Snapshot()
	if snap.OrdersRejected != 2 {
		t.Errorf("Expected 2 rejections, got %d", snap.OrdersRejected)
	}
	if snap.RiskRejections != 1 {
		t.Errorf("Expected 1 risk rejection, got %d", snap.RiskRejections)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}
	m.RecordOrder(500)
	m.RecordFill()
	m.RecordCancel()
	m.RecordError()

	m.Reset()

	snap := m.Snapshot()
	if snap.OrdersCreated != 0 || snap.FillsExecuted != 0 || snap.OrdersCancelled != 0 || snap.ErrorsTotal != 0 {
		t.Error("Expected all counters zero after reset")
	}
}
