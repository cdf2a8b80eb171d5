package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/tungnguyentu/trade/executor"
	"github.com/tungnguyentu/trade/types"
)

// MockPort implements executor.Port in-memory. Orders fill at
// their reference price unless failures were queued with FailNext.
type MockPort struct {
	mu       sync.RWMutex
	orders   []types.Order // captured for assertions
	cancels  []string
	leverage map[string]int
	failures []types.OrderStatus
	calls    int
	// FillPrice, when set, overrides the fill price of entries.
	FillPrice func(o types.Order) float64
}

func NewMockPort() *MockPort {
	return &MockPort{leverage: make(map[string]int)}
}

// FailNext makes the next n Place calls fail with status.
func (m *MockPort) FailNext(n int, status types.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = m.failures[:0]
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, status)
	}
}

func (m *MockPort) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) > 0 {
		status := m.failures[0]
		m.failures = m.failures[1:]
		f := &executor.ExecutionFailure{OrderID: o.ID, Status: status, Reason: "mock failure"}
		return f.Result(), f
	}
	price := o.Price
	if m.FillPrice != nil && !o.ReduceOnly {
		price = m.FillPrice(o)
	}
	at := o.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	m.orders = append(m.orders, o)
	return types.OrderResult{
		OrderID:   o.ID,
		Status:    types.Filled,
		FillPrice: price,
		FilledQty: o.Qty,
		FilledAt:  at,
	}, nil
}

func (m *MockPort) Cancel(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	m.cancels = append(m.cancels, orderID)
	m.mu.Unlock()
	return nil
}

func (m *MockPort) AdjustLeverage(_ context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	m.leverage[symbol] = leverage
	m.mu.Unlock()
	return nil
}

// Calls counts every Place call, filled or not.
func (m *MockPort) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Orders returns a copy of all filled orders (useful for assertions).
func (m *MockPort) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// Cancels returns the order IDs passed to Cancel, in call order.
func (m *MockPort) Cancels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cancels...)
}

// Leverage returns the last leverage set for symbol.
func (m *MockPort) Leverage(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leverage[symbol]
}
