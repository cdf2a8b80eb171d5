package testutils

import (
	"sync"

	"github.com/tungnguyentu/trade/notify"
)

// MockNotifier records every event it receives.
type MockNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (m *MockNotifier) Notify(e notify.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MockNotifier) Events() []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds counts events per kind.
func (m *MockNotifier) Kinds() map[notify.Kind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[notify.Kind]int{}
	for _, e := range m.events {
		out[e.Kind]++
	}
	return out
}
