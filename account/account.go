// Package account owns equity, peak equity and the open positions. One
// mutex serialises every equity change and the drawdown derived from it.
package account

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tungnguyentu/trade/position"
)

// ErrPositionOpen is returned by Open when the symbol already holds a
// non-closed position.
var ErrPositionOpen = errors.New("account: position already open")

type State struct {
	mu        sync.Mutex
	initial   float64
	equity    float64
	peak      float64
	positions map[string]*position.Position
}

func New(initial float64) *State {
	return &State{
		initial:   initial,
		equity:    initial,
		peak:      initial,
		positions: make(map[string]*position.Position),
	}
}

func (s *State) Initial() float64 { return s.initial }

func (s *State) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equity
}

func (s *State) Peak() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Drawdown is (peak - equity) / peak, never negative.
func (s *State) Drawdown() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawdown()
}

func (s *State) drawdown() float64 {
	if s.peak <= 0 || s.equity >= s.peak {
		return 0
	}
	return (s.peak - s.equity) / s.peak
}

// ApplyPnL books realised profit or loss. Peak only ratchets upward.
func (s *State) ApplyPnL(pnl float64) (equity, drawdown float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity += pnl
	if s.equity > s.peak {
		s.peak = s.equity
	}
	return s.equity, s.drawdown()
}

// Open registers p as the symbol's position.
func (s *State) Open(p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.positions[p.Symbol()]; ok && cur.Active() {
		return fmt.Errorf("%w: %s (%s)", ErrPositionOpen, p.Symbol(), cur.ID())
	}
	s.positions[p.Symbol()] = p
	return nil
}

// Position returns the symbol's non-closed position.
func (s *State) Position(symbol string) (*position.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok || !p.Active() {
		return nil, false
	}
	return p, true
}

func (s *State) HasPosition(symbol string) bool {
	_, ok := s.Position(symbol)
	return ok
}

// Remove drops the symbol's position, closed or not.
func (s *State) Remove(symbol string) {
	s.mu.Lock()
	delete(s.positions, symbol)
	s.mu.Unlock()
}

// Positions lists non-closed positions ordered by symbol.
func (s *State) Positions() []*position.Position {
	s.mu.Lock()
	out := make([]*position.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Active() {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

// Unrealized sums mark-to-market PnL of open positions; symbols missing from
// marks contribute nothing.
func (s *State) Unrealized(marks map[string]float64) float64 {
	var total float64
	for _, p := range s.Positions() {
		if m, ok := marks[p.Symbol()]; ok {
			total += p.UnrealizedPnL(m)
		}
	}
	return total
}

// Summary is a consistent read of the account for reporting.
type Summary struct {
	Equity    float64         `json:"equity"`
	Peak      float64         `json:"peak"`
	Drawdown  float64         `json:"drawdown"`
	Positions []position.View `json:"positions"`
}

func (s *State) Snapshot() Summary {
	s.mu.Lock()
	sum := Summary{Equity: s.equity, Peak: s.peak, Drawdown: s.drawdown()}
	s.mu.Unlock()
	for _, p := range s.Positions() {
		sum.Positions = append(sum.Positions, p.View())
	}
	return sum
}
