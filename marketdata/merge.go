package marketdata

import (
	"context"
	"errors"
	"io"

	"github.com/tungnguyentu/trade/types"
)

type head struct {
	bar  types.Bar
	ok   bool
	done bool
}

// Merged fans several individually ordered sources into one sequence
// ordered by Less.
type Merged struct {
	srcs  []Source
	heads []head
}

func Merge(srcs ...Source) *Merged {
	return &Merged{srcs: srcs, heads: make([]head, len(srcs))}
}

func (m *Merged) Next(ctx context.Context) (types.Bar, error) {
	best := -1
	for i := range m.srcs {
		h := &m.heads[i]
		if !h.ok && !h.done {
			b, err := m.srcs[i].Next(ctx)
			switch {
			case errors.Is(err, io.EOF):
				h.done = true
			case err != nil:
				return types.Bar{}, err
			default:
				h.bar, h.ok = b, true
			}
		}
		if h.ok && (best < 0 || Less(h.bar, m.heads[best].bar)) {
			best = i
		}
	}
	if best < 0 {
		return types.Bar{}, io.EOF
	}
	m.heads[best].ok = false
	return m.heads[best].bar, nil
}

// Reset restarts every restartable input.
func (m *Merged) Reset() {
	for i, s := range m.srcs {
		if r, ok := s.(Restartable); ok {
			r.Reset()
		}
		m.heads[i] = head{}
	}
}
