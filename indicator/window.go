package indicator

import "math"

// window keeps a rolling buffer of recent values and exposes the rolling
// statistics the indicators are built from.
type window struct {
	max int
	buf []float64
}

func newWindow(max int) *window {
	if max <= 0 {
		max = 16
	}
	return &window{max: max}
}

func (w *window) Add(v float64) {
	w.buf = append(w.buf, v)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
}

func (w *window) Len() int {
	return len(w.buf)
}

func (w *window) Full() bool {
	return len(w.buf) == w.max
}

func (w *window) Last() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.buf[len(w.buf)-1]
}

// First is the oldest value still in the window.
func (w *window) First() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.buf[0]
}

func (w *window) Mean() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.buf {
		sum += v
	}
	return sum / float64(len(w.buf))
}

// StdDev is the population standard deviation.
func (w *window) StdDev() float64 {
	n := len(w.buf)
	if n == 0 {
		return 0
	}
	mean := w.Mean()
	sq := 0.0
	for _, v := range w.buf {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

// Max and Min look at the most recent n values (all when n exceeds Len).
func (w *window) Max(n int) float64 {
	seg := w.tail(n)
	if len(seg) == 0 {
		return 0
	}
	m := seg[0]
	for _, v := range seg[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *window) Min(n int) float64 {
	seg := w.tail(n)
	if len(seg) == 0 {
		return 0
	}
	m := seg[0]
	for _, v := range seg[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (w *window) tail(n int) []float64 {
	if n <= 0 || n >= len(w.buf) {
		return w.buf
	}
	return w.buf[len(w.buf)-n:]
}
