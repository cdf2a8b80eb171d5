package types

import (
	"fmt"
	"time"
)

// DataIntegrityError reports an out-of-order or duplicate bar. It is fatal
// for the (symbol, timeframe) stream it was raised on.
type DataIntegrityError struct {
	Symbol    string
	Timeframe Timeframe
	Prev      time.Time
	Got       time.Time
}

func (e *DataIntegrityError) Error() string {
	kind := "out-of-order"
	if e.Got.Equal(e.Prev) {
		kind = "duplicate"
	}
	return fmt.Sprintf("data integrity: %s bar for %s/%s: open_time %s after %s",
		kind, e.Symbol, e.Timeframe, e.Got.UTC().Format(time.RFC3339), e.Prev.UTC().Format(time.RFC3339))
}

// CheckOrder returns a DataIntegrityError when next does not strictly follow prev.
// A zero prev accepts any bar.
func CheckOrder(prev time.Time, next Bar) error {
	if prev.IsZero() || next.OpenTime.After(prev) {
		return nil
	}
	return &DataIntegrityError{Symbol: next.Symbol, Timeframe: next.Timeframe, Prev: prev, Got: next.OpenTime}
}
