package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/tungnguyentu/trade/types"
)

// Port is the only way decision code touches an exchange. Place returns a
// nil error only when the order filled; every other outcome is an
// *ExecutionFailure carrying a rejected or timeout status.
type Port interface {
	Place(ctx context.Context, o types.Order) (types.OrderResult, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	AdjustLeverage(ctx context.Context, symbol string, leverage int) error
}

// Resolver is implemented by ports that can look an order up by its client
// order ID. Lookup follows Place's contract: a nil error means the order
// filled, a rejected failure means it is dead on the exchange, and a timeout
// failure means it is still open or the exchange could not say.
type Resolver interface {
	Lookup(ctx context.Context, symbol, orderID string) (types.OrderResult, error)
}

// ErrNoLookup is returned by wrappers whose inner port is not a Resolver.
var ErrNoLookup = errors.New("port cannot look orders up")

// ExecutionFailure is an order that did not fill.
type ExecutionFailure struct {
	OrderID string
	Status  types.OrderStatus
	Reason  string
	Err     error
}

func (e *ExecutionFailure) Error() string {
	msg := fmt.Sprintf("order %s %s: %s", e.OrderID, e.Status, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Result is the OrderResult view of the failure.
func (e *ExecutionFailure) Result() types.OrderResult {
	return types.OrderResult{OrderID: e.OrderID, Status: e.Status, Reason: e.Reason}
}

func rejected(o types.Order, reason string, err error) (types.OrderResult, error) {
	f := &ExecutionFailure{OrderID: o.ID, Status: types.Rejected, Reason: reason, Err: err}
	return f.Result(), f
}

func timedOut(o types.Order, reason string, err error) (types.OrderResult, error) {
	f := &ExecutionFailure{OrderID: o.ID, Status: types.Timeout, Reason: reason, Err: err}
	return f.Result(), f
}

// AsFailure extracts the ExecutionFailure from err.
func AsFailure(err error) (*ExecutionFailure, bool) {
	var f *ExecutionFailure
	ok := errors.As(err, &f)
	return f, ok
}

func validLeverage(leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("leverage %d must be between 1 and 125", leverage)
	}
	return nil
}
