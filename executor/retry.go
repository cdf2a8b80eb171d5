package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/metrics"
	"github.com/tungnguyentu/trade/types"
)

// RetryPolicy bounds how often and how fast a failed order is resubmitted.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func PolicyFrom(cfg config.ExecutionConfig) RetryPolicy {
	return RetryPolicy{Attempts: cfg.Attempts, Backoff: cfg.Backoff, MaxBackoff: cfg.MaxBackoff}
}

type retrying struct {
	Port
	policy RetryPolicy
	log    logger.Logger
}

// WithRetry resubmits orders that fail with an ExecutionFailure, doubling
// the delay between attempts. Other errors are returned at once.
func WithRetry(p Port, policy RetryPolicy, log logger.Logger) Port {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &retrying{Port: p, policy: policy, log: log}
}

func (r *retrying) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	delay := r.policy.Backoff
	for attempt := 1; ; attempt++ {
		res, err := r.Port.Place(ctx, o)
		if err == nil {
			return res, nil
		}
		f, ok := AsFailure(err)
		if !ok {
			return res, err
		}
		metrics.ExecutionFailures.WithLabelValues(string(f.Status)).Inc()
		if attempt >= r.policy.Attempts {
			return res, err
		}
		if f.Status == types.Timeout {
			// the resubmit reuses the client order ID; the stale one must go first
			if cerr := r.Port.Cancel(ctx, o.Symbol, o.ID); cerr != nil {
				res, rerr := r.resolve(ctx, o, err, cerr)
				if lf, ok := AsFailure(rerr); !ok || lf.Status != types.Rejected {
					return res, rerr
				}
			}
		}
		r.log.Warn("order_retry",
			logger.String("order_id", o.ID),
			logger.String("symbol", o.Symbol),
			logger.Int("attempt", attempt),
			logger.String("status", string(f.Status)),
			logger.String("reason", f.Reason),
			logger.Duration("delay", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return timedOut(o, "cancelled while waiting to retry", ctx.Err())
		case <-t.C:
		}
		delay *= 2
		if r.policy.MaxBackoff > 0 && delay > r.policy.MaxBackoff {
			delay = r.policy.MaxBackoff
		}
	}
}

// resolve settles a timed-out order that could not be cancelled, which may
// mean it already filled. A resubmit would then be refused as a duplicate,
// so the order is looked up instead. Only an order the exchange reports as
// dead is retried; anything unknown comes back as a timeout carrying the
// cancel error.
func (r *retrying) resolve(ctx context.Context, o types.Order, placeErr, cancelErr error) (types.OrderResult, error) {
	r.log.Warn("order_cancel_failed", logger.String("order_id", o.ID), logger.String("symbol", o.Symbol), logger.Err(cancelErr))
	unknown := func(lookupErr error) (types.OrderResult, error) {
		return timedOut(o, "outcome unknown after failed cancel", multierr.Combine(placeErr, cancelErr, lookupErr))
	}
	lk, ok := r.Port.(Resolver)
	if !ok {
		return unknown(nil)
	}
	res, err := lk.Lookup(ctx, o.Symbol, o.ID)
	if err == nil {
		r.log.Info("order_resolved",
			logger.String("order_id", o.ID),
			logger.String("symbol", o.Symbol),
			logger.Float64("fill_price", res.FillPrice),
			logger.Float64("qty", res.FilledQty),
		)
		return res, nil
	}
	if f, ok := AsFailure(err); ok && f.Status == types.Rejected {
		return res, err
	}
	return unknown(err)
}

type bounded struct {
	Port
	timeout time.Duration
}

// WithTimeout bounds every call. A Place that runs past the deadline
// resolves to a timeout failure instead of hanging.
func WithTimeout(p Port, d time.Duration) Port {
	return &bounded{Port: p, timeout: d}
}

func (b *bounded) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	res, err := b.Port.Place(cctx, o)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		if _, ok := AsFailure(err); !ok {
			return timedOut(o, "no confirmation within "+b.timeout.String(), err)
		}
	}
	return res, err
}

func (b *bounded) Cancel(ctx context.Context, symbol, orderID string) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Port.Cancel(cctx, symbol, orderID)
}

func (b *bounded) Lookup(ctx context.Context, symbol, orderID string) (types.OrderResult, error) {
	lk, ok := b.Port.(Resolver)
	if !ok {
		return types.OrderResult{}, ErrNoLookup
	}
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return lk.Lookup(cctx, symbol, orderID)
}

func (b *bounded) AdjustLeverage(ctx context.Context, symbol string, leverage int) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Port.AdjustLeverage(cctx, symbol, leverage)
}
