package broker

import (
	"context"
	"time"

	"griddca/internal/logger"
	"griddca/internal/metrics"
	"griddca/internal/pkg/circuit"
	"griddca/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RetryPolicy bounds retries of transient failures. Backoff grows linearly.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// ErrExhausted marks a transient failure that outlived its retry budget.
var ErrExhausted = errors.New("retries exhausted")

// Retrying wraps a Broker with bounded retries and a circuit breaker.
// Retries are silent (debug) until the budget runs out.
type Retrying struct {
	inner   Broker
	policy  RetryPolicy
	breaker *circuit.Breaker
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetrying(inner Broker, policy RetryPolicy, breaker *circuit.Breaker) *Retrying {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &Retrying{inner: inner, policy: policy, breaker: breaker, sleep: sleepCtx}
}

// WithSleep swaps the backoff sleeper; tests only.
func (r *Retrying) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Retrying {
	if fn != nil {
		r.sleep = fn
	}
	return r
}

// PlaceOrder retries like the other calls, but a transient failure may hide
// an order the broker did accept. Before every retry the pending book is
// searched for an order with the same side, price and comment; a match is
// returned instead of placing a duplicate. Requests without a comment are
// retried blind.
func (r *Retrying) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	var id string
	attempt := 0
	err := r.do(ctx, "place", func() error {
		attempt++
		if attempt > 1 {
			if found, ok := r.findPlaced(ctx, req); ok {
				logger.Infof("broker place: %s %s already accepted as %s", req.Side, req.Price, found)
				id = found
				return nil
			}
		}
		var err error
		id, err = r.inner.PlaceOrder(ctx, req)
		return err
	})
	return id, err
}

func (r *Retrying) findPlaced(ctx context.Context, req types.OrderRequest) (string, bool) {
	if req.Comment == "" {
		return "", false
	}
	snap, err := r.inner.Snapshot(ctx, time.Now())
	if err != nil {
		logger.Debugf("broker place: lookup before retry failed: %v", err)
		return "", false
	}
	for _, o := range snap.PendingOrders {
		if o.Side == req.Side && o.Price.Equal(req.Price) && o.Comment == req.Comment {
			return o.ID, true
		}
	}
	return "", false
}

func (r *Retrying) CancelOrder(ctx context.Context, orderID string) error {
	return r.do(ctx, "cancel", func() error {
		return r.inner.CancelOrder(ctx, orderID)
	})
}

func (r *Retrying) ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	var pnl decimal.Decimal
	err := r.do(ctx, "close", func() error {
		var err error
		pnl, err = r.inner.ClosePosition(ctx, positionID)
		return err
	})
	return pnl, err
}

func (r *Retrying) Snapshot(ctx context.Context, since time.Time) (types.AccountSnapshot, error) {
	var snap types.AccountSnapshot
	err := r.do(ctx, "snapshot", func() error {
		var err error
		snap, err = r.inner.Snapshot(ctx, since)
		return err
	})
	return snap, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		err := r.guarded(fn)
		if err == nil {
			metrics.BrokerCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if errors.Is(err, circuit.ErrOpen) {
			metrics.BrokerCalls.WithLabelValues(op, "open").Inc()
			return Transient(op, err)
		}
		if !IsTransient(err) {
			kind, _ := KindOf(err)
			metrics.BrokerCalls.WithLabelValues(op, kind.String()).Inc()
			return err
		}
		metrics.BrokerCalls.WithLabelValues(op, "transient").Inc()
		lastErr = err
		if attempt == r.policy.Attempts {
			break
		}
		logger.Debugf("broker %s attempt %d/%d failed: %v", op, attempt, r.policy.Attempts, err)
		if err := r.sleep(ctx, r.policy.Backoff*time.Duration(attempt)); err != nil {
			return Transient(op, err)
		}
	}
	metrics.BrokerCalls.WithLabelValues(op, "exhausted").Inc()
	logger.Warnf("broker %s gave up after %d attempts: %v", op, r.policy.Attempts, lastErr)
	return Transient(op, errors.Wrap(ErrExhausted, lastErr.Error()))
}

func (r *Retrying) guarded(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Do(fn, IsTransient)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
