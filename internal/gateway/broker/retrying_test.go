package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"griddca/internal/pkg/circuit"
	"griddca/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *MockBroker) ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	args := m.Called(ctx, positionID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockBroker) Snapshot(ctx context.Context, since time.Time) (types.AccountSnapshot, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(types.AccountSnapshot), args.Error(1)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrying_TransientThenSuccess(t *testing.T) {
	inner := new(MockBroker)
	inner.On("CancelOrder", mock.Anything, "o1").Return(Transient("cancel", errors.New("timeout"))).Once()
	inner.On("CancelOrder", mock.Anything, "o1").Return(nil).Once()

	r := NewRetrying(inner, RetryPolicy{Attempts: 3}, nil).WithSleep(noSleep)
	require.NoError(t, r.CancelOrder(context.Background(), "o1"))
	inner.AssertNumberOfCalls(t, "CancelOrder", 2)
}

func TestRetrying_RejectedIsNotRetried(t *testing.T) {
	inner := new(MockBroker)
	inner.On("PlaceOrder", mock.Anything, mock.Anything).Return("", Rejectedf("place", "invalid price"))

	r := NewRetrying(inner, RetryPolicy{Attempts: 5}, nil).WithSleep(noSleep)
	_, err := r.PlaceOrder(context.Background(), types.OrderRequest{Side: types.Buy})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	inner.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestRetrying_PlaceFindsAcceptedOrder(t *testing.T) {
	req := types.OrderRequest{Side: types.Buy, Price: decimal.RequireFromString("2650.8"), Volume: decimal.RequireFromString("0.1"), Comment: "grid buy#0"}
	book := types.AccountSnapshot{PendingOrders: []types.PendingOrder{
		{ID: "o7", Side: types.Buy, Price: decimal.RequireFromString("2650.80"), Comment: "grid buy#0"},
	}}

	t.Run("lost reply returns the existing order", func(t *testing.T) {
		inner := new(MockBroker)
		inner.On("PlaceOrder", mock.Anything, req).Return("", Transient("place", errors.New("timeout"))).Once()
		inner.On("Snapshot", mock.Anything, mock.Anything).Return(book, nil).Once()

		r := NewRetrying(inner, RetryPolicy{Attempts: 3}, nil).WithSleep(noSleep)
		id, err := r.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "o7", id)
		inner.AssertNumberOfCalls(t, "PlaceOrder", 1)
	})

	t.Run("different comment is placed again", func(t *testing.T) {
		other := req
		other.Comment = "grid buy#1"
		inner := new(MockBroker)
		inner.On("PlaceOrder", mock.Anything, other).Return("", Transient("place", errors.New("timeout"))).Once()
		inner.On("PlaceOrder", mock.Anything, other).Return("o8", nil).Once()
		inner.On("Snapshot", mock.Anything, mock.Anything).Return(book, nil).Once()

		r := NewRetrying(inner, RetryPolicy{Attempts: 3}, nil).WithSleep(noSleep)
		id, err := r.PlaceOrder(context.Background(), other)
		require.NoError(t, err)
		assert.Equal(t, "o8", id)
		inner.AssertNumberOfCalls(t, "PlaceOrder", 2)
	})

	t.Run("failed lookup falls back to placing", func(t *testing.T) {
		inner := new(MockBroker)
		inner.On("PlaceOrder", mock.Anything, req).Return("", Transient("place", errors.New("timeout"))).Once()
		inner.On("PlaceOrder", mock.Anything, req).Return("o9", nil).Once()
		inner.On("Snapshot", mock.Anything, mock.Anything).Return(types.AccountSnapshot{}, errors.New("down")).Once()

		r := NewRetrying(inner, RetryPolicy{Attempts: 3}, nil).WithSleep(noSleep)
		id, err := r.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "o9", id)
	})

	t.Run("no comment skips the lookup", func(t *testing.T) {
		bare := req
		bare.Comment = ""
		inner := new(MockBroker)
		inner.On("PlaceOrder", mock.Anything, bare).Return("", Transient("place", errors.New("timeout"))).Once()
		inner.On("PlaceOrder", mock.Anything, bare).Return("o10", nil).Once()

		r := NewRetrying(inner, RetryPolicy{Attempts: 3}, nil).WithSleep(noSleep)
		id, err := r.PlaceOrder(context.Background(), bare)
		require.NoError(t, err)
		assert.Equal(t, "o10", id)
		inner.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
	})
}

func TestRetrying_Exhaustion(t *testing.T) {
	inner := new(MockBroker)
	inner.On("ClosePosition", mock.Anything, "p1").Return(decimal.Zero, Transient("close", errors.New("conn reset")))

	var slept []time.Duration
	r := NewRetrying(inner, RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}, nil).
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		})
	_, err := r.ClosePosition(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
	inner.AssertNumberOfCalls(t, "ClosePosition", 3)
}

func TestRetrying_BreakerOpens(t *testing.T) {
	inner := new(MockBroker)
	inner.On("Snapshot", mock.Anything, mock.Anything).Return(types.AccountSnapshot{}, Transient("snapshot", errors.New("down")))

	cb := circuit.New("broker", 2, time.Hour)
	r := NewRetrying(inner, RetryPolicy{Attempts: 5}, cb).WithSleep(noSleep)
	_, err := r.Snapshot(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	inner.AssertNumberOfCalls(t, "Snapshot", 2)
	assert.Equal(t, circuit.StateOpen, cb.State())
}

func TestErrors_Kinds(t *testing.T) {
	base := errors.New("x")
	assert.True(t, IsTransient(Transient("op", base)))
	assert.False(t, IsRejected(Transient("op", base)))
	assert.True(t, IsRejected(Rejected("op", base)))
	assert.True(t, IsNotFound(NotFoundf("op", "gone")))
	assert.ErrorIs(t, Transient("op", base), base)
	_, ok := KindOf(base)
	assert.False(t, ok)
}
