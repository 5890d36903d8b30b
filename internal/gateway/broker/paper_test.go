package broker

import (
	"context"
	"testing"
	"time"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestPaper(now *time.Time) *Paper {
	return NewPaper(PaperConfig{
		Scope:        Scope{Symbol: "XAUUSDc", Tag: 234002},
		Balance:      dd("10000"),
		Price:        dd("2650"),
		Spread:       dd("0.2"),
		ContractSize: dd("100"),
		MarginPerLot: dd("1000"),
		Now:          func() time.Time { return *now },
	})
}

func TestPaper_StopFillAndTakeProfit(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	p := newTestPaper(&now)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, types.OrderRequest{Side: types.Buy, Price: dd("2650.8"), Volume: dd("0.1"), TakeProfit: dd("2652.8"), Comment: "grid buy#0"})
	require.NoError(t, err)

	snap, err := p.Snapshot(ctx, now)
	require.NoError(t, err)
	require.Len(t, snap.PendingOrders, 1)
	assert.Equal(t, id, snap.PendingOrders[0].ID)
	assert.Equal(t, "grid buy#0", snap.PendingOrders[0].Comment)

	p.SetPrice(dd("2651"))
	snap, err = p.Snapshot(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, snap.PendingOrders)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].OpenPrice.Equal(dd("2650.8")))
	// bid 2650.9 - 2650.8 = 0.1 * 0.1 lot * 100
	assert.True(t, snap.Positions[0].Profit.Equal(dd("1")), snap.Positions[0].Profit.String())
	assert.True(t, snap.Equity.Equal(dd("10001")))
	assert.True(t, snap.FreeMargin.Equal(dd("9901")))

	now = now.Add(time.Minute)
	p.SetPrice(dd("2653"))
	snap, err = p.Snapshot(ctx, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	require.Len(t, snap.ClosedPositions, 1)
	assert.True(t, snap.ClosedPositions[0].Profit.Equal(dd("20")))
	assert.True(t, snap.Balance.Equal(dd("10020")))
}

func TestPaper_Rejections(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	p := newTestPaper(&now)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, types.OrderRequest{Side: types.Buy, Price: dd("2649"), Volume: dd("0.1")})
	assert.True(t, IsRejected(err))
	_, err = p.PlaceOrder(ctx, types.OrderRequest{Side: types.Sell, Price: dd("2651"), Volume: dd("0.1")})
	assert.True(t, IsRejected(err))
	_, err = p.PlaceOrder(ctx, types.OrderRequest{Side: types.Sell, Price: dd("2649"), Volume: decimal.Zero})
	assert.True(t, IsRejected(err))

	assert.True(t, IsNotFound(p.CancelOrder(ctx, "nope")))
	_, err = p.ClosePosition(ctx, "nope")
	assert.True(t, IsNotFound(err))
}

func TestPaper_ManualCloseAndFaults(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	p := newTestPaper(&now)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, types.OrderRequest{Side: types.Sell, Price: dd("2649.2"), Volume: dd("0.1")})
	require.NoError(t, err)
	p.SetPrice(dd("2649"))
	snap, err := p.Snapshot(ctx, now)
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)

	p.InjectFailure("close", Transient("close", assert.AnError))
	_, err = p.ClosePosition(ctx, snap.Positions[0].ID)
	assert.True(t, IsTransient(err))

	pnl, err := p.ClosePosition(ctx, snap.Positions[0].ID)
	require.NoError(t, err)
	// sold 2649.2, bought back at ask 2649.1
	assert.True(t, pnl.Equal(dd("1")), pnl.String())
}
