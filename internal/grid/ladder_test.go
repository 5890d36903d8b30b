package grid

import (
	"testing"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fibs(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func testBuilder() *Builder {
	return NewBuilder(LadderConfig{
		DeltaEnterPrice:    d("0.8"),
		PercentScale:       d("12"),
		TakeProfitDistance: d("2"),
		VolumeStep:         d("0.01"),
		PriceDigits:        3,
		Fibonacci:          fibs(1, 1, 2, 2, 3, 3, 5, 5, 8, 8, 13, 13, 13, 13, 13),
		Radius:             2,
	})
}

func TestBuilder_Geometry(t *testing.T) {
	b := testBuilder()
	anchor := d("2650.00")

	assert.Equal(t, "2650.896", b.Price(anchor, 1, types.Buy).String())
	assert.Equal(t, "2651.004", b.Price(anchor, 2, types.Buy).String())
	assert.Equal(t, "2650.8", b.Price(anchor, 0, types.Buy).String())
	assert.Equal(t, "2649.2", b.Price(anchor, 0, types.Sell).String())
	assert.Equal(t, "2649.104", b.Price(anchor, -1, types.Sell).String())

	t.Run("spacing is geometric", func(t *testing.T) {
		gap1 := b.Offset(2).Sub(b.Offset(1))
		gap2 := b.Offset(3).Sub(b.Offset(2))
		assert.True(t, gap2.GreaterThan(gap1))
	})
}

func TestBuilder_Volume(t *testing.T) {
	b := testBuilder()
	amt := d("0.1")
	assert.Equal(t, "0.1", b.Volume(amt, 0).String())
	assert.Equal(t, "0.2", b.Volume(amt, -2).String())
	assert.Equal(t, "0.5", b.Volume(amt, 6).String())
	assert.Equal(t, "1.3", b.Volume(amt, 40).String(), "index beyond table uses last level")
	assert.Equal(t, "0.01", b.Volume(d("0.015"), 1).String(), "floored to step")

	_, ok := b.Rung(d("2650"), d("0.001"), RungKey{Index: 0, Side: types.Buy})
	assert.False(t, ok)
}

func TestBuilder_TakeProfit(t *testing.T) {
	b := testBuilder()
	o, ok := b.Rung(d("2650"), d("0.1"), RungKey{Index: 1, Side: types.Buy})
	require.True(t, ok)
	assert.Equal(t, "2652.896", o.TakeProfit.String())

	o, ok = b.Rung(d("2650"), d("0.1"), RungKey{Index: -1, Side: types.Sell})
	require.True(t, ok)
	assert.Equal(t, "2647.104", o.TakeProfit.String())
}

func TestBuilder_Window(t *testing.T) {
	b := testBuilder()

	t.Run("default window", func(t *testing.T) {
		keys := b.Window(0)
		assert.ElementsMatch(t, []RungKey{
			{0, types.Buy}, {1, types.Buy}, {2, types.Buy},
			{0, types.Sell}, {-1, types.Sell}, {-2, types.Sell},
		}, keys)
	})

	t.Run("shifted up", func(t *testing.T) {
		keys := b.Window(2)
		assert.ElementsMatch(t, []RungKey{
			{2, types.Buy}, {3, types.Buy}, {4, types.Buy},
			{0, types.Sell}, {-1, types.Sell}, {-2, types.Sell},
		}, keys)
	})

	t.Run("next center", func(t *testing.T) {
		assert.Equal(t, 2, NextCenter(RungKey{Index: 1, Side: types.Buy}))
		assert.Equal(t, -1, NextCenter(RungKey{Index: 0, Side: types.Sell}))
	})
}

func TestBuilder_Build(t *testing.T) {
	b := testBuilder()
	req := BuildRequest{Anchor: d("2650"), Amount: d("0.1")}

	t.Run("full window", func(t *testing.T) {
		orders := b.Build(req)
		require.Len(t, orders, 6)
		assert.Equal(t, RungKey{0, types.Buy}, orders[0].Key())
		assert.Equal(t, RungKey{0, types.Sell}, orders[3].Key())
	})

	t.Run("skips occupied", func(t *testing.T) {
		r := req
		r.Occupied = map[RungKey]bool{{1, types.Buy}: true, {0, types.Sell}: true}
		orders := b.Build(r)
		assert.Len(t, orders, 4)
		for _, o := range orders {
			assert.False(t, r.Occupied[o.Key()])
		}
	})

	t.Run("honours suppression", func(t *testing.T) {
		r := req
		r.Suppressed = map[RungKey]bool{{0, types.Sell}: true}
		for _, o := range b.Build(r) {
			assert.NotEqual(t, RungKey{0, types.Sell}, o.Key())
		}
	})
}
