package engine

import (
	"math/rand"
	"testing"
	"time"

	"griddca/internal/grid"
	"griddca/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Random walks with occasional external cancels must never leave two live
// orders on one rung or an order the cycle does not know about.
func TestEngine_NoDuplicateRungs(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2026} {
		rng := rand.New(rand.NewSource(seed))
		f := newFixture(t, target("0.3"))
		price := d("2650")
		now := base
		for step := 0; step < 300; step++ {
			price = price.Add(decimal.NewFromFloat(float64(rng.Intn(41)-20) / 100))
			f.price(price.String())
			if c := f.eng.Cycle(); c != nil && rng.Intn(10) == 0 {
				for _, o := range c.SortedActive() {
					_ = f.paper.CancelOrder(f.ctx, o.BrokerOrderID)
					break
				}
			}
			now = now.Add(time.Minute)
			f.tick(now)
			checkBook(t, f, seed, step)
		}
	}
}

func checkBook(t *testing.T, f *fixture, seed int64, step int) {
	t.Helper()
	book := f.book()
	c := f.eng.Cycle()
	if c == nil {
		require.Empty(t, book.PendingOrders, "seed %d step %d: orders without a cycle", seed, step)
		return
	}
	known := make(map[string]grid.RungKey, len(c.Active))
	for key, o := range c.Active {
		require.Equal(t, key, o.Key(), "seed %d step %d", seed, step)
		known[o.BrokerOrderID] = key
	}
	type slot struct {
		side  types.Side
		price string
	}
	seen := make(map[slot]bool)
	for _, po := range book.PendingOrders {
		_, ok := known[po.ID]
		require.True(t, ok, "seed %d step %d: untracked order %s", seed, step, po.ID)
		s := slot{po.Side, po.Price.String()}
		require.False(t, seen[s], "seed %d step %d: duplicate %s at %s", seed, step, po.Side, po.Price)
		seen[s] = true
	}
	require.Len(t, book.PendingOrders, len(c.Active), "seed %d step %d", seed, step)
	for _, fill := range c.OpenFills() {
		_, dup := c.Active[fill.Order.Key()]
		require.False(t, dup, "seed %d step %d: rung %s both open and pending", seed, step, fill.Order.Key())
	}
}
