package grid

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func cycleWith(orders ...LadderOrder) *CycleState {
	c := NewCycle("c1", d("2650"), d("10000"), t0, d("0.1"), d("100"))
	for i := range orders {
		o := orders[i]
		c.Active[o.Key()] = &o
	}
	return c
}

func order(id string, side types.Side, index int, price string) LadderOrder {
	return LadderOrder{Index: index, Side: side, RequestedPrice: d(price), Volume: d("0.1"), BrokerOrderID: id}
}

func TestReconciler_Reconcile(t *testing.T) {
	r := NewReconciler(d("0.001"))

	t.Run("still pending stays active", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"))
		res := r.Reconcile(c, types.AccountSnapshot{
			PendingOrders: []types.PendingOrder{{ID: "o1", Side: types.Buy, Price: d("2650.8")}},
		})
		assert.Empty(t, res.Events)
		assert.Len(t, res.Active, 1)
	})

	t.Run("disappeared with position is a fill", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"), order("o2", types.Sell, 0, "2649.2"))
		snap := types.AccountSnapshot{
			Time:          t0,
			PendingOrders: []types.PendingOrder{{ID: "o2", Side: types.Sell, Price: d("2649.2")}},
			Positions:     []types.Position{{ID: "p1", Side: types.Buy, OpenPrice: d("2650.8"), OpenTime: t0}},
		}
		res := r.Reconcile(c, snap)
		require.Len(t, res.Fills(), 1)
		ev := res.Fills()[0]
		assert.Equal(t, "p1", ev.Fill.BrokerPositionID)
		assert.Equal(t, RungKey{0, types.Buy}, ev.Order.Key())
		assert.Len(t, res.Active, 1)

		c.Apply(res)
		assert.Len(t, c.Filled, 1)
		assert.True(t, c.Occupied()[RungKey{0, types.Buy}])
		assert.True(t, c.IsActive())
	})

	t.Run("disappeared without position is a cancel", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"))
		res := r.Reconcile(c, types.AccountSnapshot{
			Positions: []types.Position{{ID: "p9", Side: types.Sell, OpenPrice: d("2650.8")}},
		})
		require.Len(t, res.Cancels(), 1)
		assert.Empty(t, res.Fills())
		c.Apply(res)
		assert.False(t, c.IsActive())
	})

	t.Run("price outside tolerance is not a fill", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 1, "2650.896"))
		res := r.Reconcile(c, types.AccountSnapshot{
			Positions: []types.Position{{ID: "p1", Side: types.Buy, OpenPrice: d("2650.9")}},
		})
		assert.Len(t, res.Cancels(), 1)
	})

	t.Run("position already bound is not reused", func(t *testing.T) {
		c := cycleWith(order("o2", types.Buy, 0, "2650.8"))
		c.Filled = append(c.Filled, &FilledOrder{Order: order("o1", types.Buy, 0, "2650.8"), BrokerPositionID: "p1"})
		res := r.Reconcile(c, types.AccountSnapshot{
			Positions: []types.Position{{ID: "p1", Side: types.Buy, OpenPrice: d("2650.8")}},
		})
		assert.Len(t, res.Cancels(), 1)
		assert.Empty(t, res.Fills())
	})

	t.Run("new pending order at same price is not conflated", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"))
		res := r.Reconcile(c, types.AccountSnapshot{
			PendingOrders: []types.PendingOrder{{ID: "o7", Side: types.Buy, Price: d("2650.8")}},
			Positions:     []types.Position{{ID: "p1", Side: types.Buy, OpenPrice: d("2650.8")}},
		})
		require.Len(t, res.Fills(), 1)
		assert.Empty(t, res.Active)
	})

	t.Run("fill already closed by take profit", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"))
		res := r.Reconcile(c, types.AccountSnapshot{
			Time: t0,
			ClosedPositions: []types.ClosedPosition{{
				ID: "p1", Side: types.Buy, OpenPrice: d("2650.8"), Profit: d("20"), CloseTime: t0.Add(time.Second),
			}},
		})
		require.Len(t, res.Events, 2)
		assert.Equal(t, EventFill, res.Events[0].Kind)
		assert.Equal(t, EventClose, res.Events[1].Kind)
		assert.True(t, res.Events[1].PnL.Equal(d("20")))

		c.Apply(res)
		assert.True(t, c.ClosedPnL.Equal(d("20")))
		assert.True(t, c.Filled[0].Closed)
		assert.False(t, c.Occupied()[RungKey{0, types.Buy}])
	})

	t.Run("close of earlier fill", func(t *testing.T) {
		c := cycleWith()
		c.Filled = append(c.Filled, &FilledOrder{Order: order("o1", types.Sell, 0, "2649.2"), BrokerPositionID: "p1"})
		res := r.Reconcile(c, types.AccountSnapshot{})
		require.Len(t, res.Closes(), 1)
		assert.True(t, res.Closes()[0].PnL.IsZero())
		assert.NotEmpty(t, res.Closes()[0].Note)
	})

	t.Run("same tick fills follow fill time", func(t *testing.T) {
		c := cycleWith(
			order("o1", types.Buy, 0, "2650.8"),
			order("o2", types.Buy, 1, "2650.896"),
			order("o3", types.Sell, 0, "2649.2"),
		)
		snap := types.AccountSnapshot{
			Time: t0.Add(5 * time.Second),
			Positions: []types.Position{
				{ID: "p3", Side: types.Buy, OpenPrice: d("2650.896"), OpenTime: t0.Add(3 * time.Second)},
				{ID: "p1", Side: types.Sell, OpenPrice: d("2649.2"), OpenTime: t0.Add(time.Second)},
				{ID: "p2", Side: types.Buy, OpenPrice: d("2650.8"), OpenTime: t0.Add(2 * time.Second)},
			},
		}
		res := r.Reconcile(c, snap)
		fills := res.Fills()
		require.Len(t, fills, 3)
		assert.Equal(t, RungKey{0, types.Sell}, fills[0].Order.Key())
		assert.Equal(t, RungKey{0, types.Buy}, fills[1].Order.Key())
		assert.Equal(t, RungKey{1, types.Buy}, fills[2].Order.Key())

		c.Apply(res)
		pattern := NewPatternDetector()
		for _, ev := range fills {
			pattern.Observe(*ev.Fill)
			c.Center = NextCenter(ev.Order.Key())
		}
		assert.Equal(t, []types.Side{types.Buy, types.Buy, types.Sell}, pattern.Sides())
		assert.Equal(t, ConsecutiveRun{Side: types.Buy, Length: 2}, pattern.Run())
		assert.True(t, pattern.Suppressed()[RungKey{0, types.Sell}])
		assert.Equal(t, 2, c.Center)
		assert.Equal(t, "p1", c.Filled[0].BrokerPositionID)
		assert.Equal(t, "p3", c.Filled[2].BrokerPositionID)
	})

	t.Run("fills precede cancels and closes", func(t *testing.T) {
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"), order("o2", types.Sell, 0, "2649.2"))
		c.Filled = append(c.Filled, &FilledOrder{Order: order("o0", types.Sell, -1, "2648.3"), BrokerPositionID: "p0"})
		res := r.Reconcile(c, types.AccountSnapshot{
			Positions: []types.Position{{ID: "p1", Side: types.Buy, OpenPrice: d("2650.8"), OpenTime: t0}},
		})
		require.Len(t, res.Events, 3)
		assert.Equal(t, EventFill, res.Events[0].Kind)
		assert.Equal(t, EventCancel, res.Events[1].Kind)
		assert.Equal(t, EventClose, res.Events[2].Kind)
	})

	t.Run("closest price wins", func(t *testing.T) {
		wide := NewReconciler(d("0.5"))
		c := cycleWith(order("o1", types.Buy, 0, "2650.8"))
		res := wide.Reconcile(c, types.AccountSnapshot{
			Positions: []types.Position{
				{ID: "far", Side: types.Buy, OpenPrice: d("2651.2")},
				{ID: "near", Side: types.Buy, OpenPrice: d("2650.85")},
			},
		})
		require.Len(t, res.Fills(), 1)
		assert.Equal(t, "near", res.Fills()[0].Fill.BrokerPositionID)
	})
}

// Random fill/cancel sequences never leave two live orders on one rung.
func TestReconcileBuild_NoDuplicateRungs(t *testing.T) {
	b := testBuilder()
	r := NewReconciler(d("0.001"))
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		c := NewCycle("c", d("2650"), d("10000"), t0, d("0.1"), d("100"))
		pattern := NewPatternDetector()
		var positions []types.Position
		var closed []types.ClosedPosition
		seq := 0
		for tick := 0; tick < 40; tick++ {
			var pending []types.PendingOrder
			for _, o := range c.SortedActive() {
				switch rng.Intn(5) {
				case 0:
					seq++
					positions = append(positions, types.Position{
						ID: "p" + strconv.Itoa(seq), Side: o.Side, OpenPrice: o.RequestedPrice, OpenTime: t0,
					})
				case 1:
				default:
					pending = append(pending, types.PendingOrder{ID: o.BrokerOrderID, Side: o.Side, Price: o.RequestedPrice})
				}
			}
			if len(positions) > 0 && rng.Intn(3) == 0 {
				p := positions[0]
				positions = positions[1:]
				closed = append(closed, types.ClosedPosition{ID: p.ID, Side: p.Side, OpenPrice: p.OpenPrice, Profit: decimal.NewFromInt(1)})
			}
			res := r.Reconcile(c, types.AccountSnapshot{PendingOrders: pending, Positions: positions, ClosedPositions: closed})
			c.Apply(res)
			for _, ev := range res.Fills() {
				pattern.Observe(*ev.Fill)
				c.Center = NextCenter(ev.Order.Key())
			}
			occupied := c.Occupied()
			for _, o := range b.Build(BuildRequest{Anchor: c.Anchor, Amount: c.TradeAmount, Center: c.Center, Occupied: occupied, Suppressed: pattern.Suppressed()}) {
				require.False(t, occupied[o.Key()], "duplicate rung %s", o.Key())
				seq++
				o := o
				o.BrokerOrderID = "o" + strconv.Itoa(seq)
				c.Active[o.Key()] = &o
			}
			live := map[RungKey]int{}
			for k := range c.Active {
				live[k]++
			}
			for _, f := range c.OpenFills() {
				live[f.Order.Key()]++
			}
			for k, n := range live {
				require.Equal(t, 1, n, "rung %s held %d times", k, n)
			}
		}
	}
}
