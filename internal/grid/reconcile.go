package grid

import (
	"sort"
	"time"

	"griddca/internal/logger"
	"griddca/internal/types"

	"github.com/shopspring/decimal"
)

type EventKind int

const (
	EventFill EventKind = iota + 1
	EventCancel
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventFill:
		return "fill"
	case EventCancel:
		return "cancel"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one state change observed during reconciliation.
type Event struct {
	Kind  EventKind
	Order LadderOrder
	// Fill is set for fill and close events.
	Fill *FilledOrder
	PnL  decimal.Decimal
	At   time.Time
	Note string
}

// ReconcileResult carries the ordered events and the refreshed pending set.
type ReconcileResult struct {
	Events []Event
	Active map[RungKey]*LadderOrder
}

func (r ReconcileResult) Fills() []Event   { return r.filter(EventFill) }
func (r ReconcileResult) Closes() []Event  { return r.filter(EventClose) }
func (r ReconcileResult) Cancels() []Event { return r.filter(EventCancel) }

func (r ReconcileResult) filter(kind EventKind) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reconciler diffs the broker snapshot against the cycle's known orders.
type Reconciler struct {
	tolerance decimal.Decimal
}

func NewReconciler(tolerance decimal.Decimal) *Reconciler {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return &Reconciler{tolerance: tolerance}
}

type candidate struct {
	id        string
	price     decimal.Decimal
	openTime  time.Time
	closed    bool
	pnl       decimal.Decimal
	closeTime time.Time
}

// Reconcile does not mutate the cycle; callers fold the result with Apply.
// Events come out as fills oldest first, then cancels, then closes.
// Orders are matched to positions by side and price, never by order ID reuse,
// so a new pending order at a recycled price cannot be mistaken for a stale fill.
func (r *Reconciler) Reconcile(cycle *CycleState, snap types.AccountSnapshot) ReconcileResult {
	present := make(map[string]bool, len(snap.PendingOrders))
	for _, po := range snap.PendingOrders {
		present[po.ID] = true
	}
	active := make(map[RungKey]*LadderOrder, len(cycle.Active))
	var disappeared []*LadderOrder
	for key, o := range cycle.Active {
		if present[o.BrokerOrderID] {
			active[key] = o
			continue
		}
		disappeared = append(disappeared, o)
	}
	sort.Slice(disappeared, func(i, j int) bool { return lessKey(disappeared[i].Key(), disappeared[j].Key()) })

	pool := r.candidates(snap)
	bound := cycle.Bound()
	res := ReconcileResult{Active: active}
	var (
		newFills []*FilledOrder
		cancels  []Event
	)
	for _, o := range disappeared {
		c, ok := r.match(pool, bound, *o)
		if !ok {
			logger.Warnf("reconcile: order %s %s at %s vanished without a matching position, treating as cancelled",
				o.BrokerOrderID, o.Key(), o.RequestedPrice)
			cancels = append(cancels, Event{
				Kind:  EventCancel,
				Order: *o,
				At:    snap.Time,
				Note:  "no matching position",
			})
			continue
		}
		bound[c.id] = true
		newFills = append(newFills, &FilledOrder{
			Order:            *o,
			FillPrice:        c.price,
			FillTime:         c.openTime,
			BrokerPositionID: c.id,
		})
	}
	// 同一 tick 内的多笔成交按成交时间排列，形态判断与窗口中心依赖这个顺序
	sort.SliceStable(newFills, func(i, j int) bool {
		a, b := newFills[i], newFills[j]
		if !a.FillTime.Equal(b.FillTime) {
			return a.FillTime.Before(b.FillTime)
		}
		return lessKey(a.Order.Key(), b.Order.Key())
	})
	for _, f := range newFills {
		res.Events = append(res.Events, Event{Kind: EventFill, Order: f.Order, Fill: f, At: snap.Time})
	}
	res.Events = append(res.Events, cancels...)

	open := make(map[string]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		open[p.ID] = true
	}
	tracked := append(cycle.OpenFills(), newFills...)
	for _, f := range tracked {
		if open[f.BrokerPositionID] {
			continue
		}
		ev := Event{Kind: EventClose, Order: f.Order, Fill: f, PnL: decimal.Zero, At: snap.Time}
		if cp, ok := snap.ClosedByID(f.BrokerPositionID); ok {
			ev.PnL = cp.Profit
			if !cp.CloseTime.IsZero() {
				ev.At = cp.CloseTime
			}
		} else {
			logger.Warnf("reconcile: position %s (%s) closed but missing from history, booking zero pnl",
				f.BrokerPositionID, f.Order.Key())
			ev.Note = "close without history"
		}
		res.Events = append(res.Events, ev)
	}
	return res
}

func (r *Reconciler) candidates(snap types.AccountSnapshot) map[types.Side][]candidate {
	pool := make(map[types.Side][]candidate, 2)
	for _, p := range snap.Positions {
		pool[p.Side] = append(pool[p.Side], candidate{id: p.ID, price: p.OpenPrice, openTime: p.OpenTime})
	}
	for _, p := range snap.ClosedPositions {
		pool[p.Side] = append(pool[p.Side], candidate{
			id: p.ID, price: p.OpenPrice, openTime: p.OpenTime,
			closed: true, pnl: p.Profit, closeTime: p.CloseTime,
		})
	}
	return pool
}

// match picks the unbound same-side position closest to the requested price.
func (r *Reconciler) match(pool map[types.Side][]candidate, bound map[string]bool, o LadderOrder) (candidate, bool) {
	var (
		best     candidate
		bestDiff decimal.Decimal
		found    bool
	)
	for _, c := range pool[o.Side] {
		if bound[c.id] {
			continue
		}
		diff := c.price.Sub(o.RequestedPrice).Abs()
		if diff.GreaterThan(r.tolerance) {
			continue
		}
		if !found || diff.LessThan(bestDiff) || (diff.Equal(bestDiff) && c.openTime.Before(best.openTime)) {
			best, bestDiff, found = c, diff, true
		}
	}
	return best, found
}
