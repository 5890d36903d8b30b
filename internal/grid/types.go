// Package grid holds the cycle state and the pure algorithms that act on it:
// ladder construction, fill reconciliation and pattern gating.
package grid

import (
	"fmt"
	"sort"
	"time"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
)

// RungKey identifies one ladder slot.
type RungKey struct {
	Index int
	Side  types.Side
}

func (k RungKey) String() string {
	return fmt.Sprintf("%s@%d", k.Side, k.Index)
}

// LadderOrder is a stop order the engine owns until it fills or disappears.
type LadderOrder struct {
	Index          int             `json:"index"`
	Side           types.Side      `json:"side"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	Volume         decimal.Decimal `json:"volume"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`
	PlacedAt       time.Time       `json:"placed_at"`
}

func (o LadderOrder) Key() RungKey { return RungKey{Index: o.Index, Side: o.Side} }

// FilledOrder records a ladder order that turned into a position. The fill
// fields never change; the close fields are written once.
type FilledOrder struct {
	Order            LadderOrder     `json:"order"`
	FillPrice        decimal.Decimal `json:"fill_price"`
	FillTime         time.Time       `json:"fill_time"`
	BrokerPositionID string          `json:"broker_position_id"`

	Closed   bool            `json:"closed"`
	ClosePnL decimal.Decimal `json:"close_pnl"`
	ClosedAt time.Time       `json:"closed_at"`
}

// ConsecutiveRun is the same-side prefix of the most recent fills.
type ConsecutiveRun struct {
	Side   types.Side
	Length int
}

// CycleState lives from grid initialisation until the target-profit reset.
type CycleState struct {
	ID           string
	Anchor       decimal.Decimal
	StartBalance decimal.Decimal
	StartTime    time.Time
	TradeAmount  decimal.Decimal
	TargetProfit decimal.Decimal
	// Center moves with fills so the window follows price.
	Center int

	Active map[RungKey]*LadderOrder
	Filled []*FilledOrder

	ClosedPnL   decimal.Decimal
	MaxDrawdown decimal.Decimal
}

func NewCycle(id string, anchor, startBalance decimal.Decimal, start time.Time, amount, target decimal.Decimal) *CycleState {
	return &CycleState{
		ID:           id,
		Anchor:       anchor,
		StartBalance: startBalance,
		StartTime:    start,
		TradeAmount:  amount,
		TargetProfit: target,
		Active:       make(map[RungKey]*LadderOrder),
		ClosedPnL:    decimal.Zero,
		MaxDrawdown:  decimal.Zero,
	}
}

// OpenFills returns fills whose position has not closed yet.
func (c *CycleState) OpenFills() []*FilledOrder {
	out := make([]*FilledOrder, 0, len(c.Filled))
	for _, f := range c.Filled {
		if !f.Closed {
			out = append(out, f)
		}
	}
	return out
}

// Occupied is the set of rungs that must not be rebuilt: pending orders and
// fills whose position is still open.
func (c *CycleState) Occupied() map[RungKey]bool {
	out := make(map[RungKey]bool, len(c.Active)+len(c.Filled))
	for k := range c.Active {
		out[k] = true
	}
	for _, f := range c.Filled {
		if !f.Closed {
			out[f.Order.Key()] = true
		}
	}
	return out
}

// IsActive reports pending ladder orders or open positions. A cycle holding
// only cancelled orders is not active.
func (c *CycleState) IsActive() bool {
	return len(c.Active) > 0 || len(c.OpenFills()) > 0
}

// Bound returns position IDs already attached to a fill.
func (c *CycleState) Bound() map[string]bool {
	out := make(map[string]bool, len(c.Filled))
	for _, f := range c.Filled {
		if f.BrokerPositionID != "" {
			out[f.BrokerPositionID] = true
		}
	}
	return out
}

// SortedActive lists pending orders buys first, each side nearest the anchor first.
func (c *CycleState) SortedActive() []*LadderOrder {
	out := make([]*LadderOrder, 0, len(c.Active))
	for _, o := range c.Active {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

// TrackDrawdown keeps the worst start-balance-minus-equity seen this cycle.
func (c *CycleState) TrackDrawdown(equity decimal.Decimal) bool {
	dd := c.StartBalance.Sub(equity)
	if dd.GreaterThan(c.MaxDrawdown) {
		c.MaxDrawdown = dd
		return true
	}
	return false
}

// Apply folds a reconcile result into the cycle.
func (c *CycleState) Apply(res ReconcileResult) {
	c.Active = res.Active
	for _, ev := range res.Events {
		switch ev.Kind {
		case EventFill:
			c.Filled = append(c.Filled, ev.Fill)
		case EventClose:
			ev.Fill.Closed = true
			ev.Fill.ClosePnL = ev.PnL
			ev.Fill.ClosedAt = ev.At
			c.ClosedPnL = c.ClosedPnL.Add(ev.PnL)
		}
	}
}

func lessKey(a, b RungKey) bool {
	if a.Side != b.Side {
		return a.Side < b.Side
	}
	ai, bi := a.Index, b.Index
	if ai < 0 {
		ai = -ai
	}
	if bi < 0 {
		bi = -bi
	}
	return ai < bi
}
