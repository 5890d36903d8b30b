package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Action int

const (
	Allow Action = iota
	SkipTick
	PauseImmediate
	// BlackoutContinue lets the running cycle proceed but forbids a new one.
	BlackoutContinue
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case SkipTick:
		return "skip"
	case PauseImmediate:
		return "pause"
	case BlackoutContinue:
		return "blackout-continue"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonEquity   Reason = "equity-protection"
	ReasonDrawdown Reason = "drawdown"
	ReasonMargin   Reason = "margin"
	ReasonSpread   Reason = "spread"
	ReasonCapacity Reason = "capacity"
	ReasonExposure Reason = "max-exposure"
	ReasonHalt     Reason = "trading-halt"
	ReasonBlackout Reason = "blackout"
	ReasonQuiet    Reason = "quiet-hours"
)

// Decision is the outcome of one evaluation. VolumeFactor is 1 unless quiet
// hours apply.
type Decision struct {
	Action       Action
	Reason       Reason
	Detail       string
	VolumeFactor decimal.Decimal
}

func (d Decision) String() string {
	if d.Reason == ReasonNone {
		return d.Action.String()
	}
	if d.Detail == "" {
		return fmt.Sprintf("%s: %s", d.Action, d.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", d.Action, d.Reason, d.Detail)
}

// Input is the account and cycle view a decision is computed from.
type Input struct {
	Now           time.Time
	Equity        decimal.Decimal
	FreeMargin    decimal.Decimal
	Spread        decimal.Decimal
	StartBalance  decimal.Decimal
	OpenPositions int
	PendingOrders int
	// CycleActive is true while the cycle has pending ladder orders or open positions.
	CycleActive bool
	// BlackoutWaived is set after an operator resume inside the current blackout window.
	BlackoutWaived bool
}

// Evaluator applies the guards in fixed priority; the first hit wins.
type Evaluator struct {
	limits   Limits
	location *time.Location
}

func NewEvaluator(limits Limits, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{limits: limits, location: loc}
}

func (e *Evaluator) Limits() Limits { return e.limits }

func (e *Evaluator) Location() *time.Location { return e.location }

// Local converts t into the trading timezone.
func (e *Evaluator) Local(t time.Time) time.Time { return t.In(e.location) }

// Evaluate is pure: it reads only its arguments and the configured limits.
func (e *Evaluator) Evaluate(in Input, o Overrides) Decision {
	lim := e.limits.Effective(o)
	local := in.Now.In(e.location)
	drop := in.StartBalance.Sub(in.Equity)

	if lim.MaxReduceBalance.IsPositive() && drop.GreaterThanOrEqual(lim.MaxReduceBalance) {
		return pause(ReasonEquity, fmt.Sprintf("equity %s fell %s from start %s (limit %s)",
			in.Equity.StringFixed(2), drop.StringFixed(2), in.StartBalance.StringFixed(2), lim.MaxReduceBalance.StringFixed(2)))
	}
	if lim.MaxDrawdown.IsPositive() && drop.GreaterThanOrEqual(lim.MaxDrawdown) {
		return pause(ReasonDrawdown, fmt.Sprintf("drawdown %s ≥ %s", drop.StringFixed(2), lim.MaxDrawdown.StringFixed(2)))
	}
	if in.FreeMargin.LessThan(lim.MinFreeMargin) {
		return skip(ReasonMargin, fmt.Sprintf("free margin %s < %s", in.FreeMargin.StringFixed(2), lim.MinFreeMargin.StringFixed(2)))
	}
	if lim.MaxSpread.IsPositive() && in.Spread.GreaterThan(lim.MaxSpread) {
		return skip(ReasonSpread, fmt.Sprintf("spread %s > %s", in.Spread.String(), lim.MaxSpread.String()))
	}
	if (lim.MaxPositions > 0 && in.OpenPositions >= lim.MaxPositions) ||
		(lim.MaxOrders > 0 && in.PendingOrders >= lim.MaxOrders) {
		return skip(ReasonCapacity, fmt.Sprintf("positions %d/%s orders %d/%s",
			in.OpenPositions, optInt(lim.MaxPositions), in.PendingOrders, optInt(lim.MaxOrders)))
	}
	if lim.Halt.Active(local) {
		return skip(ReasonHalt, lim.Halt.Window.String())
	}
	if lim.Blackout.Active(local) && !in.BlackoutWaived {
		if in.CycleActive {
			return Decision{Action: BlackoutContinue, Reason: ReasonBlackout, Detail: lim.Blackout.Window.String(), VolumeFactor: decimal.NewFromInt(1)}
		}
		return skip(ReasonBlackout, lim.Blackout.Window.String())
	}
	if lim.Quiet.Enabled && lim.Quiet.Window.Contains(local) && lim.Quiet.Factor.IsPositive() {
		return Decision{Action: Allow, Reason: ReasonQuiet, Detail: lim.Quiet.Window.String(), VolumeFactor: lim.Quiet.Factor}
	}
	return Decision{Action: Allow, VolumeFactor: decimal.NewFromInt(1)}
}

// CheckExposure is evaluated once the build is known: open lots plus the lots
// about to be placed must stay within the effective cap. A build placing
// nothing never trips it.
func (e *Evaluator) CheckExposure(open, planned decimal.Decimal, o Overrides) Decision {
	lim := e.limits.Effective(o)
	if !lim.MaxExposure.IsPositive() || !planned.IsPositive() {
		return Decision{Action: Allow, VolumeFactor: decimal.NewFromInt(1)}
	}
	if total := open.Add(planned); total.GreaterThan(lim.MaxExposure) {
		return skip(ReasonExposure, fmt.Sprintf("%s open + %s new = %s lots > %s",
			open.String(), planned.String(), total.String(), lim.MaxExposure.String()))
	}
	return Decision{Action: Allow, VolumeFactor: decimal.NewFromInt(1)}
}

// BlackoutActive reports whether the effective blackout covers now.
func (e *Evaluator) BlackoutActive(now time.Time, o Overrides) (bool, WindowSetting) {
	lim := e.limits.Effective(o)
	return lim.Blackout.Active(now.In(e.location)), lim.Blackout
}

func pause(r Reason, detail string) Decision {
	return Decision{Action: PauseImmediate, Reason: r, Detail: detail, VolumeFactor: decimal.NewFromInt(1)}
}

func skip(r Reason, detail string) Decision {
	return Decision{Action: SkipTick, Reason: r, Detail: detail, VolumeFactor: decimal.NewFromInt(1)}
}
