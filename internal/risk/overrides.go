package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// QuietSetting scales ladder volume while the window is active.
type QuietSetting struct {
	Enabled bool            `json:"enabled"`
	Window  Window          `json:"window"`
	Factor  decimal.Decimal `json:"factor"`
}

func (q QuietSetting) String() string {
	state := "off"
	if q.Enabled {
		state = "on"
	}
	return fmt.Sprintf("%s (%s x%s)", state, q.Window, q.Factor.String())
}

// Limits are the configured risk thresholds. Zero values disable the
// optional guards (drawdown, spread, positions, orders, exposure).
type Limits struct {
	MaxReduceBalance decimal.Decimal
	MinFreeMargin    decimal.Decimal
	MaxDrawdown      decimal.Decimal
	MaxPositions     int
	MaxOrders        int
	MaxSpread        decimal.Decimal
	// MaxExposure caps open lots plus the lots of one ladder build.
	MaxExposure decimal.Decimal
	Blackout    WindowSetting
	Quiet       QuietSetting
	Halt        WindowSetting
}

// Overrides holds operator adjustments on top of Limits. A nil field means
// "use the configured value". Overrides outlive cycle resets.
type Overrides struct {
	TradeAmount      *decimal.Decimal `json:"trade_amount,omitempty"`
	MaxDrawdown      *decimal.Decimal `json:"max_drawdown,omitempty"`
	MaxPositions     *int             `json:"max_positions,omitempty"`
	MaxOrders        *int             `json:"max_orders,omitempty"`
	MaxSpread        *decimal.Decimal `json:"max_spread,omitempty"`
	MaxReduceBalance *decimal.Decimal `json:"max_reduce_balance,omitempty"`
	Blackout         *WindowSetting   `json:"blackout,omitempty"`
	Quiet            *QuietSetting    `json:"quiet,omitempty"`
	HaltEnabled      *bool            `json:"halt_enabled,omitempty"`

	// 以下两项为 0 时表示关闭
	MaxExposure         *decimal.Decimal `json:"max_exposure,omitempty"`
	WithdrawalThreshold *decimal.Decimal `json:"withdrawal_threshold,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (o Overrides) Clone() Overrides {
	out := Overrides{
		TradeAmount:         cloneDecimal(o.TradeAmount),
		MaxDrawdown:         cloneDecimal(o.MaxDrawdown),
		MaxSpread:           cloneDecimal(o.MaxSpread),
		MaxReduceBalance:    cloneDecimal(o.MaxReduceBalance),
		MaxExposure:         cloneDecimal(o.MaxExposure),
		WithdrawalThreshold: cloneDecimal(o.WithdrawalThreshold),
	}
	if o.MaxPositions != nil {
		v := *o.MaxPositions
		out.MaxPositions = &v
	}
	if o.MaxOrders != nil {
		v := *o.MaxOrders
		out.MaxOrders = &v
	}
	if o.Blackout != nil {
		v := *o.Blackout
		out.Blackout = &v
	}
	if o.Quiet != nil {
		v := *o.Quiet
		out.Quiet = &v
	}
	if o.HaltEnabled != nil {
		v := *o.HaltEnabled
		out.HaltEnabled = &v
	}
	return out
}

// Effective merges overrides onto the configured limits.
func (l Limits) Effective(o Overrides) Limits {
	out := l
	if o.MaxDrawdown != nil {
		out.MaxDrawdown = *o.MaxDrawdown
	}
	if o.MaxPositions != nil {
		out.MaxPositions = *o.MaxPositions
	}
	if o.MaxOrders != nil {
		out.MaxOrders = *o.MaxOrders
	}
	if o.MaxSpread != nil {
		out.MaxSpread = *o.MaxSpread
	}
	if o.MaxReduceBalance != nil {
		out.MaxReduceBalance = *o.MaxReduceBalance
	}
	if o.MaxExposure != nil {
		out.MaxExposure = *o.MaxExposure
	}
	if o.Blackout != nil {
		out.Blackout = *o.Blackout
	}
	if o.Quiet != nil {
		out.Quiet = *o.Quiet
	}
	if o.HaltEnabled != nil {
		out.Halt.Enabled = *o.HaltEnabled
	}
	return out
}

// Describe renders the effective limits for status replies.
func (l Limits) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "• Max reduce balance: %s\n", l.MaxReduceBalance.StringFixed(2))
	fmt.Fprintf(&b, "• Min free margin: %s\n", l.MinFreeMargin.StringFixed(2))
	fmt.Fprintf(&b, "• Caps: maxDD=%s maxPos=%s maxOrders=%s maxSpread=%s maxExposure=%s\n",
		optDecimal(l.MaxDrawdown), optInt(l.MaxPositions), optInt(l.MaxOrders), optDecimal(l.MaxSpread), optDecimal(l.MaxExposure))
	fmt.Fprintf(&b, "• Blackout: %s\n", l.Blackout)
	fmt.Fprintf(&b, "• Quiet hours: %s\n", l.Quiet)
	fmt.Fprintf(&b, "• Trading halt: %s", l.Halt)
	return b.String()
}

func optDecimal(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "none"
	}
	return d.String()
}

func optInt(v int) string {
	if v <= 0 {
		return "none"
	}
	return fmt.Sprintf("%d", v)
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
