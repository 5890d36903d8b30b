// Package command turns operator text into a closed set of command values.
package command

import (
	"github.com/shopspring/decimal"

	"griddca/internal/risk"
)

// Command is implemented only by the types in this package.
type Command interface {
	Name() string
	sealed()
}

type (
	Pause  struct{}
	Resume struct{}
	// Stop pauses at the next take-profit reset.
	Stop struct{}
	// StopAt pauses at the first take-profit reset at or after At (minutes after midnight).
	StopAt    struct{ At int }
	ClearStop struct{}
	Panic     struct{ Confirm bool }
	Status    struct{}

	SetAmount       struct{ Amount decimal.Decimal }
	ClearAmount     struct{}
	SetMaxDrawdown  struct{ Value decimal.Decimal }
	SetMaxPositions struct{ Value int }
	SetMaxOrders    struct{ Value int }
	SetSpread       struct{ Value decimal.Decimal }
	SetMaxReduce    struct{ Value decimal.Decimal }
	// SetMaxExposure with a zero Value switches the cap off.
	SetMaxExposure struct{ Value decimal.Decimal }
	// SetWithdrawal with a zero Value switches the withdrawal pause off.
	SetWithdrawal      struct{ Value decimal.Decimal }
	WithdrawalComplete struct{}
	SetBlackout        struct{ Window risk.Window }
	BlackoutOff        struct{}
	SetQuiet           struct {
		Window risk.Window
		// Factor is zero when the operator kept the current factor.
		Factor decimal.Decimal
	}
	QuietToggle struct{ On bool }
	Halt        struct{ On bool }

	History  struct{ N int }
	PnL      struct{ Period Period }
	Filled   struct{}
	Pattern  struct{}
	Drawdown struct{}
	Metrics  struct{}
	Profile  struct{ Name string }
	// Chart covers the last Hours of balance samples.
	Chart struct{ Hours int }
	Help  struct{}
)

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

func (Pause) Name() string              { return "pause" }
func (Resume) Name() string             { return "resume" }
func (Stop) Name() string               { return "stop" }
func (StopAt) Name() string             { return "stop-at" }
func (ClearStop) Name() string          { return "stop-at off" }
func (Panic) Name() string              { return "panic" }
func (Status) Name() string             { return "status" }
func (SetAmount) Name() string          { return "set-amount" }
func (ClearAmount) Name() string        { return "clear-amount" }
func (SetMaxDrawdown) Name() string     { return "set-max-drawdown" }
func (SetMaxPositions) Name() string    { return "set-max-positions" }
func (SetMaxOrders) Name() string       { return "set-max-orders" }
func (SetSpread) Name() string          { return "set-spread" }
func (SetMaxReduce) Name() string       { return "set-max-reduce" }
func (SetMaxExposure) Name() string     { return "set-max-exposure" }
func (SetWithdrawal) Name() string      { return "set-withdrawal" }
func (WithdrawalComplete) Name() string { return "withdrawal-complete" }
func (SetBlackout) Name() string        { return "set-blackout" }
func (BlackoutOff) Name() string        { return "blackout off" }
func (SetQuiet) Name() string           { return "set-quiet" }
func (QuietToggle) Name() string        { return "quiet" }
func (Halt) Name() string               { return "halt" }
func (History) Name() string            { return "history" }
func (PnL) Name() string                { return "pnl" }
func (Filled) Name() string             { return "filled" }
func (Pattern) Name() string            { return "pattern" }
func (Drawdown) Name() string           { return "drawdown" }
func (Metrics) Name() string            { return "metrics" }
func (Profile) Name() string            { return "profile" }
func (Chart) Name() string              { return "chart" }
func (Help) Name() string               { return "help" }

func (Pause) sealed()              {}
func (Resume) sealed()             {}
func (Stop) sealed()               {}
func (StopAt) sealed()             {}
func (ClearStop) sealed()          {}
func (Panic) sealed()              {}
func (Status) sealed()             {}
func (SetAmount) sealed()          {}
func (ClearAmount) sealed()        {}
func (SetMaxDrawdown) sealed()     {}
func (SetMaxPositions) sealed()    {}
func (SetMaxOrders) sealed()       {}
func (SetSpread) sealed()          {}
func (SetMaxReduce) sealed()       {}
func (SetMaxExposure) sealed()     {}
func (SetWithdrawal) sealed()      {}
func (WithdrawalComplete) sealed() {}
func (SetBlackout) sealed()        {}
func (BlackoutOff) sealed()        {}
func (SetQuiet) sealed()           {}
func (QuietToggle) sealed()        {}
func (Halt) sealed()               {}
func (History) sealed()            {}
func (PnL) sealed()                {}
func (Filled) sealed()             {}
func (Pattern) sealed()            {}
func (Drawdown) sealed()           {}
func (Metrics) sealed()            {}
func (Profile) sealed()            {}
func (Chart) sealed()              {}
func (Help) sealed()               {}

// Mutates reports whether a command changes engine state or overrides.
func Mutates(c Command) bool {
	switch v := c.(type) {
	case Panic:
		return v.Confirm
	case Profile:
		return v.Name != ""
	case Pause, Resume, Stop, StopAt, ClearStop,
		SetAmount, ClearAmount, SetMaxDrawdown, SetMaxPositions, SetMaxOrders,
		SetSpread, SetMaxReduce, SetMaxExposure, SetWithdrawal, WithdrawalComplete,
		SetBlackout, BlackoutOff, SetQuiet, QuietToggle, Halt:
		return true
	default:
		return false
	}
}
