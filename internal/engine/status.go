package engine

import (
	"fmt"
	"time"
)

type StatusKind int

const (
	Running StatusKind = iota
	PausedManual
	// PausedScheduledAt keeps trading until the first take-profit reset at or after At.
	PausedScheduledAt
	PausedBlackout
	PausedDrawdown
	// PausedWithdrawal waits for the operator to move session profit out.
	PausedWithdrawal
)

// Status is the strategy state shown to the operator.
type Status struct {
	Kind StatusKind
	At   time.Time
}

// Trading reports whether ticks run the full sequence.
func (s Status) Trading() bool {
	return s.Kind == Running || s.Kind == PausedScheduledAt
}

// MetricName is the griddca_status label for the state.
func (s Status) MetricName() string {
	switch s.Kind {
	case Running:
		return "running"
	case PausedManual:
		return "paused_manual"
	case PausedScheduledAt:
		return "paused_scheduled"
	case PausedBlackout:
		return "paused_blackout"
	case PausedDrawdown:
		return "paused_drawdown"
	case PausedWithdrawal:
		return "paused_withdrawal"
	default:
		return "unknown"
	}
}

func (s Status) String() string {
	switch s.Kind {
	case Running:
		return "▶️ Running"
	case PausedManual:
		return "⏸️ Paused (manual)"
	case PausedScheduledAt:
		return fmt.Sprintf("⏳ Running, pause at next TP after %s", s.At.Format("01-02 15:04"))
	case PausedBlackout:
		return "🌙 Paused (blackout)"
	case PausedDrawdown:
		return "⛔️ Paused (equity protection)"
	case PausedWithdrawal:
		return "💰 Paused (profit withdrawal)"
	default:
		return fmt.Sprintf("status(%d)", int(s.Kind))
	}
}
