package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"griddca/internal/command"
	"griddca/internal/logger"
	"griddca/internal/risk"
	"griddca/internal/store/journal"

	"github.com/shopspring/decimal"
)

// apply handles one operator command between ticks. Every variant of
// command.Command must have a case here.
func (e *Engine) apply(ctx context.Context, cmd command.Command, now time.Time) Reply {
	switch c := cmd.(type) {
	case command.Pause:
		return e.cmdPause(ctx, now)
	case command.Resume:
		return e.cmdResume(ctx, now)
	case command.Stop:
		return e.cmdStop(ctx, now, now, "⏳ Bot will pause after the next target-profit reset.")
	case command.StopAt:
		at := e.nextClock(now, c.At)
		return e.cmdStop(ctx, now, at, fmt.Sprintf("⏳ Bot will pause at the first target-profit reset after %s.",
			e.evaluator.Local(at).Format("2006-01-02 15:04 MST")))
	case command.ClearStop:
		if e.status.Kind != PausedScheduledAt {
			return Reply{Text: "ℹ️ No scheduled stop.", Quiet: true}
		}
		e.setStatus(ctx, Status{Kind: Running}, "scheduled stop cleared")
		return Reply{Text: "✅ Scheduled stop cleared. Trading continues."}
	case command.Panic:
		if !c.Confirm {
			return Reply{Text: "⚠️ This closes every position and cancels every order of this bot.\nSend /panic confirm to proceed."}
		}
		return e.panicClose(ctx, now)
	case command.Status:
		return e.reportStatus(now)

	case command.SetAmount:
		v := c.Amount
		e.overrides.TradeAmount = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Trade amount set to %s. Applies from the next cycle.", v))
	case command.ClearAmount:
		e.overrides.TradeAmount = nil
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Trade amount override cleared. Next cycle uses %s.", e.cfg.TradeAmount))
	case command.SetMaxDrawdown:
		v := c.Value
		e.overrides.MaxDrawdown = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max drawdown set to %s.", v))
	case command.SetMaxPositions:
		v := c.Value
		e.overrides.MaxPositions = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max open positions set to %d.", v))
	case command.SetMaxOrders:
		v := c.Value
		e.overrides.MaxOrders = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max pending orders set to %d.", v))
	case command.SetSpread:
		v := c.Value
		e.overrides.MaxSpread = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max spread set to %s.", v))
	case command.SetMaxReduce:
		v := c.Value
		e.overrides.MaxReduceBalance = &v
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max balance reduction set to %s.", v))
	case command.SetBlackout:
		ws := risk.WindowSetting{Enabled: true, Window: c.Window}
		e.overrides.Blackout = &ws
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Blackout window set to %s (%s).", c.Window, e.evaluator.Location()))
	case command.BlackoutOff:
		ws := e.limits().Blackout
		ws.Enabled = false
		e.overrides.Blackout = &ws
		e.waivedUntil = time.Time{}
		return e.overridesChanged(ctx, cmd, "✅ Blackout disabled.")
	case command.SetQuiet:
		q := e.limits().Quiet
		q.Enabled, q.Window = true, c.Window
		if c.Factor.IsPositive() {
			q.Factor = c.Factor
		}
		e.overrides.Quiet = &q
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Quiet hours set to %s, volume x%s.", q.Window, q.Factor))
	case command.QuietToggle:
		q := e.limits().Quiet
		q.Enabled = c.On
		e.overrides.Quiet = &q
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Quiet hours %s.", q))
	case command.Halt:
		on := c.On
		e.overrides.HaltEnabled = &on
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Trading halt %s.", e.limits().Halt))
	case command.SetMaxExposure:
		v := c.Value
		e.overrides.MaxExposure = &v
		if !v.IsPositive() {
			return e.overridesChanged(ctx, cmd, "✅ Max exposure disabled.")
		}
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Max exposure set to %s lots.", v))
	case command.SetWithdrawal:
		v := c.Value
		e.overrides.WithdrawalThreshold = &v
		if !v.IsPositive() {
			return e.overridesChanged(ctx, cmd, "✅ Profit withdrawal pause disabled.")
		}
		return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Profit withdrawal threshold set to %s. Session profit so far: %s.",
			fmtDecimal(v), fmtDecimal(e.sessionProfit)))
	case command.WithdrawalComplete:
		return e.cmdWithdrawalComplete(ctx, now)
	case command.Profile:
		return e.cmdProfile(ctx, cmd, c.Name)

	case command.History:
		return e.reportHistory(ctx, c.N)
	case command.PnL:
		return e.reportPnL(ctx, now, c.Period)
	case command.Filled:
		return e.reportFilled()
	case command.Pattern:
		return e.reportPattern()
	case command.Drawdown:
		return e.reportDrawdown()
	case command.Metrics:
		return e.reportMetrics(now)
	case command.Chart:
		return e.reportChart(ctx, now, c.Hours)
	case command.Help:
		return Reply{Text: command.Usage}
	default:
		logger.Errorf("engine: unhandled command %T", cmd)
		return Reply{Text: command.Usage, Err: fmt.Errorf("unhandled command %s", cmd.Name())}
	}
}

func (e *Engine) cmdPause(ctx context.Context, now time.Time) Reply {
	if e.status.Kind == PausedManual || e.status.Kind == PausedWithdrawal {
		return Reply{Text: "ℹ️ Bot is already paused.", Quiet: true}
	}
	e.setStatus(ctx, Status{Kind: PausedManual, At: now}, "operator pause")
	return Reply{Text: "⏸️ Bot paused. Orders and positions are left as they are. Send /resume to continue."}
}

func (e *Engine) cmdResume(ctx context.Context, now time.Time) Reply {
	if e.status.Kind == Running {
		return Reply{Text: "ℹ️ Bot is already running.", Quiet: true}
	}
	if e.status.Kind == PausedWithdrawal {
		return Reply{Text: "💰 Bot is waiting for a profit withdrawal. Send /withdrawal-complete once the profit has been moved out."}
	}
	from := e.status
	e.lastSkip = risk.ReasonNone
	var b strings.Builder
	b.WriteString("▶️ Bot resumed.")
	if active, ws := e.evaluator.BlackoutActive(now, e.overrides); active {
		e.waivedUntil = ws.Window.NextEnd(e.evaluator.Local(now))
		fmt.Fprintf(&b, " Blackout %s ignored until %s.", ws.Window, e.waivedUntil.Format("15:04 MST"))
	}
	if from.Kind == PausedScheduledAt {
		b.WriteString(" Scheduled stop cancelled.")
	}
	if e.reset != nil {
		b.WriteString(" A cycle reset is still pending and will be retried first.")
	}
	e.setStatus(ctx, Status{Kind: Running}, "operator resume")
	return Reply{Text: b.String()}
}

func (e *Engine) cmdStop(ctx context.Context, now, at time.Time, text string) Reply {
	if e.status.Kind == PausedManual || e.status.Kind == PausedWithdrawal {
		return Reply{Text: "ℹ️ Bot is already paused.", Quiet: true}
	}
	if e.status.Kind == PausedScheduledAt && e.status.At.Equal(at) {
		return Reply{Text: text, Quiet: true}
	}
	if !e.status.Trading() {
		// PausedBlackout / PausedDrawdown: nothing to wait for
		e.setStatus(ctx, Status{Kind: PausedManual, At: now}, "operator stop")
		return Reply{Text: "⏸️ Bot paused. Send /resume to continue."}
	}
	e.setStatus(ctx, Status{Kind: PausedScheduledAt, At: at}, "operator stop")
	if e.cycle == nil && !at.After(now) {
		e.setStatus(ctx, Status{Kind: PausedManual, At: now}, "no active cycle")
		return Reply{Text: "⏸️ No active cycle. Bot paused. Send /resume to continue."}
	}
	return Reply{Text: text}
}

// cmdWithdrawalComplete restarts trading after a profit withdrawal pause and
// starts a new session profit count.
func (e *Engine) cmdWithdrawalComplete(ctx context.Context, now time.Time) Reply {
	if e.status.Kind != PausedWithdrawal {
		threshold := "off"
		if t := e.withdrawalThreshold(); t.IsPositive() {
			threshold = fmtDecimal(t)
		}
		return Reply{Text: fmt.Sprintf("ℹ️ No withdrawal in progress.\n\n• Session profit: %s\n• Threshold: %s",
			fmtDecimal(e.sessionProfit), threshold), Quiet: true}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Withdrawal complete. Session profit %s reset to 0.", fmtDecimal(e.sessionProfit))
	if snap, err := e.broker.Snapshot(ctx, e.since(now)); err != nil {
		logger.Warnf("withdrawal complete: snapshot failed: %v", err)
	} else {
		e.lastSnap = snap
		fmt.Fprintf(&b, "\n\n• Balance before: %s\n• Balance now: %s\n• Withdrawn: %s",
			fmtDecimal(e.withdrawalBalance), fmtDecimal(snap.Balance), fmtDecimal(e.withdrawalBalance.Sub(snap.Balance)))
	}
	e.record(ctx, journal.TypeGuard, map[string]string{
		"action":  "resume",
		"reason":  "profit-withdrawal",
		"profit":  fmtDecimal(e.sessionProfit),
		"balance": fmtDecimal(e.withdrawalBalance),
	})
	e.sessionProfit = decimal.Zero
	e.withdrawalBalance = decimal.Zero
	e.lastSkip = risk.ReasonNone
	e.setStatus(ctx, Status{Kind: Running}, "withdrawal complete")
	b.WriteString("\n\n▶️ Trading resumed. A new cycle starts on the next tick.")
	return Reply{Text: b.String()}
}

// nextClock returns the next occurrence of the given minute-of-day in the
// trading timezone, at or after now.
func (e *Engine) nextClock(now time.Time, minutes int) time.Time {
	local := e.evaluator.Local(now)
	at := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).
		Add(time.Duration(minutes) * time.Minute)
	if at.Before(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func (e *Engine) cmdProfile(ctx context.Context, cmd command.Command, name string) Reply {
	if e.profiles == nil {
		return Reply{Text: "ℹ️ Risk profiles are not configured."}
	}
	if name == "" {
		names := e.profiles.Names()
		if len(names) == 0 {
			return Reply{Text: "ℹ️ No risk profiles defined."}
		}
		return Reply{Text: "📚 Risk profiles:\n• " + strings.Join(names, "\n• ") + "\n\nSend /profile NAME to apply one."}
	}
	next := e.overrides.Clone()
	if _, err := e.profiles.Apply(name, &next); err != nil {
		return Reply{Text: fmt.Sprintf("❌ %v", err), Err: err}
	}
	e.overrides = next
	return e.overridesChanged(ctx, cmd, fmt.Sprintf("✅ Profile %s applied.\n\n%s", name, e.limits().Describe()))
}

// overridesChanged persists and journals an override mutation.
func (e *Engine) overridesChanged(ctx context.Context, cmd command.Command, text string) Reply {
	e.persistOverrides(ctx)
	e.record(ctx, journal.TypeOverrides, map[string]any{"command": cmd.Name(), "overrides": e.overrides})
	logger.Infof("overrides changed by %s", cmd.Name())
	return Reply{Text: text}
}

func (e *Engine) limits() risk.Limits {
	return e.evaluator.Limits().Effective(e.overrides)
}

func fmtDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}
