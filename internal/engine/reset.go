package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"griddca/internal/gateway/broker"
	"griddca/internal/logger"
	"griddca/internal/metrics"
	"griddca/internal/store/journal"
	"griddca/internal/types"

	"github.com/shopspring/decimal"
)

// beginReset cancels every tagged order and closes every tagged position, then
// waits for the broker to confirm a flat book. No ladder build happens until
// the reset is confirmed; on exhaustion the reset stays pending and is retried
// on the following ticks.
func (e *Engine) beginReset(ctx context.Context, now time.Time, snap types.AccountSnapshot, reason string) {
	e.reset = &pendingReset{reason: reason, since: now, cancelled: make(map[string]bool)}
	e.liquidate(ctx, snap, e.reset.cancelled)
	for attempt := 1; attempt <= e.cfg.ResetConfirmRetries; attempt++ {
		e.reset.attempts = attempt
		confirm, err := e.broker.Snapshot(ctx, e.since(now))
		if err != nil {
			logger.Warnf("reset confirm %d/%d: snapshot failed: %v", attempt, e.cfg.ResetConfirmRetries, err)
			continue
		}
		if flat(confirm) {
			e.finishReset(ctx, now, confirm)
			return
		}
		logger.Debugf("reset confirm %d/%d: %d positions %d orders remain",
			attempt, e.cfg.ResetConfirmRetries, len(confirm.Positions), len(confirm.PendingOrders))
		e.liquidate(ctx, confirm, e.reset.cancelled)
	}
	metrics.CycleResets.WithLabelValues("pending").Inc()
	e.record(ctx, journal.TypeResetPending, map[string]any{
		"cycle": e.cycleID(), "reason": reason, "attempts": e.reset.attempts,
	})
	logger.Warnf("cycle %s reset not confirmed after %d attempts; will retry every tick", e.cycleID(), e.reset.attempts)
	e.notify(fmt.Sprintf("⚠️ Cycle reset incomplete after %d attempts. Positions or orders remain at the broker; retrying each tick, no new orders until it completes.",
		e.reset.attempts))
}

// retryReset makes one more liquidation pass for a pending reset.
func (e *Engine) retryReset(ctx context.Context, now time.Time) bool {
	snap, err := e.broker.Snapshot(ctx, e.since(now))
	if err != nil {
		logger.Warnf("reset retry: snapshot failed: %v", err)
		return false
	}
	if !flat(snap) {
		e.liquidate(ctx, snap, e.reset.cancelled)
		if snap, err = e.broker.Snapshot(ctx, e.since(now)); err != nil {
			logger.Warnf("reset retry: snapshot failed: %v", err)
			return false
		}
	}
	e.reset.attempts++
	if !flat(snap) {
		logger.Warnf("cycle %s reset still pending (attempt %d): %d positions %d orders",
			e.cycleID(), e.reset.attempts, len(snap.Positions), len(snap.PendingOrders))
		return false
	}
	e.notify(fmt.Sprintf("✅ Pending cycle reset confirmed after %d attempts.", e.reset.attempts))
	e.finishReset(ctx, now, snap)
	return true
}

// liquidate issues one close per position and one cancel per order. Orders
// the broker confirmed as cancelled are added to cancelled.
func (e *Engine) liquidate(ctx context.Context, snap types.AccountSnapshot, cancelled map[string]bool) []string {
	var report []string
	for _, o := range snap.PendingOrders {
		err := e.broker.CancelOrder(ctx, o.ID)
		switch {
		case err == nil:
			cancelled[o.ID] = true
			report = append(report, fmt.Sprintf("✅ cancelled %s %s @ %s", o.ID, o.Side, o.Price))
		case broker.IsNotFound(err):
			report = append(report, fmt.Sprintf("☑️ order %s already gone", o.ID))
		default:
			logger.Warnf("cancel %s failed: %v", o.ID, err)
			report = append(report, fmt.Sprintf("❌ cancel %s failed: %v", o.ID, err))
		}
	}
	for _, p := range snap.Positions {
		pnl, err := e.broker.ClosePosition(ctx, p.ID)
		switch {
		case err == nil:
			report = append(report, fmt.Sprintf("✅ closed %s %s %s pnl %s", p.ID, p.Side, p.Volume, pnl.StringFixed(2)))
		case broker.IsNotFound(err):
			report = append(report, fmt.Sprintf("☑️ position %s already closed", p.ID))
		default:
			logger.Warnf("close %s failed: %v", p.ID, err)
			report = append(report, fmt.Sprintf("❌ close %s failed: %v", p.ID, err))
		}
	}
	return report
}

// finishReset books the final fills and closes, records the cycle and clears it.
func (e *Engine) finishReset(ctx context.Context, now time.Time, snap types.AccountSnapshot) {
	reason, cancelled := "take-profit", map[string]bool(nil)
	if e.reset != nil {
		reason, cancelled = e.reset.reason, e.reset.cancelled
	}
	e.lastSnap = snap
	pnl := e.closeCycle(ctx, now, snap, reason, cancelled)
	e.reset = nil
	e.cyclesComplete++
	e.sessionProfit = e.sessionProfit.Add(pnl)
	metrics.CycleResets.WithLabelValues("confirmed").Inc()

	if e.withdrawalDue() {
		e.pauseForWithdrawal(ctx, now, snap, pnl)
		return
	}
	if e.status.Kind == PausedScheduledAt && !now.Before(e.status.At) {
		e.setStatus(ctx, Status{Kind: PausedManual, At: now}, "scheduled stop")
		e.notify("⏸️ Bot paused after reaching target profit as requested. All positions closed, all orders cancelled. Send /resume to continue.")
	}
}

// closeCycle settles the cycle against a flat snapshot and forgets it.
// Orders we cancelled are dropped first so they are not mistaken for fills.
func (e *Engine) closeCycle(ctx context.Context, now time.Time, snap types.AccountSnapshot, reason string, cancelled map[string]bool) decimal.Decimal {
	c := e.cycle
	if c == nil {
		return decimal.Zero
	}
	for key, o := range c.Active {
		if cancelled[o.BrokerOrderID] {
			delete(c.Active, key)
		}
	}
	res := e.reconciler.Reconcile(c, snap)
	c.Apply(res)
	for _, ev := range res.Events {
		if ev.Fill != nil {
			e.saveFill(ctx, ev.Fill)
		}
	}
	end := now
	e.saveCycle(ctx, &end, reason)
	e.record(ctx, journal.TypeCycleReset, map[string]any{
		"cycle":        c.ID,
		"reason":       reason,
		"pnl":          c.ClosedPnL.StringFixed(2),
		"fills":        len(c.Filled),
		"max_drawdown": c.MaxDrawdown.StringFixed(2),
		"duration":     now.Sub(c.StartTime).Round(time.Second).String(),
	})
	logger.Infof("cycle %s closed reason=%s pnl=%s fills=%d", c.ID, reason, c.ClosedPnL.StringFixed(2), len(c.Filled))
	if reason != "panic" {
		e.notify(fmt.Sprintf("🏁 Cycle complete (%s)\n\n• P&L: %s\n• Fills: %d\n• Max drawdown: %s\n• Duration: %s\n• Balance: %s",
			reason, c.ClosedPnL.StringFixed(2), len(c.Filled), c.MaxDrawdown.StringFixed(2),
			now.Sub(c.StartTime).Round(time.Second), snap.Balance.StringFixed(2)))
	}
	e.cycle = nil
	e.pattern.Reset()
	metrics.CyclePnL.Set(0)
	metrics.MaxDrawdown.Set(0)
	return c.ClosedPnL
}

func (e *Engine) withdrawalDue() bool {
	threshold := e.withdrawalThreshold()
	return threshold.IsPositive() && e.sessionProfit.GreaterThanOrEqual(threshold) && e.status.Kind != PausedWithdrawal
}

// pauseForWithdrawal stops trading on a flat book until the operator confirms
// the profit has been moved out. A pending scheduled stop is consumed.
func (e *Engine) pauseForWithdrawal(ctx context.Context, now time.Time, snap types.AccountSnapshot, cyclePnL decimal.Decimal) {
	threshold := e.withdrawalThreshold()
	e.withdrawalBalance = snap.Balance
	e.setStatus(ctx, Status{Kind: PausedWithdrawal, At: now}, "profit withdrawal")
	e.record(ctx, journal.TypeGuard, map[string]string{
		"action":  "pause",
		"reason":  "profit-withdrawal",
		"detail":  fmt.Sprintf("session profit %s >= %s", e.sessionProfit.StringFixed(2), threshold.StringFixed(2)),
		"balance": snap.Balance.StringFixed(2),
	})
	logger.Warnf("profit withdrawal threshold reached: %s >= %s", e.sessionProfit.StringFixed(2), threshold.StringFixed(2))
	e.notify(fmt.Sprintf("💰 Profit withdrawal threshold reached\n\n• Threshold: %s\n• Session profit: %s\n• Last cycle P&L: %s\n• Balance: %s\n• Running for: %s\n\nMove the profit out, then send /withdrawal-complete to restart. Bot is paused until then.",
		threshold.StringFixed(2), e.sessionProfit.StringFixed(2), cyclePnL.StringFixed(2),
		snap.Balance.StringFixed(2), now.Sub(e.startedAt).Round(time.Second)))
}

// panicClose flattens the book right away and pauses. Every close and cancel
// is reported on its own line.
func (e *Engine) panicClose(ctx context.Context, now time.Time) Reply {
	snap, err := e.broker.Snapshot(ctx, e.since(now))
	if err != nil {
		return Reply{Text: fmt.Sprintf("❌ Panic failed: snapshot unavailable: %v", err), Err: err}
	}
	cancelled := make(map[string]bool)
	report := e.liquidate(ctx, snap, cancelled)
	if len(report) == 0 {
		report = append(report, "nothing to close")
	}
	if after, err := e.broker.Snapshot(ctx, e.since(now)); err == nil {
		e.lastSnap = after
		if !flat(after) {
			report = append(report, fmt.Sprintf("⚠️ %d positions %d orders still open", len(after.Positions), len(after.PendingOrders)))
		}
		e.closeCycle(ctx, now, after, "panic", cancelled)
	} else {
		report = append(report, fmt.Sprintf("⚠️ confirm snapshot failed: %v", err))
	}
	e.reset = nil
	e.setStatus(ctx, Status{Kind: PausedManual, At: now}, "panic")
	return Reply{Text: "🚨 Panic close\n\n" + strings.Join(report, "\n") + "\n\nBot paused. Send /resume to start a new cycle."}
}

func (e *Engine) cycleID() string {
	if e.cycle == nil {
		return ""
	}
	return e.cycle.ID
}

func flat(snap types.AccountSnapshot) bool {
	return len(snap.Positions) == 0 && len(snap.PendingOrders) == 0
}
