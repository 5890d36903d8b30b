package engine

import (
	"context"
	"fmt"
	"time"

	"griddca/internal/gateway/notifier"
	"griddca/internal/grid"
	"griddca/internal/logger"
	"griddca/internal/metrics"
	"griddca/internal/risk"
	"griddca/internal/store/gormstore"
	"griddca/internal/store/journal"
	"griddca/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// tick runs the sequence: windows → paused? → pending reset → snapshot →
// drawdown → risk → reconcile → pattern → pnl → reset or build. The exposure
// cap is checked last, once the build is known.
func (e *Engine) tick(ctx context.Context, now time.Time) string {
	e.refreshWindows(ctx, now)
	if !e.status.Trading() {
		return "paused"
	}
	if e.reset != nil {
		// reset 完成后本 tick 不再开新周期
		e.retryReset(ctx, now)
		return "reset"
	}

	snap, err := e.broker.Snapshot(ctx, e.since(now))
	if err != nil {
		logger.Warnf("tick: snapshot failed: %v", err)
		return "error"
	}
	e.lastSnap = snap
	e.observeAccount(ctx, now, snap)

	if e.cycle != nil {
		if e.cycle.TrackDrawdown(snap.Equity) {
			logger.Debugf("cycle %s new max drawdown %s", e.cycle.ID, e.cycle.MaxDrawdown.StringFixed(2))
		}
		metrics.MaxDrawdown.Set(e.cycle.MaxDrawdown.InexactFloat64())
	}

	decision := e.evaluator.Evaluate(e.riskInput(now, snap), e.overrides)
	e.lastDecision = decision
	if decision.Reason != risk.ReasonNone {
		metrics.GuardTrips.WithLabelValues(string(decision.Reason)).Inc()
	}

	if decision.Action == risk.PauseImmediate {
		e.setStatus(ctx, Status{Kind: PausedDrawdown, At: now}, string(decision.Reason))
		e.record(ctx, journal.TypeGuard, decisionPayload(decision))
		e.notify(fmt.Sprintf("⛔️ Trading paused\n\n%s\n\nSend /resume to continue.", decision.Detail))
		return "paused"
	}

	if e.cycle == nil {
		if decision.Action == risk.SkipTick {
			e.skip(ctx, now, decision)
			if decision.Reason == risk.ReasonBlackout {
				return "paused"
			}
			return "skip"
		}
		e.startCycle(ctx, now, snap)
	} else {
		e.reconcile(ctx, now, snap)
		pnl := e.cyclePnL(snap)
		metrics.CyclePnL.Set(pnl.InexactFloat64())
		if pnl.GreaterThanOrEqual(e.cycle.TargetProfit) {
			e.notify(fmt.Sprintf("🎯 Target profit reached\n\nCycle P&L %s ≥ target %s. Closing the cycle.",
				pnl.StringFixed(2), e.cycle.TargetProfit.StringFixed(2)))
			e.beginReset(ctx, now, snap, "take-profit")
			return "reset"
		}
		if decision.Action == risk.SkipTick {
			e.skip(ctx, now, decision)
			if decision.Reason == risk.ReasonBlackout {
				return "paused"
			}
			return "skip"
		}
	}

	orders := e.plan(now, snap, decision)
	if exp := e.evaluator.CheckExposure(openVolume(snap), plannedVolume(orders), e.overrides); exp.Action == risk.SkipTick {
		metrics.GuardTrips.WithLabelValues(string(exp.Reason)).Inc()
		e.lastDecision = exp
		e.skip(ctx, now, exp)
		return "skip"
	}
	e.clearSkip(decision)
	e.noteQuiet(decision)
	e.place(ctx, orders)
	if decision.Action == risk.BlackoutContinue {
		return "continue"
	}
	return "allow"
}

// since bounds the closed-position history the broker returns.
func (e *Engine) since(now time.Time) time.Time {
	if e.cycle != nil {
		return e.cycle.StartTime
	}
	return now.Add(-time.Hour)
}

func (e *Engine) riskInput(now time.Time, snap types.AccountSnapshot) risk.Input {
	in := risk.Input{
		Now:            now,
		Equity:         snap.Equity,
		FreeMargin:     snap.FreeMargin,
		Spread:         snap.Spread,
		StartBalance:   snap.Balance,
		OpenPositions:  len(snap.Positions),
		PendingOrders:  len(snap.PendingOrders),
		BlackoutWaived: e.blackoutWaived(now),
	}
	if e.cycle != nil {
		in.StartBalance = e.cycle.StartBalance
		in.CycleActive = e.cycle.IsActive()
	}
	return in
}

func (e *Engine) blackoutWaived(now time.Time) bool {
	return !e.waivedUntil.IsZero() && now.Before(e.waivedUntil)
}

// refreshWindows expires the blackout waiver and auto-resumes after a blackout.
func (e *Engine) refreshWindows(ctx context.Context, now time.Time) {
	if !e.waivedUntil.IsZero() && !now.Before(e.waivedUntil) {
		e.waivedUntil = time.Time{}
	}
	if e.status.Kind != PausedBlackout {
		return
	}
	if active, ws := e.evaluator.BlackoutActive(now, e.overrides); !active {
		resume := e.beforeBlackout
		if !resume.Trading() {
			resume = Status{Kind: Running}
		}
		e.setStatus(ctx, resume, "blackout ended")
		e.lastSkip = risk.ReasonNone
		e.notify(fmt.Sprintf("☀️ Blackout window %s ended. Trading resumed.", ws.Window))
	}
}

func (e *Engine) skip(ctx context.Context, now time.Time, d risk.Decision) {
	if d.Reason == risk.ReasonBlackout && (e.cycle == nil || !e.cycle.IsActive()) {
		e.beforeBlackout = e.status
		e.setStatus(ctx, Status{Kind: PausedBlackout, At: now}, string(d.Reason))
		e.record(ctx, journal.TypeGuard, decisionPayload(d))
		e.lastSkip = d.Reason
		e.notify(fmt.Sprintf("🌙 Blackout window %s active. No new cycle until it ends.", d.Detail))
		return
	}
	if e.lastSkip == d.Reason {
		return
	}
	e.lastSkip = d.Reason
	e.record(ctx, journal.TypeGuard, decisionPayload(d))
	logger.Infof("tick skipped: %s", d)
	e.notify(fmt.Sprintf("⚠️ Skipping new orders: %s (%s)", d.Reason, d.Detail))
}

func (e *Engine) clearSkip(d risk.Decision) {
	if e.lastSkip != risk.ReasonNone && d.Action != risk.SkipTick {
		logger.Infof("guard %s cleared", e.lastSkip)
		e.lastSkip = risk.ReasonNone
	}
}

func (e *Engine) noteQuiet(d risk.Decision) {
	quiet := d.Reason == risk.ReasonQuiet
	if quiet == e.quietActive {
		return
	}
	e.quietActive = quiet
	if quiet {
		e.notify(fmt.Sprintf("🕰️ Quiet hours %s: new orders scaled x%s", d.Detail, d.VolumeFactor.String()))
		return
	}
	e.notify("🕰️ Quiet hours ended: normal order size")
}

func (e *Engine) observeAccount(ctx context.Context, now time.Time, snap types.AccountSnapshot) {
	metrics.Equity.Set(snap.Equity.InexactFloat64())
	metrics.OpenPositions.Set(float64(len(snap.Positions)))
	metrics.ActiveOrders.Set(float64(len(snap.PendingOrders)))
	if e.history == nil {
		return
	}
	if !e.lastSample.IsZero() && now.Sub(e.lastSample) < e.cfg.SampleEvery {
		return
	}
	e.lastSample = now
	if err := e.history.RecordBalance(ctx, now, snap.Balance, snap.Equity); err != nil {
		logger.Warnf("record balance failed: %v", err)
	}
}

func (e *Engine) startCycle(ctx context.Context, now time.Time, snap types.AccountSnapshot) {
	amount := e.tradeAmount()
	anchor := snap.Mid().Round(e.cfg.Ladder.PriceDigits)
	e.cycle = grid.NewCycle(uuid.NewString(), anchor, snap.Equity, now, amount, e.targetFor(amount))
	e.pattern.Reset()
	if n := len(snap.Positions) + len(snap.PendingOrders); n > 0 {
		logger.Warnf("cycle %s starts with %d untracked tagged positions/orders; they close at the next reset", e.cycle.ID, n)
	}
	logger.Infof("cycle %s started anchor=%s balance=%s amount=%s target=%s",
		e.cycle.ID, anchor, snap.Equity.StringFixed(2), amount, e.cycle.TargetProfit.StringFixed(2))
	e.saveCycle(ctx, nil, "")
	msg := notifier.Message{Icon: "🚀", Title: "New cycle", Timestamp: now}
	sec := notifier.Section{}
	sec.Add("Symbol", e.cfg.Symbol)
	sec.Add("Anchor", anchor)
	sec.Add("Start balance", snap.Equity.StringFixed(2))
	sec.Add("Trade amount", amount)
	sec.Add("Target profit", e.cycle.TargetProfit.StringFixed(2))
	msg.Sections = append(msg.Sections, sec)
	e.notify(msg.Render())
}

// reconcile folds broker changes into the cycle and reports them.
func (e *Engine) reconcile(ctx context.Context, now time.Time, snap types.AccountSnapshot) {
	res := e.reconciler.Reconcile(e.cycle, snap)
	e.cycle.Apply(res)
	for _, ev := range res.Events {
		switch ev.Kind {
		case grid.EventFill:
			e.pattern.Observe(*ev.Fill)
			e.cycle.Center = grid.NextCenter(ev.Order.Key())
			metrics.Fills.WithLabelValues(ev.Order.Side.String()).Inc()
			e.saveFill(ctx, ev.Fill)
			e.notify(fmt.Sprintf("✅ Filled %s #%d @ %s vol %s (TP %s)",
				ev.Order.Side, ev.Order.Index, ev.Fill.FillPrice, ev.Order.Volume, ev.Order.TakeProfit))
		case grid.EventClose:
			metrics.Closes.WithLabelValues(ev.Order.Side.String()).Inc()
			e.saveFill(ctx, ev.Fill)
			e.notify(fmt.Sprintf("💰 Closed %s #%d pnl %s (cycle closed %s)",
				ev.Order.Side, ev.Order.Index, ev.PnL.StringFixed(2), e.cycle.ClosedPnL.StringFixed(2)))
		case grid.EventCancel:
			e.record(ctx, journal.TypeWarning, map[string]any{
				"cycle": e.cycle.ID, "rung": ev.Order.Key().String(),
				"order": ev.Order.BrokerOrderID, "note": ev.Note,
			})
		}
	}
	if len(res.Events) > 0 {
		run := e.pattern.Run()
		logger.Debugf("cycle %s center=%d run=%s x%d", e.cycle.ID, e.cycle.Center, run.Side, run.Length)
	}
}

// cyclePnL is realized P&L plus floating P&L of the cycle's open positions.
func (e *Engine) cyclePnL(snap types.AccountSnapshot) decimal.Decimal {
	total := e.cycle.ClosedPnL
	for _, f := range e.cycle.OpenFills() {
		if p, ok := snap.PositionByID(f.BrokerPositionID); ok {
			total = total.Add(p.Profit)
		}
	}
	return total
}

// plan lists the missing rungs the market has not already crossed.
func (e *Engine) plan(now time.Time, snap types.AccountSnapshot, d risk.Decision) []grid.LadderOrder {
	amount := e.cycle.TradeAmount
	if d.VolumeFactor.IsPositive() {
		amount = amount.Mul(d.VolumeFactor)
	}
	orders := e.builder.Build(grid.BuildRequest{
		Anchor:     e.cycle.Anchor,
		Amount:     amount,
		Center:     e.cycle.Center,
		Occupied:   e.cycle.Occupied(),
		Suppressed: e.pattern.Suppressed(),
		Now:        now,
	})
	out := orders[:0]
	for _, o := range orders {
		if crossed(o, snap) {
			logger.Debugf("rung %s at %s already crossed (bid %s ask %s), not placed", o.Key(), o.RequestedPrice, snap.Bid, snap.Ask)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (e *Engine) place(ctx context.Context, orders []grid.LadderOrder) {
	for i := range orders {
		o := orders[i]
		id, err := e.broker.PlaceOrder(ctx, types.OrderRequest{
			Side:       o.Side,
			Price:      o.RequestedPrice,
			Volume:     o.Volume,
			TakeProfit: o.TakeProfit,
			Comment:    fmt.Sprintf("grid %s", o.Key()),
		})
		if err != nil {
			// 留空，下一个 tick 补齐
			logger.Warnf("place %s at %s vol %s failed: %v", o.Key(), o.RequestedPrice, o.Volume, err)
			continue
		}
		o.BrokerOrderID = id
		e.cycle.Active[o.Key()] = &o
		metrics.OrdersPlaced.WithLabelValues(o.Side.String()).Inc()
		logger.Infof("placed %s stop %s vol %s tp %s id=%s", o.Key(), o.RequestedPrice, o.Volume, o.TakeProfit, id)
	}
}

func openVolume(snap types.AccountSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, p := range snap.Positions {
		total = total.Add(p.Volume)
	}
	return total
}

func plannedVolume(orders []grid.LadderOrder) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Volume)
	}
	return total
}

// crossed reports a stop whose trigger price the market has already passed.
func crossed(o grid.LadderOrder, snap types.AccountSnapshot) bool {
	if snap.Bid.IsZero() && snap.Ask.IsZero() {
		return false
	}
	if o.Side == types.Buy {
		return o.RequestedPrice.LessThanOrEqual(snap.Ask)
	}
	return o.RequestedPrice.GreaterThanOrEqual(snap.Bid)
}

func (e *Engine) saveCycle(ctx context.Context, end *time.Time, reason string) {
	if e.history == nil || e.cycle == nil {
		return
	}
	c := e.cycle
	rec := gormstore.CycleRecord{
		ID:           c.ID,
		Symbol:       e.cfg.Symbol,
		Anchor:       c.Anchor,
		TradeAmount:  c.TradeAmount,
		TargetProfit: c.TargetProfit,
		StartBalance: c.StartBalance,
		PnL:          c.ClosedPnL,
		MaxDrawdown:  c.MaxDrawdown,
		Fills:        len(c.Filled),
		Reason:       reason,
		StartTime:    c.StartTime,
		EndTime:      end,
	}
	if end != nil {
		rec.EndBalance = e.lastSnap.Balance
	}
	if err := e.history.SaveCycle(ctx, rec); err != nil {
		logger.Warnf("save cycle %s failed: %v", c.ID, err)
	}
}

func (e *Engine) saveFill(ctx context.Context, f *grid.FilledOrder) {
	if e.history == nil || e.cycle == nil || f == nil {
		return
	}
	rec := gormstore.FillRecord{
		PositionID:     f.BrokerPositionID,
		CycleID:        e.cycle.ID,
		GridIndex:      f.Order.Index,
		Side:           f.Order.Side.String(),
		OrderID:        f.Order.BrokerOrderID,
		RequestedPrice: f.Order.RequestedPrice,
		FillPrice:      f.FillPrice,
		Volume:         f.Order.Volume,
		TakeProfit:     f.Order.TakeProfit,
		FillTime:       f.FillTime,
		Closed:         f.Closed,
		PnL:            f.ClosePnL,
	}
	if f.Closed {
		at := f.ClosedAt
		rec.CloseTime = &at
	}
	if err := e.history.SaveFill(ctx, rec); err != nil {
		logger.Warnf("save fill %s failed: %v", f.BrokerPositionID, err)
	}
}

func decisionPayload(d risk.Decision) map[string]string {
	return map[string]string{"action": d.Action.String(), "reason": string(d.Reason), "detail": d.Detail}
}
