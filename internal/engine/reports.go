package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"griddca/internal/analysis/visual"
	"griddca/internal/command"
	"griddca/internal/gateway/notifier"
	"griddca/internal/logger"
	"griddca/internal/metrics"
)

func (e *Engine) reportStatus(now time.Time) Reply {
	msg := notifier.Message{Icon: "📊", Title: "Status " + e.cfg.Symbol, Timestamp: e.evaluator.Local(now)}

	bot := notifier.Section{Title: "Bot"}
	bot.Add("State", e.status.String())
	bot.Add("Last decision", e.lastDecision.String())
	bot.Add("Cycles completed", e.cyclesComplete)
	bot.Add("Next trade amount", e.tradeAmount())
	if t := e.withdrawalThreshold(); t.IsPositive() {
		bot.Add("Session profit", fmt.Sprintf("%s / withdraw at %s", fmtDecimal(e.sessionProfit), fmtDecimal(t)))
	} else {
		bot.Add("Session profit", fmtDecimal(e.sessionProfit))
	}
	if e.reset != nil {
		bot.Add("Reset pending", fmt.Sprintf("%s since %s (%d attempts)",
			e.reset.reason, e.evaluator.Local(e.reset.since).Format("15:04:05"), e.reset.attempts))
	}
	if e.blackoutWaived(now) {
		bot.Add("Blackout waived until", e.evaluator.Local(e.waivedUntil).Format("15:04"))
	}
	msg.Sections = append(msg.Sections, bot)

	snap := e.lastSnap
	acct := notifier.Section{Title: "Account"}
	acct.Add("Balance", fmtDecimal(snap.Balance))
	acct.Add("Equity", fmtDecimal(snap.Equity))
	acct.Add("Free margin", fmtDecimal(snap.FreeMargin))
	acct.Add("Spread", snap.Spread)
	acct.Add("Bid/Ask", fmt.Sprintf("%s / %s", snap.Bid, snap.Ask))
	msg.Sections = append(msg.Sections, acct)

	cyc := notifier.Section{Title: "Cycle"}
	if c := e.cycle; c != nil {
		cyc.Add("ID", c.ID)
		cyc.Add("Started", e.evaluator.Local(c.StartTime).Format("01-02 15:04"))
		cyc.Add("Anchor", c.Anchor)
		cyc.Add("Center", c.Center)
		cyc.Add("Trade amount", c.TradeAmount)
		cyc.Add("P&L", fmt.Sprintf("%s / target %s", fmtDecimal(e.cyclePnL(snap)), fmtDecimal(c.TargetProfit)))
		cyc.Add("Realized", fmtDecimal(c.ClosedPnL))
		cyc.Add("Pending orders", len(c.Active))
		cyc.Add("Open fills", len(c.OpenFills()))
		cyc.Add("Max drawdown", fmtDecimal(c.MaxDrawdown))
	} else {
		cyc.Lines = append(cyc.Lines, "no active cycle")
	}
	msg.Sections = append(msg.Sections, cyc)

	msg.Footer = "Limits\n" + e.limits().Describe()
	return Reply{Text: msg.Render()}
}

// reportMetrics reads the process collectors back; counters cover the whole
// process lifetime, not just the current cycle.
func (e *Engine) reportMetrics(now time.Time) Reply {
	s, err := metrics.Summarize(nil)
	if err != nil {
		logger.Warnf("metrics gather failed: %v", err)
		return Reply{Text: fmt.Sprintf("❌ Metrics unavailable: %v", err), Err: err}
	}
	msg := notifier.Message{Icon: "📈", Title: "Performance " + e.cfg.Symbol, Timestamp: e.evaluator.Local(now)}

	run := notifier.Section{Title: "Runtime"}
	run.Add("Uptime", now.Sub(e.startedAt).Round(time.Second))
	run.Add("Ticks", fmt.Sprintf("%d (avg %.1f ms)", s.TickCount, s.AvgTick()*1000))
	run.Add("Errors", fmt.Sprintf("%.0f", s.Errors()))
	msg.Sections = append(msg.Sections, run)

	trade := notifier.Section{Title: "Trading"}
	trade.Add("Cycles completed", e.cyclesComplete)
	trade.Add("Session profit", fmtDecimal(e.sessionProfit))
	trade.Add("Orders placed", fmt.Sprintf("%.0f", s.OrdersPlaced))
	trade.Add("Fills", fmt.Sprintf("%.0f (%.1f%% of placed)", s.Fills, s.FillRate()))
	trade.Add("TP closes", fmt.Sprintf("%.0f (%.1f%% of fills)", s.Closes, s.TPRate()))
	msg.Sections = append(msg.Sections, trade)

	if len(s.GuardTrips) > 0 {
		guards := notifier.Section{Title: "Guard trips"}
		for _, reason := range sortedKeys(s.GuardTrips) {
			guards.Add(reason, fmt.Sprintf("%.0f", s.GuardTrips[reason]))
		}
		msg.Sections = append(msg.Sections, guards)
	}
	return Reply{Text: msg.Render()}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) reportFilled() Reply {
	if e.cycle == nil || len(e.cycle.Filled) == 0 {
		return Reply{Text: "📭 No fills in the current cycle."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Fills this cycle (%d)\n", len(e.cycle.Filled))
	for _, f := range e.cycle.Filled {
		state := "open"
		if f.Closed {
			state = "closed " + fmtDecimal(f.ClosePnL)
		}
		fmt.Fprintf(&b, "\n• %s #%d @ %s vol %s tp %s [%s]",
			f.Order.Side, f.Order.Index, f.FillPrice, f.Order.Volume, f.Order.TakeProfit, state)
	}
	if pending := e.cycle.SortedActive(); len(pending) > 0 {
		fmt.Fprintf(&b, "\n\nPending (%d)", len(pending))
		for _, o := range pending {
			fmt.Fprintf(&b, "\n• %s #%d stop %s vol %s", o.Side, o.Index, o.RequestedPrice, o.Volume)
		}
	}
	return Reply{Text: b.String()}
}

func (e *Engine) reportPattern() Reply {
	sides := e.pattern.Sides()
	if len(sides) == 0 {
		return Reply{Text: "📭 No fills since the cycle started; no pattern."}
	}
	seq := make([]string, len(sides))
	for i, s := range sides {
		seq[i] = s.String()
	}
	run := e.pattern.Run()
	buys, sells := e.pattern.PairCounts()
	msg := notifier.Message{Icon: "🧩", Title: "Fill pattern"}
	sec := notifier.Section{}
	sec.Add("Recent (newest first)", strings.Join(seq, " "))
	sec.Add("Run", fmt.Sprintf("%s x%d", run.Side, run.Length))
	sec.Add("Adjacent pairs", fmt.Sprintf("buy %d / sell %d", buys, sells))
	if gated := e.pattern.Suppressed(); len(gated) > 0 {
		keys := make([]string, 0, len(gated))
		for k := range gated {
			keys = append(keys, k.String())
		}
		sec.Add("Withheld next build", strings.Join(keys, ", "))
	} else {
		sec.Add("Withheld next build", "none")
	}
	msg.Sections = append(msg.Sections, sec)
	return Reply{Text: msg.Render()}
}

func (e *Engine) reportDrawdown() Reply {
	if e.cycle == nil {
		return Reply{Text: "📭 No active cycle."}
	}
	c := e.cycle
	lim := e.limits()
	msg := notifier.Message{Icon: "📉", Title: "Drawdown"}
	sec := notifier.Section{}
	sec.Add("Start balance", fmtDecimal(c.StartBalance))
	sec.Add("Equity", fmtDecimal(e.lastSnap.Equity))
	sec.Add("Current", fmtDecimal(c.StartBalance.Sub(e.lastSnap.Equity)))
	sec.Add("Max this cycle", fmtDecimal(c.MaxDrawdown))
	if lim.MaxDrawdown.IsPositive() {
		sec.Add("Pause at", fmtDecimal(lim.MaxDrawdown))
	} else {
		sec.Add("Pause at", "none")
	}
	sec.Add("Equity protection", fmtDecimal(lim.MaxReduceBalance))
	msg.Sections = append(msg.Sections, sec)
	return Reply{Text: msg.Render()}
}

func (e *Engine) reportHistory(ctx context.Context, n int) Reply {
	if n <= 0 {
		n = 10
	}
	if e.history == nil {
		return e.historyFromCycle(n)
	}
	fills, err := e.history.RecentFills(ctx, n)
	if err != nil {
		logger.Warnf("history query failed: %v", err)
		return Reply{Text: fmt.Sprintf("❌ History unavailable: %v", err), Err: err}
	}
	if len(fills) == 0 {
		return Reply{Text: "📭 No fills recorded yet."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Last %d fills\n", len(fills))
	for _, f := range fills {
		state := "open"
		if f.Closed {
			state = "pnl " + fmtDecimal(f.PnL)
		}
		fmt.Fprintf(&b, "\n• %s %s #%d @ %s vol %s [%s]",
			e.evaluator.Local(f.FillTime).Format("01-02 15:04"), f.Side, f.GridIndex, f.FillPrice, f.Volume, state)
	}
	return Reply{Text: b.String()}
}

func (e *Engine) historyFromCycle(n int) Reply {
	if e.cycle == nil || len(e.cycle.Filled) == 0 {
		return Reply{Text: "📭 No fills recorded yet."}
	}
	fills := e.cycle.Filled
	if len(fills) > n {
		fills = fills[len(fills)-n:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Last %d fills (current cycle)\n", len(fills))
	for i := len(fills) - 1; i >= 0; i-- {
		f := fills[i]
		fmt.Fprintf(&b, "\n• %s %s #%d @ %s vol %s",
			e.evaluator.Local(f.FillTime).Format("01-02 15:04"), f.Order.Side, f.Order.Index, f.FillPrice, f.Order.Volume)
	}
	return Reply{Text: b.String()}
}

func (e *Engine) reportPnL(ctx context.Context, now time.Time, period command.Period) Reply {
	if e.history == nil {
		return Reply{Text: "ℹ️ P&L history needs the history store."}
	}
	start := periodStart(e.evaluator.Local(now), period)
	sum, n, err := e.history.RealizedSince(ctx, start)
	if err != nil {
		logger.Warnf("pnl query failed: %v", err)
		return Reply{Text: fmt.Sprintf("❌ P&L unavailable: %v", err), Err: err}
	}
	msg := notifier.Message{Icon: "💵", Title: fmt.Sprintf("P&L %s", period)}
	sec := notifier.Section{}
	sec.Add("Since", start.Format("2006-01-02 15:04 MST"))
	sec.Add("Realized", fmtDecimal(sum))
	sec.Add("Closed trades", n)
	if e.cycle != nil {
		sec.Add("Open cycle P&L", fmtDecimal(e.cyclePnL(e.lastSnap)))
	}
	msg.Sections = append(msg.Sections, sec)
	return Reply{Text: msg.Render()}
}

// periodStart is local midnight, the last Monday, or the 1st of the month.
func periodStart(local time.Time, p command.Period) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	switch p {
	case command.PeriodWeek:
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back)
	case command.PeriodMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location())
	default:
		return day
	}
}

func (e *Engine) reportChart(ctx context.Context, now time.Time, hours int) Reply {
	in, err := e.chartInput(ctx, now, hours)
	if err != nil {
		return Reply{Text: fmt.Sprintf("❌ Chart unavailable: %v", err), Err: err}
	}
	if e.cfg.ChartPNG {
		img, err := visual.RenderBalancePNG(in)
		if err == nil {
			return Reply{Text: img.Description, Photo: img.Bytes}
		}
		logger.Warnf("chart png failed, falling back to html: %v", err)
	}
	html, desc, err := visual.BuildBalanceHTML(in)
	if err != nil {
		return Reply{Text: fmt.Sprintf("❌ Chart unavailable: %v", err), Err: err}
	}
	path, err := e.writeChart(now, html)
	if err != nil {
		return Reply{Text: fmt.Sprintf("❌ Chart not saved: %v", err), Err: err}
	}
	return Reply{Text: fmt.Sprintf("📈 %s\n\n%s", desc, path)}
}

// ChartHTML renders the balance chart for the last hours. Safe to call from
// any goroutine: it only reads the history store.
func (e *Engine) ChartHTML(ctx context.Context, hours int) ([]byte, error) {
	in, err := e.chartInput(ctx, e.clock(), hours)
	if err != nil {
		return nil, err
	}
	html, _, err := visual.BuildBalanceHTML(in)
	return html, err
}

func (e *Engine) chartInput(ctx context.Context, now time.Time, hours int) (visual.BalanceInput, error) {
	if e.history == nil {
		return visual.BalanceInput{}, fmt.Errorf("history store disabled")
	}
	if hours <= 0 {
		hours = 24
	}
	samples, err := e.history.BalanceSeries(ctx, now.Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return visual.BalanceInput{}, err
	}
	points := make([]visual.Point, len(samples))
	for i, s := range samples {
		points[i] = visual.Point{At: s.At, Balance: s.Balance.InexactFloat64(), Equity: s.Equity.InexactFloat64()}
	}
	return visual.BalanceInput{
		Context:  ctx,
		Symbol:   e.cfg.Symbol,
		Subtitle: fmt.Sprintf("last %dh", hours),
		Points:   points,
		Location: e.evaluator.Location(),
	}, nil
}

func (e *Engine) writeChart(now time.Time, html []byte) (string, error) {
	dir := e.cfg.ChartDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_balance_%s.html", strings.ToLower(e.cfg.Symbol), now.UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
