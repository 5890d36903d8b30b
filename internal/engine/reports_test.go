package engine

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"griddca/internal/command"
	"griddca/internal/risk"
	"griddca/internal/riskprofile"
	"griddca/internal/store/gormstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHistory struct {
	mu        sync.Mutex
	cycles    map[string]gormstore.CycleRecord
	fills     map[string]gormstore.FillRecord
	samples   []gormstore.BalanceSample
	overrides *risk.Overrides
	since     time.Time
}

func newMemHistory() *memHistory {
	return &memHistory{cycles: map[string]gormstore.CycleRecord{}, fills: map[string]gormstore.FillRecord{}}
}

func (m *memHistory) SaveCycle(_ context.Context, rec gormstore.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[rec.ID] = rec
	return nil
}

func (m *memHistory) SaveFill(_ context.Context, rec gormstore.FillRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills[rec.PositionID] = rec
	return nil
}

func (m *memHistory) RecentFills(_ context.Context, n int) ([]gormstore.FillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gormstore.FillRecord, 0, len(m.fills))
	for _, f := range m.fills {
		out = append(out, f)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memHistory) RealizedSince(_ context.Context, since time.Time) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = since
	sum, n := decimal.Zero, 0
	for _, f := range m.fills {
		if f.Closed && f.CloseTime != nil && !f.CloseTime.Before(since) {
			sum = sum.Add(f.PnL)
			n++
		}
	}
	return sum, n, nil
}

func (m *memHistory) RecordBalance(_ context.Context, at time.Time, balance, equity decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, gormstore.BalanceSample{At: at, Balance: balance, Equity: equity})
	return nil
}

func (m *memHistory) BalanceSeries(_ context.Context, since time.Time) ([]gormstore.BalanceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gormstore.BalanceSample
	for _, s := range m.samples {
		if !s.At.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memHistory) SaveOverrides(_ context.Context, o risk.Overrides) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := o.Clone()
	m.overrides = &c
	return nil
}

type stubProfiles struct{}

func (stubProfiles) Names() []string { return []string{"calm", "tight"} }

func (stubProfiles) Apply(name string, o *risk.Overrides) (riskprofile.Preset, error) {
	if name != "tight" {
		return riskprofile.Preset{}, assert.AnError
	}
	n := 3
	o.MaxPositions = &n
	return riskprofile.Preset{MaxPositions: &n}, nil
}

func withHistory(h *memHistory) option {
	return func(_ *Config, _ *risk.Limits, deps *Deps) {
		deps.History = h
		deps.Profiles = stubProfiles{}
	}
}

func TestEngine_HistoryAndPnL(t *testing.T) {
	h := newMemHistory()
	f := newFixture(t, withHistory(h))
	f.fillBuy0()
	f.price("2650.88")
	f.tick(base.Add(2 * time.Minute))
	require.Nil(t, f.eng.Cycle())

	require.Len(t, h.cycles, 1)
	for _, c := range h.cycles {
		assert.Equal(t, "take-profit", c.Reason)
		assert.NotNil(t, c.EndTime)
		assert.Equal(t, 1, c.Fills)
	}
	require.Len(t, h.fills, 1)

	reply := f.apply(command.History{N: 10})
	assert.Contains(t, reply.Text, "Last 1 fills")
	assert.Contains(t, reply.Text, "buy #0 @ 2650.8")

	reply = f.apply(command.PnL{Period: command.PeriodToday})
	assert.Contains(t, reply.Text, "Closed trades: 1")
	assert.Contains(t, reply.Text, "Realized: 0.01")
	assert.Equal(t, at(0, 0), h.since)
}

func TestEngine_OverridesPersisted(t *testing.T) {
	h := newMemHistory()
	f := newFixture(t, withHistory(h))
	f.apply(command.SetMaxOrders{Value: 12})
	require.NotNil(t, h.overrides)
	assert.Equal(t, 12, *h.overrides.MaxOrders)

	reply := f.apply(command.Profile{})
	assert.Contains(t, reply.Text, "calm")
	assert.Contains(t, reply.Text, "tight")

	reply = f.apply(command.Profile{Name: "tight"})
	assert.NoError(t, reply.Err)
	assert.Equal(t, 3, *h.overrides.MaxPositions)
	assert.Equal(t, 12, *h.overrides.MaxOrders)

	before := f.eng.Overrides()
	reply = f.apply(command.Profile{Name: "nope"})
	assert.Error(t, reply.Err)
	assert.Equal(t, before, f.eng.Overrides(), "failed profile leaves overrides alone")
}

func TestEngine_Reports(t *testing.T) {
	f := newFixture(t, target("100"))
	assert.Contains(t, f.apply(command.Filled{}).Text, "No fills")
	assert.Contains(t, f.apply(command.Pattern{}).Text, "no pattern")
	assert.Contains(t, f.apply(command.Drawdown{}).Text, "No active cycle")
	assert.Contains(t, f.apply(command.Status{}).Text, "no active cycle")

	f.fillBuy0()
	filled := f.apply(command.Filled{}).Text
	assert.Contains(t, filled, "buy #0 @ 2650.8")
	assert.Contains(t, filled, "Pending (6)")

	pattern := f.apply(command.Pattern{}).Text
	assert.Contains(t, pattern, "Run: buy x1")
	assert.Contains(t, pattern, "Withheld next build: none")

	dd := f.apply(command.Drawdown{}).Text
	assert.Contains(t, dd, "Start balance: 10000.00")
	assert.Contains(t, dd, "Pause at: none")

	status := f.apply(command.Status{}).Text
	assert.Contains(t, status, "State: ▶️ Running")
	assert.Contains(t, status, "Pending orders: 6")
	assert.Contains(t, status, "Blackout")
	assert.Contains(t, status, "Session profit: 0.00")

	f.now = base.Add(2 * time.Minute)
	perf := f.apply(command.Metrics{}).Text
	assert.Contains(t, perf, "Performance XAUUSD")
	assert.Contains(t, perf, "Uptime: 2m0s")
	assert.Contains(t, perf, "Cycles completed: 0")
	assert.Contains(t, perf, "Fills: ")
	assert.Contains(t, perf, "% of placed")

	assert.Equal(t, command.Usage, f.apply(command.Help{}).Text)
	assert.Contains(t, f.apply(command.PnL{Period: command.PeriodWeek}).Text, "needs the history store")
	hist := f.apply(command.History{N: 5}).Text
	assert.Contains(t, hist, "current cycle")
}

func TestEngine_Chart(t *testing.T) {
	h := newMemHistory()
	f := newFixture(t, withHistory(h))
	for i := 0; i < 5; i++ {
		f.tick(base.Add(time.Duration(i) * time.Minute))
	}
	require.Len(t, h.samples, 5)

	reply := f.apply(command.Chart{Hours: 24})
	require.NoError(t, reply.Err)
	assert.Contains(t, reply.Text, "XAUUSD")
	lines := strings.Split(reply.Text, "\n")
	path := lines[len(lines)-1]
	assert.True(t, strings.HasSuffix(path, ".html"))
	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")

	f.now = base.Add(10 * time.Minute)
	body, err := f.eng.ChartHTML(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, body)

	reply = newFixture(t).apply(command.Chart{Hours: 24})
	assert.Error(t, reply.Err)
}

func TestPeriodStart(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	// Thursday
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, loc)
	cases := map[command.Period]time.Time{
		command.PeriodToday: time.Date(2026, 10, 15, 0, 0, 0, 0, loc),
		command.PeriodWeek:  time.Date(2026, 10, 12, 0, 0, 0, 0, loc),
		command.PeriodMonth: time.Date(2026, 10, 1, 0, 0, 0, 0, loc),
	}
	for p, want := range cases {
		assert.Equal(t, want, periodStart(now, p), string(p))
	}
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, loc), periodStart(sunday, command.PeriodWeek))
}
