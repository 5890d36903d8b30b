package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func testLimits(t *testing.T) Limits {
	t.Helper()
	blackout, err := ParseWindow("02-06")
	require.NoError(t, err)
	quiet, err := ParseWindow("19-23")
	require.NoError(t, err)
	halt, err := ParseWindow("04:30-06:15")
	require.NoError(t, err)
	return Limits{
		MaxReduceBalance: dec(2000),
		MinFreeMargin:    dec(100),
		Blackout:         WindowSetting{Enabled: true, Window: blackout},
		Quiet:            QuietSetting{Enabled: true, Window: quiet, Factor: dec(0.5)},
		Halt:             WindowSetting{Enabled: false, Window: halt},
	}
}

func healthyInput(now time.Time) Input {
	return Input{
		Now:          now,
		Equity:       dec(10000),
		FreeMargin:   dec(5000),
		Spread:       dec(0.2),
		StartBalance: dec(10000),
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
}

func TestEvaluator_Evaluate(t *testing.T) {
	ev := NewEvaluator(testLimits(t), time.UTC)

	t.Run("allow by default", func(t *testing.T) {
		d := ev.Evaluate(healthyInput(at(10, 0)), Overrides{})
		assert.Equal(t, Allow, d.Action)
		assert.Equal(t, ReasonNone, d.Reason)
		assert.True(t, d.VolumeFactor.Equal(decimal.NewFromInt(1)))
	})

	t.Run("equity protection pauses", func(t *testing.T) {
		in := healthyInput(at(10, 0))
		in.Equity = dec(8000)
		d := ev.Evaluate(in, Overrides{})
		assert.Equal(t, PauseImmediate, d.Action)
		assert.Equal(t, ReasonEquity, d.Reason)
	})

	t.Run("drawdown wins over spread", func(t *testing.T) {
		maxDD := dec(100)
		maxSpread := dec(0.1)
		in := healthyInput(at(10, 0))
		in.Equity = dec(9850)
		in.Spread = dec(0.5)
		d := ev.Evaluate(in, Overrides{MaxDrawdown: &maxDD, MaxSpread: &maxSpread})
		assert.Equal(t, PauseImmediate, d.Action)
		assert.Equal(t, ReasonDrawdown, d.Reason)
	})

	t.Run("margin skips", func(t *testing.T) {
		in := healthyInput(at(10, 0))
		in.FreeMargin = dec(50)
		d := ev.Evaluate(in, Overrides{})
		assert.Equal(t, SkipTick, d.Action)
		assert.Equal(t, ReasonMargin, d.Reason)
	})

	t.Run("spread only when set", func(t *testing.T) {
		in := healthyInput(at(10, 0))
		in.Spread = dec(3)
		assert.Equal(t, Allow, ev.Evaluate(in, Overrides{}).Action)
		maxSpread := dec(1)
		d := ev.Evaluate(in, Overrides{MaxSpread: &maxSpread})
		assert.Equal(t, ReasonSpread, d.Reason)
	})

	t.Run("capacity", func(t *testing.T) {
		maxPos := 3
		in := healthyInput(at(10, 0))
		in.OpenPositions = 3
		d := ev.Evaluate(in, Overrides{MaxPositions: &maxPos})
		assert.Equal(t, SkipTick, d.Action)
		assert.Equal(t, ReasonCapacity, d.Reason)

		maxOrders := 5
		in.OpenPositions = 0
		in.PendingOrders = 4
		assert.Equal(t, Allow, ev.Evaluate(in, Overrides{MaxOrders: &maxOrders}).Action)
	})

	t.Run("trading halt only when enabled", func(t *testing.T) {
		in := healthyInput(at(5, 0))
		in.CycleActive = true
		d := ev.Evaluate(in, Overrides{})
		assert.Equal(t, BlackoutContinue, d.Action)
		on := true
		d = ev.Evaluate(in, Overrides{HaltEnabled: &on})
		assert.Equal(t, SkipTick, d.Action)
		assert.Equal(t, ReasonHalt, d.Reason)
	})

	t.Run("blackout without cycle skips", func(t *testing.T) {
		d := ev.Evaluate(healthyInput(at(2, 15)), Overrides{})
		assert.Equal(t, SkipTick, d.Action)
		assert.Equal(t, ReasonBlackout, d.Reason)
	})

	t.Run("blackout with active cycle continues", func(t *testing.T) {
		in := healthyInput(at(2, 15))
		in.CycleActive = true
		d := ev.Evaluate(in, Overrides{})
		assert.Equal(t, BlackoutContinue, d.Action)
	})

	t.Run("blackout ends at window end", func(t *testing.T) {
		assert.Equal(t, Allow, ev.Evaluate(healthyInput(at(6, 0)), Overrides{}).Action)
	})

	t.Run("blackout waived after resume", func(t *testing.T) {
		in := healthyInput(at(3, 0))
		in.BlackoutWaived = true
		assert.Equal(t, Allow, ev.Evaluate(in, Overrides{}).Action)
	})

	t.Run("blackout override off", func(t *testing.T) {
		off := WindowSetting{Enabled: false, Window: Window{Start: 120, End: 360}}
		assert.Equal(t, Allow, ev.Evaluate(healthyInput(at(3, 0)), Overrides{Blackout: &off}).Action)
	})

	t.Run("quiet hours scale volume", func(t *testing.T) {
		d := ev.Evaluate(healthyInput(at(20, 30)), Overrides{})
		assert.Equal(t, Allow, d.Action)
		assert.Equal(t, ReasonQuiet, d.Reason)
		assert.True(t, d.VolumeFactor.Equal(dec(0.5)))
	})
}

func TestEvaluator_TimezoneConversion(t *testing.T) {
	loc, err := LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	ev := NewEvaluator(testLimits(t), loc)
	// 19:30 UTC is 02:30 in Bangkok.
	d := ev.Evaluate(healthyInput(time.Date(2024, 3, 4, 19, 30, 0, 0, time.UTC)), Overrides{})
	assert.Equal(t, ReasonBlackout, d.Reason)
}

func TestWindow(t *testing.T) {
	t.Run("parse hour form", func(t *testing.T) {
		w, err := ParseWindow("19-23")
		require.NoError(t, err)
		assert.Equal(t, Window{Start: 19 * 60, End: 23 * 60}, w)
		assert.Equal(t, "19:00-23:00", w.String())
	})

	t.Run("parse minute form", func(t *testing.T) {
		w, err := ParseWindow("04:30-06:15")
		require.NoError(t, err)
		assert.Equal(t, Window{Start: 270, End: 375}, w)
	})

	t.Run("reject garbage", func(t *testing.T) {
		for _, raw := range []string{"", "19", "25-02", "aa-bb", "02:7-03"} {
			_, err := ParseWindow(raw)
			assert.Error(t, err, raw)
		}
	})

	t.Run("wraps midnight", func(t *testing.T) {
		w, err := ParseWindow("22-02")
		require.NoError(t, err)
		assert.True(t, w.Contains(at(23, 0)))
		assert.True(t, w.Contains(at(1, 59)))
		assert.False(t, w.Contains(at(2, 0)))
		assert.False(t, w.Contains(at(12, 0)))
	})

	t.Run("next end", func(t *testing.T) {
		w := Window{Start: 120, End: 360}
		assert.Equal(t, at(6, 0), w.NextEnd(at(2, 15)))
		assert.Equal(t, at(6, 0).AddDate(0, 0, 1), w.NextEnd(at(6, 0)))
	})
}

func TestOverrides_Clone(t *testing.T) {
	amt := dec(0.2)
	n := 4
	o := Overrides{TradeAmount: &amt, MaxOrders: &n}
	c := o.Clone()
	*c.MaxOrders = 9
	*c.TradeAmount = dec(1)
	assert.Equal(t, 4, *o.MaxOrders)
	assert.True(t, o.TradeAmount.Equal(dec(0.2)))
}

func TestEvaluator_CheckExposure(t *testing.T) {
	lim := testLimits(t)
	lim.MaxExposure = dec(1)
	ev := NewEvaluator(lim, time.UTC)

	d := ev.CheckExposure(dec(0.4), dec(0.6), Overrides{})
	assert.Equal(t, Allow, d.Action, "exactly at the cap is allowed")

	d = ev.CheckExposure(dec(0.5), dec(0.6), Overrides{})
	assert.Equal(t, SkipTick, d.Action)
	assert.Equal(t, ReasonExposure, d.Reason)
	assert.Contains(t, d.Detail, "> 1")

	d = ev.CheckExposure(dec(5), decimal.Zero, Overrides{})
	assert.Equal(t, Allow, d.Action, "nothing to place, nothing to block")

	raised := dec(2)
	d = ev.CheckExposure(dec(0.5), dec(0.6), Overrides{MaxExposure: &raised})
	assert.Equal(t, Allow, d.Action)

	off := decimal.Zero
	d = ev.CheckExposure(dec(50), dec(50), Overrides{MaxExposure: &off})
	assert.Equal(t, Allow, d.Action, "zero override switches the cap off")

	assert.Contains(t, lim.Describe(), "maxExposure=1")
}
