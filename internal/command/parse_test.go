package command

import (
	"testing"

	"griddca/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Command
	}{
		{"pause", Pause{}},
		{"/resume", Resume{}},
		{"/start@grid_bot", Resume{}},
		{"stop", Stop{}},
		{"stop-at 21:30", StopAt{At: 21*60 + 30}},
		{"/stopat off", ClearStop{}},
		{"panic", Panic{}},
		{"panic confirm", Panic{Confirm: true}},
		{"STATUS", Status{}},
		{"set-max-positions 6", SetMaxPositions{Value: 6}},
		{"/setmaxorders 12", SetMaxOrders{Value: 12}},
		{"set-blackout 02-06", SetBlackout{Window: risk.Window{Start: 120, End: 360}}},
		{"blackout off", BlackoutOff{}},
		{"quiet on", QuietToggle{On: true}},
		{"/quiethours off", QuietToggle{On: false}},
		{"set-quiet 19-23", SetQuiet{Window: risk.Window{Start: 19 * 60, End: 23 * 60}}},
		{"halt on", Halt{On: true}},
		{"history", History{N: 10}},
		{"history 5", History{N: 5}},
		{"pnl", PnL{Period: PeriodToday}},
		{"pnl week", PnL{Period: PeriodWeek}},
		{"filled", Filled{}},
		{"pattern", Pattern{}},
		{"drawdown", Drawdown{}},
		{"metrics", Metrics{}},
		{"/withdrawalcomplete", WithdrawalComplete{}},
		{"set-max-exposure off", SetMaxExposure{Value: decimal.Zero}},
		{"/setwithdrawal off", SetWithdrawal{Value: decimal.Zero}},
		{"profile", Profile{}},
		{"profile conservative", Profile{Name: "conservative"}},
		{"chart", Chart{Hours: 24}},
		{"/balance 6", Chart{Hours: 6}},
		{"help", Help{}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_DecimalArguments(t *testing.T) {
	got, err := Parse("/setamount 0.25")
	require.NoError(t, err)
	amt, ok := got.(SetAmount)
	require.True(t, ok)
	assert.True(t, amt.Amount.Equal(decimal.RequireFromString("0.25")))

	got, err = Parse("quiet 20-22 0.3")
	require.NoError(t, err)
	q, ok := got.(SetQuiet)
	require.True(t, ok)
	assert.Equal(t, risk.Window{Start: 20 * 60, End: 22 * 60}, q.Window)
	assert.True(t, q.Factor.Equal(decimal.RequireFromString("0.3")))

	got, err = Parse("/setmaxexposure 2.5")
	require.NoError(t, err)
	exp, ok := got.(SetMaxExposure)
	require.True(t, ok)
	assert.True(t, exp.Value.Equal(decimal.RequireFromString("2.5")))

	got, err = Parse("set-withdrawal 500")
	require.NoError(t, err)
	w, ok := got.(SetWithdrawal)
	require.True(t, ok)
	assert.True(t, w.Value.Equal(decimal.NewFromInt(500)))

	got, err = Parse("set-max-reduce 1500")
	require.NoError(t, err)
	assert.IsType(t, SetMaxReduce{}, got)
}

func TestParse_Failures(t *testing.T) {
	for _, in := range []string{
		"",
		"dance",
		"pause now",
		"set-amount",
		"set-amount -1",
		"set-amount abc",
		"set-max-orders 0",
		"stop-at 25:00",
		"stop-at 9",
		"panic now",
		"set-blackout 2",
		"quiet 19-23 1.5",
		"pnl year",
		"history x",
		"set-max-exposure",
		"set-max-exposure 0",
		"setwithdrawal -3",
		"metrics now",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, Usage, pe.Usage)
		})
	}
}

func TestMutates(t *testing.T) {
	assert.True(t, Mutates(Pause{}))
	assert.True(t, Mutates(Panic{Confirm: true}))
	assert.False(t, Mutates(Panic{}))
	assert.False(t, Mutates(Status{}))
	assert.False(t, Mutates(Profile{}))
	assert.True(t, Mutates(Profile{Name: "x"}))
	assert.True(t, Mutates(SetMaxExposure{}))
	assert.True(t, Mutates(WithdrawalComplete{}))
	assert.False(t, Mutates(Metrics{}))
}
