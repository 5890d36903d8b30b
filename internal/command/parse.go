package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"griddca/internal/risk"
)

// ParseError is a malformed operator command. It never mutates state; the
// caller replies with Usage.
type ParseError struct {
	Input  string
	Reason string
	Usage  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

type parser func(args []string) (Command, error)

var verbs = map[string]parser{
	"pause":             noArgs(Pause{}),
	"resume":            noArgs(Resume{}),
	"start":             noArgs(Resume{}),
	"stop":              noArgs(Stop{}),
	"stop-at":           parseStopAt,
	"stopat":            parseStopAt,
	"panic":             parsePanic,
	"status":            noArgs(Status{}),
	"set-amount":        parseAmount,
	"setamount":         parseAmount,
	"clear-amount":      noArgs(ClearAmount{}),
	"clearamount":       noArgs(ClearAmount{}),
	"set-max-drawdown":  decimalArg(func(d decimal.Decimal) Command { return SetMaxDrawdown{Value: d} }),
	"setmaxdd":          decimalArg(func(d decimal.Decimal) Command { return SetMaxDrawdown{Value: d} }),
	"set-max-positions": intArg(func(n int) Command { return SetMaxPositions{Value: n} }),
	"setmaxpos":         intArg(func(n int) Command { return SetMaxPositions{Value: n} }),
	"set-max-orders":    intArg(func(n int) Command { return SetMaxOrders{Value: n} }),
	"setmaxorders":      intArg(func(n int) Command { return SetMaxOrders{Value: n} }),
	"set-spread":        decimalArg(func(d decimal.Decimal) Command { return SetSpread{Value: d} }),
	"setspread":         decimalArg(func(d decimal.Decimal) Command { return SetSpread{Value: d} }),
	"set-max-reduce":    decimalArg(func(d decimal.Decimal) Command { return SetMaxReduce{Value: d} }),
	"setmaxreducebalance": decimalArg(func(d decimal.Decimal) Command {
		return SetMaxReduce{Value: d}
	}),
	"set-max-exposure":    parseOptionalCap(func(d decimal.Decimal) Command { return SetMaxExposure{Value: d} }),
	"setmaxexposure":      parseOptionalCap(func(d decimal.Decimal) Command { return SetMaxExposure{Value: d} }),
	"set-withdrawal":      parseOptionalCap(func(d decimal.Decimal) Command { return SetWithdrawal{Value: d} }),
	"setwithdrawal":       parseOptionalCap(func(d decimal.Decimal) Command { return SetWithdrawal{Value: d} }),
	"withdrawal-complete": noArgs(WithdrawalComplete{}),
	"withdrawalcomplete":  noArgs(WithdrawalComplete{}),
	"set-blackout":        parseBlackout,
	"blackout":            parseBlackout,
	"quiet":               parseQuiet,
	"quiethours":          parseQuiet,
	"set-quiet":           parseQuiet,
	"halt":                parseOnOff(func(on bool) Command { return Halt{On: on} }),
	"tradinghalt":         parseOnOff(func(on bool) Command { return Halt{On: on} }),
	"history":             parseHistory,
	"pnl":                 parsePnL,
	"filled":              noArgs(Filled{}),
	"pattern":             noArgs(Pattern{}),
	"drawdown":            noArgs(Drawdown{}),
	"metrics":             noArgs(Metrics{}),
	"profile":             parseProfile,
	"chart":               parseChart,
	"balance":             parseChart,
	"help":                noArgs(Help{}),
}

const (
	defaultHistory    = 10
	defaultChartHours = 24
)

// Parse accepts an optional leading slash and a telegram @bot suffix.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil, &ParseError{Input: text, Reason: "empty command", Usage: Usage}
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		verb = verb[:at]
	}
	p, ok := verbs[verb]
	if !ok {
		return nil, &ParseError{Input: text, Reason: "unknown command " + verb, Usage: Usage}
	}
	cmd, err := p(fields[1:])
	if err != nil {
		return nil, &ParseError{Input: text, Reason: err.Error(), Usage: Usage}
	}
	return cmd, nil
}

func noArgs(c Command) parser {
	return func(args []string) (Command, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s takes no arguments", c.Name())
		}
		return c, nil
	}
}

func decimalArg(build func(decimal.Decimal) Command) parser {
	return func(args []string) (Command, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected one number")
		}
		v, err := positiveDecimal(args[0])
		if err != nil {
			return nil, err
		}
		return build(v), nil
	}
}

func intArg(build func(int) Command) parser {
	return func(args []string) (Command, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected one integer")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid count %q", args[0])
		}
		return build(n), nil
	}
}

// parseOptionalCap takes a positive number or "off" (zero).
func parseOptionalCap(build func(decimal.Decimal) Command) parser {
	return func(args []string) (Command, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected a number or off")
		}
		if strings.EqualFold(args[0], "off") {
			return build(decimal.Zero), nil
		}
		v, err := positiveDecimal(args[0])
		if err != nil {
			return nil, err
		}
		return build(v), nil
	}
}

func parseOnOff(build func(bool) Command) parser {
	return func(args []string) (Command, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected on|off")
		}
		on, err := onOff(args[0])
		if err != nil {
			return nil, err
		}
		return build(on), nil
	}
}

func onOff(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", raw)
	}
}

func positiveDecimal(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}
	return v, nil
}

func parseAmount(args []string) (Command, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: set-amount X")
	}
	v, err := positiveDecimal(args[0])
	if err != nil {
		return nil, err
	}
	return SetAmount{Amount: v}, nil
}

func parseStopAt(args []string) (Command, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: stop-at HH:MM|off")
	}
	if strings.EqualFold(args[0], "off") {
		return ClearStop{}, nil
	}
	if !strings.Contains(args[0], ":") {
		return nil, fmt.Errorf("usage: stop-at HH:MM|off")
	}
	m, err := risk.ParseClock(args[0])
	if err != nil {
		return nil, err
	}
	return StopAt{At: m}, nil
}

func parsePanic(args []string) (Command, error) {
	switch {
	case len(args) == 0:
		return Panic{}, nil
	case len(args) == 1 && strings.EqualFold(args[0], "confirm"):
		return Panic{Confirm: true}, nil
	default:
		return nil, fmt.Errorf("usage: panic [confirm]")
	}
}

func parseBlackout(args []string) (Command, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: set-blackout HH-HH|off")
	}
	if strings.EqualFold(args[0], "off") {
		return BlackoutOff{}, nil
	}
	w, err := risk.ParseWindow(args[0])
	if err != nil {
		return nil, err
	}
	return SetBlackout{Window: w}, nil
}

func parseQuiet(args []string) (Command, error) {
	switch len(args) {
	case 1:
		if on, err := onOff(args[0]); err == nil {
			return QuietToggle{On: on}, nil
		}
		w, err := risk.ParseWindow(args[0])
		if err != nil {
			return nil, err
		}
		return SetQuiet{Window: w}, nil
	case 2:
		w, err := risk.ParseWindow(args[0])
		if err != nil {
			return nil, err
		}
		f, err := positiveDecimal(args[1])
		if err != nil {
			return nil, err
		}
		if f.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("quiet factor must be within (0, 1]")
		}
		return SetQuiet{Window: w, Factor: f}, nil
	default:
		return nil, fmt.Errorf("usage: quiet on|off or quiet HH-HH [factor]")
	}
}

func parseHistory(args []string) (Command, error) {
	switch len(args) {
	case 0:
		return History{N: defaultHistory}, nil
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid count %q", args[0])
		}
		return History{N: n}, nil
	default:
		return nil, fmt.Errorf("usage: history N")
	}
}

func parsePnL(args []string) (Command, error) {
	if len(args) == 0 {
		return PnL{Period: PeriodToday}, nil
	}
	if len(args) == 1 {
		switch p := Period(strings.ToLower(args[0])); p {
		case PeriodToday, PeriodWeek, PeriodMonth:
			return PnL{Period: p}, nil
		}
	}
	return nil, fmt.Errorf("usage: pnl today|week|month")
}

func parseProfile(args []string) (Command, error) {
	switch len(args) {
	case 0:
		return Profile{}, nil
	case 1:
		return Profile{Name: args[0]}, nil
	default:
		return nil, fmt.Errorf("usage: profile [NAME]")
	}
}

func parseChart(args []string) (Command, error) {
	switch len(args) {
	case 0:
		return Chart{Hours: defaultChartHours}, nil
	case 1:
		h, err := strconv.Atoi(args[0])
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid hours %q", args[0])
		}
		return Chart{Hours: h}, nil
	default:
		return nil, fmt.Errorf("usage: chart [hours]")
	}
}

// Usage is the reply to help and to any malformed command.
const Usage = `Commands:
• pause / resume - stop or restart trading now
• stop - pause after the next take-profit reset
• stop-at HH:MM|off - pause at the first reset at or after HH:MM
• panic [confirm] - close all positions and cancel all orders
• status - engine state, cycle and limits
• set-amount X / clear-amount - trade amount for the next cycle
• set-max-drawdown X, set-max-positions N, set-max-orders N
• set-spread X, set-max-reduce X
• set-max-exposure X|off - cap on open plus new lots
• set-withdrawal X|off - pause once session profit reaches X
• withdrawal-complete - restart after moving profits out
• set-blackout HH-HH|off - no new cycles inside the window
• quiet on|off, quiet HH-HH [factor] - scale volume inside the window
• halt on|off - news trading halt window
• history N, pnl today|week|month
• filled, pattern, drawdown, metrics, chart [hours]
• profile [NAME] - list or apply a risk profile`
