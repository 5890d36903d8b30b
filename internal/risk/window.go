package risk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const minutesPerDay = 24 * 60

// Window is a daily time-of-day range [Start, End) in minutes after midnight.
// End < Start wraps past midnight; Start == End is empty.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParseWindow accepts "HH-HH" or "HH:MM-HH:MM".
func ParseWindow(raw string) (Window, error) {
	raw = strings.TrimSpace(raw)
	left, right, ok := strings.Cut(raw, "-")
	if !ok {
		return Window{}, fmt.Errorf("window %q: expected HH-HH or HH:MM-HH:MM", raw)
	}
	start, err := parseClock(left)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", raw, err)
	}
	end, err := parseClock(right)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", raw, err)
	}
	return Window{Start: start, End: end}, nil
}

// ParseClock parses "HH" or "HH:MM" into minutes after midnight.
func ParseClock(raw string) (int, error) {
	return parseClock(raw)
}

func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, hasMin := strings.Cut(raw, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour %q", hh)
	}
	m := 0
	if hasMin {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 || len(mm) != 2 {
			return 0, fmt.Errorf("invalid minute %q", mm)
		}
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	return (h*60 + m) % minutesPerDay, nil
}

func (w Window) Empty() bool { return w.Start == w.End }

// Contains reports whether t's wall clock falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Empty() {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// NextEnd returns the first end boundary strictly after t, in t's location.
func (w Window) NextEnd(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	end := day.Add(time.Duration(w.End) * time.Minute)
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// WindowSetting pairs a window with an on/off switch.
type WindowSetting struct {
	Enabled bool   `json:"enabled"`
	Window  Window `json:"window"`
}

func (s WindowSetting) Active(t time.Time) bool {
	return s.Enabled && s.Window.Contains(t)
}

func (s WindowSetting) String() string {
	state := "off"
	if s.Enabled {
		state = "on"
	}
	return fmt.Sprintf("%s (%s)", state, s.Window)
}

// LoadLocation resolves the trading timezone; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
