package scheduler

import (
	"context"
	"time"

	"griddca/internal/logger"
)

// Ticker yields tick instants until ctx is done, then closes the channel.
type Ticker interface {
	Ticks(ctx context.Context) <-chan time.Time
}

// IntervalTicker fires every Interval, optionally once right away.
type IntervalTicker struct {
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewIntervalTicker(interval time.Duration, runImmediately bool) *IntervalTicker {
	return &IntervalTicker{Interval: interval, RunImmediately: runImmediately, nowFn: time.Now}
}

func (s *IntervalTicker) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	if s.Interval <= 0 {
		logger.Warnf("IntervalTicker: invalid interval=%s, clamp to 1s", s.Interval)
		s.Interval = time.Second
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("IntervalTicker: started interval=%s run_immediately=%v", s.Interval, s.RunImmediately)
	go func() {
		defer close(out)
		if s.RunImmediately && !s.emit(ctx, out) {
			return
		}
		t := time.NewTicker(s.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Infof("IntervalTicker: stopped")
				return
			case <-t.C:
				if !s.emit(ctx, out) {
					return
				}
			}
		}
	}()
	return out
}

// emit drops nothing: a slow consumer delays the next tick instead of
// stacking them.
func (s *IntervalTicker) emit(ctx context.Context, out chan<- time.Time) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- s.nowFn():
		return true
	}
}
