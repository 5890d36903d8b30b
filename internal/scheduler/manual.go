package scheduler

import (
	"context"
	"time"
)

// ManualTicker lets tests decide when ticks happen.
type ManualTicker struct {
	ch chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (m *ManualTicker) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-m.ch:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Fire blocks until the tick is handed over or ctx ends.
func (m *ManualTicker) Fire(ctx context.Context, at time.Time) bool {
	select {
	case m.ch <- at:
		return true
	case <-ctx.Done():
		return false
	}
}
