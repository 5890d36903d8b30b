package grid

import (
	"sort"

	"griddca/internal/types"
)

// minGateRun is the run length that starts suppressing the opposite rung at 0.
const minGateRun = 2

// PatternDetector tracks fill sides since the last cycle reset.
type PatternDetector struct {
	// recent is most-recent-first.
	recent []FilledOrder
}

func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Observe records fills in the order they happened.
func (p *PatternDetector) Observe(fills ...FilledOrder) {
	for _, f := range fills {
		p.recent = append([]FilledOrder{f}, p.recent...)
	}
}

func (p *PatternDetector) Reset() {
	p.recent = nil
}

// Run is the identical-side prefix starting from the most recent fill.
func (p *PatternDetector) Run() ConsecutiveRun {
	if len(p.recent) == 0 {
		return ConsecutiveRun{}
	}
	run := ConsecutiveRun{Side: p.recent[0].Order.Side}
	for _, f := range p.recent {
		if f.Order.Side != run.Side {
			break
		}
		run.Length++
	}
	return run
}

// Suppressed is the one-shot gate applied to the next ladder build: a buy run
// withholds Sell@0 and a sell run withholds Buy@0.
func (p *PatternDetector) Suppressed() map[RungKey]bool {
	run := p.Run()
	if run.Length < minGateRun {
		return nil
	}
	return map[RungKey]bool{{Index: 0, Side: run.Side.Opposite()}: true}
}

// Sides returns fill sides most-recent-first.
func (p *PatternDetector) Sides() []types.Side {
	out := make([]types.Side, len(p.recent))
	for i, f := range p.recent {
		out[i] = f.Order.Side
	}
	return out
}

// PairCounts counts adjacent-index pairs among filled rungs per side.
func (p *PatternDetector) PairCounts() (buys, sells int) {
	var buyIdx, sellIdx []int
	for _, f := range p.recent {
		if f.Order.Side == types.Buy {
			buyIdx = append(buyIdx, f.Order.Index)
		} else {
			sellIdx = append(sellIdx, f.Order.Index)
		}
	}
	return adjacentPairs(buyIdx), adjacentPairs(sellIdx)
}

func adjacentPairs(idx []int) int {
	sort.Ints(idx)
	n := 0
	for i := 0; i+1 < len(idx); i++ {
		if idx[i+1] == idx[i]+1 {
			n++
		}
	}
	return n
}
