package grid

import (
	"sort"
	"time"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LadderConfig fixes the grid geometry for the life of the process.
type LadderConfig struct {
	DeltaEnterPrice    decimal.Decimal
	PercentScale       decimal.Decimal
	TakeProfitDistance decimal.Decimal
	VolumeStep         decimal.Decimal
	PriceDigits        int32
	Fibonacci          []decimal.Decimal
	Radius             int
}

// Builder computes ladder rungs. It never talks to the broker.
type Builder struct {
	cfg    LadderConfig
	growth decimal.Decimal
}

func NewBuilder(cfg LadderConfig) *Builder {
	if cfg.Radius <= 0 {
		cfg.Radius = 2
	}
	if len(cfg.Fibonacci) == 0 {
		cfg.Fibonacci = []decimal.Decimal{decimal.NewFromInt(1)}
	}
	return &Builder{
		cfg:    cfg,
		growth: decimal.NewFromInt(1).Add(cfg.PercentScale.Div(hundred)),
	}
}

func (b *Builder) Config() LadderConfig { return b.cfg }

// Offset is deltaEnterPrice * (1 + percentScale/100)^|i|.
func (b *Builder) Offset(index int) decimal.Decimal {
	return b.cfg.DeltaEnterPrice.Mul(b.growth.Pow(decimal.NewFromInt(int64(abs(index)))))
}

// Price is the stop price of a rung, always measured from the cycle anchor.
func (b *Builder) Price(anchor decimal.Decimal, index int, side types.Side) decimal.Decimal {
	off := b.Offset(index)
	if side == types.Sell {
		off = off.Neg()
	}
	return anchor.Add(off).Round(b.cfg.PriceDigits)
}

// Volume is amount * fib[min(|i|, len-1)], floored to the volume step.
func (b *Builder) Volume(amount decimal.Decimal, index int) decimal.Decimal {
	pos := abs(index)
	if pos > len(b.cfg.Fibonacci)-1 {
		pos = len(b.cfg.Fibonacci) - 1
	}
	v := amount.Mul(b.cfg.Fibonacci[pos])
	if b.cfg.VolumeStep.IsPositive() {
		v = v.Div(b.cfg.VolumeStep).Floor().Mul(b.cfg.VolumeStep)
	}
	return v
}

// TakeProfit sits takeProfitDistance beyond the entry in the order's direction.
func (b *Builder) TakeProfit(entry decimal.Decimal, side types.Side) decimal.Decimal {
	d := b.cfg.TakeProfitDistance
	if side == types.Sell {
		d = d.Neg()
	}
	return entry.Add(d).Round(b.cfg.PriceDigits)
}

// Rung computes one ladder order; ok is false when the volume rounds to zero.
func (b *Builder) Rung(anchor, amount decimal.Decimal, key RungKey) (LadderOrder, bool) {
	vol := b.Volume(amount, key.Index)
	if !vol.IsPositive() {
		return LadderOrder{}, false
	}
	price := b.Price(anchor, key.Index, key.Side)
	return LadderOrder{
		Index:          key.Index,
		Side:           key.Side,
		RequestedPrice: price,
		Volume:         vol,
		TakeProfit:     b.TakeProfit(price, key.Side),
	}, true
}

// Window lists the rungs kept live around center. Buy stops sit at i >= 0
// and sell stops at i <= 0, so index 0 carries both.
func (b *Builder) Window(center int) []RungKey {
	r := b.cfg.Radius
	buyFrom := max(center, 0)
	sellFrom := min(center, 0)
	keys := make([]RungKey, 0, 2*(r+1))
	for i := buyFrom; i <= buyFrom+r; i++ {
		keys = append(keys, RungKey{Index: i, Side: types.Buy})
	}
	for i := sellFrom; i >= sellFrom-r; i-- {
		keys = append(keys, RungKey{Index: i, Side: types.Sell})
	}
	return keys
}

// NextCenter shifts the window one rung past a fill in its direction.
func NextCenter(fill RungKey) int {
	if fill.Side == types.Buy {
		return fill.Index + 1
	}
	return fill.Index - 1
}

// BuildRequest describes one ladder build.
type BuildRequest struct {
	Anchor     decimal.Decimal
	Amount     decimal.Decimal
	Center     int
	Occupied   map[RungKey]bool
	Suppressed map[RungKey]bool
	Now        time.Time
}

// Build returns the missing rungs of the window, buys first, nearest first.
func (b *Builder) Build(req BuildRequest) []LadderOrder {
	keys := b.Window(req.Center)
	sort.SliceStable(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	out := make([]LadderOrder, 0, len(keys))
	for _, key := range keys {
		if req.Occupied[key] || req.Suppressed[key] {
			continue
		}
		o, ok := b.Rung(req.Anchor, req.Amount, key)
		if !ok {
			continue
		}
		o.PlacedAt = req.Now
		out = append(out, o)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
