package engine

import (
	"time"

	"griddca/internal/grid"
	"griddca/internal/risk"

	"github.com/shopspring/decimal"
)

// View is a read-only copy of engine state for other goroutines.
type View struct {
	Symbol          string             `json:"symbol"`
	Status          string             `json:"status"`
	StatusAt        *time.Time         `json:"status_at,omitempty"`
	LastTick        time.Time          `json:"last_tick"`
	LastDecision    string             `json:"last_decision"`
	ResetPending    bool               `json:"reset_pending"`
	CyclesCompleted int                `json:"cycles_completed"`
	SessionProfit   decimal.Decimal    `json:"session_profit"`
	Overrides       risk.Overrides     `json:"overrides"`
	Balance         decimal.Decimal    `json:"balance"`
	Equity          decimal.Decimal    `json:"equity"`
	Cycle           *CycleView         `json:"cycle,omitempty"`
	Pending         []grid.LadderOrder `json:"pending,omitempty"`
}

type CycleView struct {
	ID           string          `json:"id"`
	Anchor       decimal.Decimal `json:"anchor"`
	Center       int             `json:"center"`
	StartTime    time.Time       `json:"start_time"`
	StartBalance decimal.Decimal `json:"start_balance"`
	TradeAmount  decimal.Decimal `json:"trade_amount"`
	TargetProfit decimal.Decimal `json:"target_profit"`
	PnL          decimal.Decimal `json:"pnl"`
	Realized     decimal.Decimal `json:"realized"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	Fills        int             `json:"fills"`
	OpenFills    int             `json:"open_fills"`
}

func (e *Engine) publish() {
	v := View{
		Symbol:          e.cfg.Symbol,
		Status:          e.status.MetricName(),
		LastTick:        e.lastTick,
		LastDecision:    e.lastDecision.String(),
		ResetPending:    e.reset != nil,
		CyclesCompleted: e.cyclesComplete,
		SessionProfit:   e.sessionProfit,
		Overrides:       e.overrides.Clone(),
		Balance:         e.lastSnap.Balance,
		Equity:          e.lastSnap.Equity,
	}
	if !e.status.At.IsZero() {
		at := e.status.At
		v.StatusAt = &at
	}
	if c := e.cycle; c != nil {
		v.Cycle = &CycleView{
			ID:           c.ID,
			Anchor:       c.Anchor,
			Center:       c.Center,
			StartTime:    c.StartTime,
			StartBalance: c.StartBalance,
			TradeAmount:  c.TradeAmount,
			TargetProfit: c.TargetProfit,
			PnL:          e.cyclePnL(e.lastSnap),
			Realized:     c.ClosedPnL,
			MaxDrawdown:  c.MaxDrawdown,
			Fills:        len(c.Filled),
			OpenFills:    len(c.OpenFills()),
		}
		for _, o := range c.SortedActive() {
			v.Pending = append(v.Pending, *o)
		}
	}
	e.view.Store(v)
}

// Snapshot returns the state published after the last tick or command.
func (e *Engine) Snapshot() View {
	v, _ := e.view.Load().(View)
	return v
}
