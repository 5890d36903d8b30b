// Package engine runs the grid DCA cycle: one actor goroutine owns the cycle
// state, drives ticks from a scheduler and applies operator commands between
// ticks.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"griddca/internal/command"
	"griddca/internal/gateway/broker"
	"griddca/internal/gateway/notifier"
	"griddca/internal/grid"
	"griddca/internal/logger"
	"griddca/internal/metrics"
	"griddca/internal/risk"
	"griddca/internal/riskprofile"
	"griddca/internal/scheduler"
	"griddca/internal/store/gormstore"
	"griddca/internal/store/journal"
	"griddca/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config is the static strategy configuration.
type Config struct {
	Symbol      string
	Ladder      grid.LadderConfig
	TradeAmount decimal.Decimal
	// TargetProfit, when positive, replaces TradeAmount*TargetMultiplier.
	TargetProfit        decimal.Decimal
	TargetMultiplier    decimal.Decimal
	FillTolerance       decimal.Decimal
	ResetConfirmRetries int
	CommandBuffer       int
	StartPaused         bool
	// WithdrawalThreshold pauses the bot once session profit reaches it; zero is off.
	WithdrawalThreshold decimal.Decimal
	ChartDir            string
	ChartPNG            bool
	// SampleEvery throttles balance samples written for charts.
	SampleEvery time.Duration
}

// Notifier is the outbound half of the operator channel.
type Notifier interface {
	notifier.TextNotifier
	notifier.PhotoNotifier
}

// HistoryStore persists cycles, fills, balance samples and overrides.
type HistoryStore interface {
	SaveCycle(ctx context.Context, rec gormstore.CycleRecord) error
	SaveFill(ctx context.Context, rec gormstore.FillRecord) error
	RecentFills(ctx context.Context, n int) ([]gormstore.FillRecord, error)
	RealizedSince(ctx context.Context, since time.Time) (decimal.Decimal, int, error)
	RecordBalance(ctx context.Context, at time.Time, balance, equity decimal.Decimal) error
	BalanceSeries(ctx context.Context, since time.Time) ([]gormstore.BalanceSample, error)
	SaveOverrides(ctx context.Context, o risk.Overrides) error
}

// Journal receives every engine event.
type Journal interface {
	Append(ctx context.Context, typ string, payload any) error
}

// Profiles resolves named risk presets.
type Profiles interface {
	Names() []string
	Apply(name string, o *risk.Overrides) (riskprofile.Preset, error)
}

// Deps are the collaborators; History, Journal and Profiles may be nil.
type Deps struct {
	Broker    broker.Broker
	Notifier  Notifier
	Evaluator *risk.Evaluator
	History   HistoryStore
	Journal   Journal
	Profiles  Profiles
	Overrides risk.Overrides
	Clock     func() time.Time
}

// Reply answers one command. Quiet replies are returned to synchronous
// callers but never pushed to the notifier.
type Reply struct {
	Text  string
	Photo []byte
	Quiet bool
	Err   error
}

// Envelope carries a parsed command into the actor.
type Envelope struct {
	ID      string
	Command command.Command
	Source  string
	ReplyCh chan Reply
}

type pendingReset struct {
	reason    string
	attempts  int
	since     time.Time
	cancelled map[string]bool
}

// Engine is the cycle controller and command processor.
type Engine struct {
	cfg        Config
	broker     broker.Broker
	notifier   Notifier
	evaluator  *risk.Evaluator
	history    HistoryStore
	journal    Journal
	profiles   Profiles
	builder    *grid.Builder
	reconciler *grid.Reconciler
	pattern    *grid.PatternDetector
	clock      func() time.Time

	cmdCh chan Envelope

	// 以下字段只在 actor goroutine 内读写
	status         Status
	beforeBlackout Status
	overrides      risk.Overrides
	cycle          *grid.CycleState
	reset          *pendingReset
	waivedUntil    time.Time
	lastSkip       risk.Reason
	quietActive    bool
	lastSnap       types.AccountSnapshot
	lastDecision   risk.Decision
	lastSample     time.Time
	lastTick       time.Time
	cyclesComplete int
	startedAt      time.Time
	// sessionProfit sums cycle P&L since start or the last withdrawal.
	sessionProfit     decimal.Decimal
	withdrawalBalance decimal.Decimal

	view atomic.Value
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Broker == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("engine: risk evaluator is required")
	}
	if !cfg.TradeAmount.IsPositive() {
		return nil, fmt.Errorf("engine: trade amount must be > 0")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 32
	}
	if cfg.ResetConfirmRetries <= 0 {
		cfg.ResetConfirmRetries = 3
	}
	if !cfg.TargetMultiplier.IsPositive() {
		cfg.TargetMultiplier = decimal.NewFromInt(1000)
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = time.Minute
	}
	e := &Engine{
		cfg:        cfg,
		broker:     deps.Broker,
		notifier:   deps.Notifier,
		evaluator:  deps.Evaluator,
		history:    deps.History,
		journal:    deps.Journal,
		profiles:   deps.Profiles,
		builder:    grid.NewBuilder(cfg.Ladder),
		reconciler: grid.NewReconciler(cfg.FillTolerance),
		pattern:    grid.NewPatternDetector(),
		clock:      deps.Clock,
		cmdCh:      make(chan Envelope, cfg.CommandBuffer),
		overrides:  deps.Overrides.Clone(),
		status:     Status{Kind: Running},
		startedAt:  deps.Clock(),
	}
	if cfg.StartPaused {
		e.status = Status{Kind: PausedManual}
	}
	metrics.SetStatus(e.status.MetricName())
	e.publish()
	return e, nil
}

// Submit queues a command; its reply goes to the notifier.
func (e *Engine) Submit(cmd command.Command, source string) error {
	return e.enqueue(Envelope{ID: uuid.NewString(), Command: cmd, Source: source})
}

// SubmitSync queues a command and waits for the reply.
func (e *Engine) SubmitSync(ctx context.Context, cmd command.Command, source string) (Reply, error) {
	env := Envelope{ID: uuid.NewString(), Command: cmd, Source: source, ReplyCh: make(chan Reply, 1)}
	if err := e.enqueue(env); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-env.ReplyCh:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (e *Engine) enqueue(env Envelope) error {
	if env.Command == nil {
		return fmt.Errorf("engine: nil command")
	}
	select {
	case e.cmdCh <- env:
		return nil
	default:
		return fmt.Errorf("engine: command queue full (%d)", cap(e.cmdCh))
	}
}

// Run processes ticks and commands on a single goroutine until ctx ends.
func (e *Engine) Run(ctx context.Context, ticker scheduler.Ticker) error {
	logger.Infof("Engine started symbol=%s status=%s", e.cfg.Symbol, e.status.MetricName())
	ticks := ticker.Ticks(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Engine stopping")
			return nil
		case now, ok := <-ticks:
			if !ok {
				logger.Infof("Engine ticker closed")
				return nil
			}
			e.Tick(ctx, now)
		case env := <-e.cmdCh:
			e.handleEnvelope(ctx, env, e.clock())
			e.publish()
		}
	}
}

// Tick applies queued commands, then runs one full tick. Exported so tests
// can drive the engine without a ticker.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.drain(ctx, now)
	start := time.Now()
	outcome := "error"
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Engine panic during tick: %v", r)
			debug.PrintStack()
		}
		metrics.Ticks.WithLabelValues(outcome).Inc()
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		e.lastTick = now
		e.publish()
		if dur := time.Since(start); dur > 5*time.Second {
			logger.Warnf("Slow tick took %v", dur)
		}
	}()
	outcome = e.tick(ctx, now)
}

func (e *Engine) drain(ctx context.Context, now time.Time) {
	for {
		select {
		case env := <-e.cmdCh:
			e.handleEnvelope(ctx, env, now)
		default:
			return
		}
	}
}

func (e *Engine) handleEnvelope(ctx context.Context, env Envelope, now time.Time) {
	var reply Reply
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Engine panic handling %s: %v", env.Command.Name(), r)
			debug.PrintStack()
			reply = Reply{Text: fmt.Sprintf("❌ %s failed", env.Command.Name()), Err: fmt.Errorf("panic: %v", r)}
		}
		if env.ReplyCh != nil {
			env.ReplyCh <- reply
			close(env.ReplyCh)
			return
		}
		e.deliver(reply)
	}()
	e.record(ctx, journal.TypeCommand, map[string]any{
		"id":      env.ID,
		"command": env.Command.Name(),
		"source":  env.Source,
		"args":    env.Command,
	})
	reply = e.apply(ctx, env.Command, now)
}

func (e *Engine) deliver(r Reply) {
	if r.Quiet {
		return
	}
	if len(r.Photo) > 0 {
		if err := e.notifier.SendPhoto(r.Text, r.Photo); err != nil {
			logger.Warnf("notify photo failed: %v", err)
		}
		return
	}
	if r.Text != "" {
		e.notify(r.Text)
	}
}

func (e *Engine) notify(text string) {
	if err := e.notifier.SendText(text); err != nil {
		logger.Warnf("notify failed: %v", err)
	}
}

func (e *Engine) record(ctx context.Context, typ string, payload any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, typ, payload); err != nil {
		logger.Warnf("journal append %s failed: %v", typ, err)
	}
}

func (e *Engine) setStatus(ctx context.Context, s Status, why string) {
	if e.status == s {
		return
	}
	prev := e.status
	e.status = s
	metrics.SetStatus(s.MetricName())
	logger.Infof("Engine status %s -> %s (%s)", prev.MetricName(), s.MetricName(), why)
	e.record(ctx, journal.TypeStatus, map[string]string{"from": prev.MetricName(), "to": s.MetricName(), "reason": why})
}

// Status returns the current strategy status. Actor goroutine or tests only.
func (e *Engine) Status() Status { return e.status }

// Overrides returns a copy of the operator overrides. Actor goroutine or tests only.
func (e *Engine) Overrides() risk.Overrides { return e.overrides.Clone() }

// Cycle returns the live cycle or nil. Actor goroutine or tests only.
func (e *Engine) Cycle() *grid.CycleState { return e.cycle }

// ResetPending reports whether a take-profit reset is waiting for confirmation.
func (e *Engine) ResetPending() bool { return e.reset != nil }

// tradeAmount is the amount a new cycle starts with.
func (e *Engine) tradeAmount() decimal.Decimal {
	if e.overrides.TradeAmount != nil {
		return *e.overrides.TradeAmount
	}
	return e.cfg.TradeAmount
}

func (e *Engine) targetFor(amount decimal.Decimal) decimal.Decimal {
	if e.cfg.TargetProfit.IsPositive() {
		return e.cfg.TargetProfit
	}
	return amount.Mul(e.cfg.TargetMultiplier)
}

func (e *Engine) withdrawalThreshold() decimal.Decimal {
	if e.overrides.WithdrawalThreshold != nil {
		return *e.overrides.WithdrawalThreshold
	}
	return e.cfg.WithdrawalThreshold
}

func (e *Engine) persistOverrides(ctx context.Context) {
	if e.history == nil {
		return
	}
	if err := e.history.SaveOverrides(ctx, e.overrides); err != nil {
		logger.Warnf("save overrides failed: %v", err)
	}
}
