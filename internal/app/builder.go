package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"griddca/internal/config"
	"griddca/internal/engine"
	"griddca/internal/gateway/broker"
	"griddca/internal/gateway/notifier"
	"griddca/internal/grid"
	"griddca/internal/logger"
	"griddca/internal/pkg/circuit"
	"griddca/internal/risk"
	"griddca/internal/riskprofile"
	"griddca/internal/scheduler"
	"griddca/internal/store/gormstore"
	"griddca/internal/store/journal"
	livehttp "griddca/internal/transport/http/live"

	"github.com/shopspring/decimal"
)

// AppBuilder 负责把配置装配成可运行的 App。各 Fn 字段便于测试替换。
type AppBuilder struct {
	cfg *config.Config

	brokerFn   func(*config.Config) (broker.Broker, error)
	historyFn  func(config.StoreConfig) (*gormstore.GormStore, error)
	journalFn  func(config.StoreConfig) (*journal.Journal, error)
	channelFn  func(config.TelegramConfig) (notifier.Channel, bool)
	profilesFn func(string) (*riskprofile.Registry, error)
	clock      func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithBroker swaps the broker factory.
func WithBroker(fn func(*config.Config) (broker.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerFn = fn }
}

// WithChannel swaps the operator channel factory.
func WithChannel(fn func(config.TelegramConfig) (notifier.Channel, bool)) AppBuilderOption {
	return func(b *AppBuilder) { b.channelFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		brokerFn:   buildBroker,
		historyFn:  openHistory,
		journalFn:  openJournal,
		channelFn:  buildChannel,
		profilesFn: loadProfiles,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	loc, err := risk.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return nil, err
	}
	limits, err := riskLimits(cfg.Risk)
	if err != nil {
		return nil, err
	}
	evaluator := risk.NewEvaluator(limits, loc)

	brk, err := b.brokerFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init broker: %w", err)
	}

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	history, err := b.historyFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	a.history = history
	var overrides risk.Overrides
	if history != nil {
		saved, found, err := history.LoadOverrides(ctx)
		if err != nil {
			logger.Warnf("load overrides failed, starting from config: %v", err)
		} else if found {
			overrides = saved
			logger.Infof("✓ Restored operator overrides")
		}
	}

	events, err := b.journalFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.journal = events

	profiles, err := b.profilesFn(cfg.Risk.ProfilesPath)
	if err != nil {
		return nil, err
	}

	channel, polling := b.channelFn(cfg.Notify.Telegram)

	deps := engine.Deps{
		Broker:    brk,
		Notifier:  channel,
		Evaluator: evaluator,
		Overrides: overrides,
		Clock:     b.clock,
	}
	// 接口字段必须保持真正的 nil
	if history != nil {
		deps.History = history
	}
	if events != nil {
		deps.Journal = events
	}
	if profiles != nil {
		deps.Profiles = profiles
	}
	eng, err := engine.New(engineConfig(cfg), deps)
	if err != nil {
		return nil, err
	}
	a.engine = eng
	a.ticker = scheduler.NewIntervalTicker(time.Duration(cfg.Engine.TickIntervalSeconds)*time.Second, true)
	if polling {
		a.commands = channel
		a.notifier = channel
		a.pollEvery = time.Duration(cfg.Notify.Telegram.PollIntervalSeconds) * time.Second
	}

	srvCfg := livehttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Engine:   eng,
		LogPaths: map[string]string{"app": cfg.App.LogPath},
	}
	if events != nil {
		srvCfg.Journal = events
	}
	if history != nil {
		srvCfg.History = history
	}
	srv, err := livehttp.NewServer(srvCfg)
	if err != nil {
		return nil, err
	}
	a.liveHTTP = srv
	a.Summary = newStartupSummary(cfg, limits, loc, profiles, polling)
	ok = true
	return a, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	t := cfg.Trading
	fib := make([]decimal.Decimal, 0, len(t.FibonacciLevels))
	for _, f := range t.FibonacciLevels {
		fib = append(fib, decimal.NewFromFloat(f))
	}
	return engine.Config{
		Symbol: t.Symbol,
		Ladder: grid.LadderConfig{
			DeltaEnterPrice:    decimal.NewFromFloat(t.DeltaEnterPrice),
			PercentScale:       decimal.NewFromFloat(t.PercentScale),
			TakeProfitDistance: decimal.NewFromFloat(t.TakeProfitDistance),
			VolumeStep:         decimal.NewFromFloat(t.VolumeStep),
			PriceDigits:        t.PriceDigits,
			Fibonacci:          fib,
			Radius:             t.WindowRadius,
		},
		TradeAmount:         decimal.NewFromFloat(t.TradeAmount),
		TargetProfit:        decimal.NewFromFloat(t.TargetProfit),
		TargetMultiplier:    decimal.NewFromFloat(t.TargetProfitMultiplier),
		FillTolerance:       decimal.NewFromFloat(t.FillPriceTolerance),
		WithdrawalThreshold: decimal.NewFromFloat(t.ProfitWithdrawalThreshold),
		ResetConfirmRetries: cfg.Engine.ResetConfirmRetries,
		CommandBuffer:       cfg.Engine.CommandBuffer,
		StartPaused:         t.StartPaused,
		ChartDir:            cfg.Chart.Dir,
		ChartPNG:            cfg.Chart.PNG,
	}
}

// riskLimits 把配置中的阈值转换为风控 Limits。空窗口或 "off" 表示关闭。
func riskLimits(rc config.RiskConfig) (risk.Limits, error) {
	blackout, err := windowSetting(rc.Blackout, rc.Blackout != "")
	if err != nil {
		return risk.Limits{}, fmt.Errorf("risk.blackout: %w", err)
	}
	quiet, err := windowSetting(rc.QuietHours, rc.QuietEnabled)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("risk.quiet_hours: %w", err)
	}
	halt, err := windowSetting(rc.TradingHalt, rc.TradingHaltEnabled)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("risk.trading_halt: %w", err)
	}
	return risk.Limits{
		MaxReduceBalance: decimal.NewFromFloat(rc.MaxReduceBalance),
		MinFreeMargin:    decimal.NewFromFloat(rc.MinFreeMargin),
		MaxDrawdown:      decimal.NewFromFloat(rc.MaxDrawdown),
		MaxPositions:     rc.MaxPositions,
		MaxOrders:        rc.MaxOrders,
		MaxSpread:        decimal.NewFromFloat(rc.MaxSpread),
		MaxExposure:      decimal.NewFromFloat(rc.MaxExposure),
		Blackout:         blackout,
		Quiet: risk.QuietSetting{
			Enabled: quiet.Enabled,
			Window:  quiet.Window,
			Factor:  decimal.NewFromFloat(rc.QuietFactor),
		},
		Halt: halt,
	}, nil
}

func windowSetting(raw string, enabled bool) (risk.WindowSetting, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "off") {
		return risk.WindowSetting{}, nil
	}
	w, err := risk.ParseWindow(raw)
	if err != nil {
		return risk.WindowSetting{}, err
	}
	return risk.WindowSetting{Enabled: enabled, Window: w}, nil
}

func buildBroker(cfg *config.Config) (broker.Broker, error) {
	var inner broker.Broker
	switch cfg.Broker.Mode {
	case "paper":
		inner = broker.NewPaper(broker.PaperConfig{
			Scope:        broker.Scope{Symbol: cfg.Trading.Symbol, Tag: cfg.Trading.Tag},
			Balance:      decimal.NewFromFloat(cfg.Broker.PaperBalance),
			Price:        decimal.NewFromFloat(cfg.Broker.PaperPrice),
			Spread:       decimal.NewFromFloat(cfg.Broker.PaperSpread),
			ContractSize: decimal.NewFromFloat(cfg.Broker.PaperLotSize),
			MarginPerLot: decimal.NewFromFloat(cfg.Broker.PaperMargin),
		})
	default:
		return nil, fmt.Errorf("broker mode %q not supported", cfg.Broker.Mode)
	}
	breaker := circuit.New("broker", cfg.Engine.BreakerThreshold, time.Duration(cfg.Engine.BreakerTimeoutSeconds)*time.Second)
	breaker.OnStateChange(func(name string, from, to circuit.State) {
		logger.Warnf("circuit %s: %s -> %s", name, from, to)
	})
	policy := broker.RetryPolicy{
		Attempts: cfg.Engine.BrokerRetries,
		Backoff:  time.Duration(cfg.Engine.BrokerRetryBackoffMs) * time.Millisecond,
	}
	logger.Infof("✓ Broker: %s (retries=%d backoff=%s)", cfg.Broker.Mode, policy.Attempts, policy.Backoff)
	return broker.NewRetrying(inner, policy, breaker), nil
}

func openHistory(sc config.StoreConfig) (*gormstore.GormStore, error) {
	if strings.TrimSpace(sc.Path) == "" {
		logger.Warnf("store.path empty, history and overrides are not persisted")
		return nil, nil
	}
	return gormstore.NewGormStore(sc.Path)
}

func openJournal(sc config.StoreConfig) (*journal.Journal, error) {
	if strings.TrimSpace(sc.JournalPath) == "" {
		return nil, nil
	}
	return journal.Open(sc.JournalPath)
}

// loadProfiles 文件不存在时不启用 profile 命令，解析失败则拒绝启动。
func loadProfiles(path string) (*riskprofile.Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("risk profiles %s not found, /profile disabled", path)
			return nil, nil
		}
		return nil, err
	}
	reg, err := riskprofile.NewRegistry(path)
	if err != nil {
		return nil, err
	}
	reg.OnChange(func(s riskprofile.Snapshot) {
		logger.Infof("risk profiles reloaded v%d (%d presets)", s.Version, len(s.Presets))
	})
	return reg, nil
}

// buildChannel returns the operator channel and whether it accepts commands.
func buildChannel(tc config.TelegramConfig) (notifier.Channel, bool) {
	if !tc.Enabled {
		logger.Infof("Telegram disabled, notifications go to the log")
		return notifier.Noop{}, false
	}
	return notifier.NewTelegram(tc.APIBase, tc.BotToken, tc.ChatID), true
}
