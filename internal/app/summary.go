package app

import (
	"fmt"
	"strings"
	"time"

	"griddca/internal/config"
	"griddca/internal/risk"
	"griddca/internal/riskprofile"
)

type StartupSummary struct {
	Grid     GridSummary
	Limits   string
	Timezone string
	Profiles []string
	Channels ChannelSummary
}

type GridSummary struct {
	Symbol       string
	Tag          int64
	TradeAmount  float64
	TargetProfit string
	Delta        float64
	PercentScale float64
	TPDistance   float64
	Radius       int
	Fibonacci    []float64
	StartPaused  bool
}

type ChannelSummary struct {
	Broker   string
	Telegram bool
	HTTPAddr string
	Store    string
	Journal  string
	Tick     time.Duration
}

func newStartupSummary(cfg *config.Config, limits risk.Limits, loc *time.Location, profiles *riskprofile.Registry, telegram bool) *StartupSummary {
	t := cfg.Trading
	target := fmt.Sprintf("%g x %g", t.TradeAmount, t.TargetProfitMultiplier)
	if t.TargetProfit > 0 {
		target = fmt.Sprintf("%g", t.TargetProfit)
	}
	s := &StartupSummary{
		Grid: GridSummary{
			Symbol:       t.Symbol,
			Tag:          t.Tag,
			TradeAmount:  t.TradeAmount,
			TargetProfit: target,
			Delta:        t.DeltaEnterPrice,
			PercentScale: t.PercentScale,
			TPDistance:   t.TakeProfitDistance,
			Radius:       t.WindowRadius,
			Fibonacci:    t.FibonacciLevels,
			StartPaused:  t.StartPaused,
		},
		Limits:   limits.Describe(),
		Timezone: loc.String(),
		Channels: ChannelSummary{
			Broker:   cfg.Broker.Mode,
			Telegram: telegram,
			HTTPAddr: cfg.App.HTTPAddr,
			Store:    cfg.Store.Path,
			Journal:  cfg.Store.JournalPath,
			Tick:     time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second,
		},
	}
	if profiles != nil {
		s.Profiles = profiles.Names()
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	g := s.Grid
	fmt.Println("[网格 (GRID)]")
	fmt.Printf("  品种: %s  tag=%d\n", g.Symbol, g.Tag)
	fmt.Printf("  手数: %g  目标利润: %s\n", g.TradeAmount, g.TargetProfit)
	fmt.Printf("  间距: %g  放大: %g%%  止盈距离: %g  半径: %d\n", g.Delta, g.PercentScale, g.TPDistance, g.Radius)
	fmt.Printf("  斐波那契: %s\n", formatFloats(g.Fibonacci))
	if g.StartPaused {
		fmt.Println("  启动状态: 暂停")
	}
	fmt.Println()

	fmt.Printf("[风控 (RISK) %s]\n", s.Timezone)
	for _, line := range strings.Split(s.Limits, "\n") {
		fmt.Printf("  %s\n", line)
	}
	fmt.Printf("  Profiles: %s\n", formatList(s.Profiles))
	fmt.Println()

	c := s.Channels
	fmt.Println("[通道 (CHANNELS)]")
	fmt.Printf("  Broker: %s  tick=%s\n", c.Broker, c.Tick)
	fmt.Printf("  Telegram: %t\n", c.Telegram)
	fmt.Printf("  HTTP: %s\n", c.HTTPAddr)
	fmt.Printf("  Store: %s  Journal: %s\n", orDash(c.Store), orDash(c.Journal))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatFloats(items []float64) string {
	parts := make([]string, 0, len(items))
	for _, f := range items {
		parts = append(parts, fmt.Sprintf("%g", f))
	}
	return formatList(parts)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
