package config

import (
	"math"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv               = "dev"
	defaultAppLogLevel          = "info"
	defaultAppHTTPAddr          = ":9991"
	defaultAppLogPath           = "data/logs/griddca.log"
	defaultSymbol               = "XAUUSDc"
	defaultTag                  = 234002
	defaultPriceDigits          = 3
	defaultVolumeStep           = 0.01
	defaultTradeAmount          = 0.1
	defaultDeltaEnterPrice      = 0.8
	defaultPercentScale         = 12
	defaultTakeProfitDistance   = 2.0
	defaultTargetMultiplier     = 1000
	defaultWindowRadius         = 2
	defaultMinFreeMargin        = 100
	defaultQuietHours           = "19-24" // 整点闭区间 19:00-23:59
	defaultQuietFactor          = 0.5
	defaultTradingHalt          = "04:30-06:15"
	defaultTimezone             = "Asia/Bangkok"
	defaultProfilesPath         = "configs/risk_profiles.yaml"
	defaultTickIntervalSeconds  = 1
	defaultBrokerRetries        = 3
	defaultBrokerRetryBackoffMs = 200
	defaultResetConfirmRetries  = 5
	defaultBreakerThreshold     = 5
	defaultBreakerTimeout       = 30
	defaultCommandBuffer        = 64
	defaultBrokerMode           = "paper"
	defaultPaperBalance         = 10000
	defaultPaperPrice           = 2650
	defaultPaperSpread          = 0.2
	defaultPaperMargin          = 1000
	defaultPaperContractSize    = 100
	defaultTelegramAPIBase      = "https://api.telegram.org"
	defaultTelegramPoll         = 2
	defaultStorePath            = "data/griddca.db"
	defaultJournalPath          = "data/journal.db"
	defaultChartDir             = "data/charts"

	// maxReduceBalance 缺省为 trade_amount*10*2000。
	maxReduceBalanceFactor = 10 * 2000
)

var defaultFibonacci = []float64{1, 1, 2, 2, 3, 3, 5, 5, 8, 8, 13, 13, 13, 13, 13}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys, c.Trading.TradeAmount)
	c.Engine.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Notify.Telegram.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	applyFieldDefaults(keys, stringFieldDefault("chart.dir", &c.Chart.Dir, defaultChartDir))
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.symbol", &t.Symbol, defaultSymbol),
		fieldDefault{
			key:   "trading.tag",
			need:  func() bool { return t.Tag == 0 },
			apply: func() { t.Tag = defaultTag },
		},
		fieldDefault{
			key:   "trading.price_digits",
			need:  func() bool { return t.PriceDigits <= 0 },
			apply: func() { t.PriceDigits = defaultPriceDigits },
		},
		floatFieldDefault("trading.volume_step", &t.VolumeStep, defaultVolumeStep),
		floatFieldDefault("trading.trade_amount", &t.TradeAmount, defaultTradeAmount),
		floatFieldDefault("trading.delta_enter_price", &t.DeltaEnterPrice, defaultDeltaEnterPrice),
		floatFieldDefault("trading.percent_scale", &t.PercentScale, defaultPercentScale),
		floatFieldDefault("trading.take_profit_distance", &t.TakeProfitDistance, defaultTakeProfitDistance),
		floatFieldDefault("trading.target_profit_multiplier", &t.TargetProfitMultiplier, defaultTargetMultiplier),
		fieldDefault{
			key:  "trading.fibonacci_levels",
			need: func() bool { return len(t.FibonacciLevels) == 0 },
			apply: func() {
				t.FibonacciLevels = append([]float64(nil), defaultFibonacci...)
			},
		},
		fieldDefault{
			key:   "trading.window_radius",
			need:  func() bool { return t.WindowRadius <= 0 },
			apply: func() { t.WindowRadius = defaultWindowRadius },
		},
	)
	// 容差不可由 key 控制为 0：缺省为一个最小报价单位。
	if t.FillPriceTolerance <= 0 {
		t.FillPriceTolerance = math.Pow10(-int(t.PriceDigits))
	}
}

func (r *RiskConfig) applyDefaults(keys keySet, tradeAmount float64) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_reduce_balance",
			need:  func() bool { return r.MaxReduceBalance <= 0 },
			apply: func() { r.MaxReduceBalance = tradeAmount * maxReduceBalanceFactor },
		},
		floatFieldDefault("risk.min_free_margin", &r.MinFreeMargin, defaultMinFreeMargin),
		stringFieldDefault("risk.quiet_hours", &r.QuietHours, defaultQuietHours),
		boolFieldDefault("risk.quiet_enabled", &r.QuietEnabled, true),
		floatFieldDefault("risk.quiet_factor", &r.QuietFactor, defaultQuietFactor),
		stringFieldDefault("risk.trading_halt", &r.TradingHalt, defaultTradingHalt),
		boolFieldDefault("risk.trading_halt_enabled", &r.TradingHaltEnabled, true),
		stringFieldDefault("risk.timezone", &r.Timezone, defaultTimezone),
		stringFieldDefault("risk.profiles_path", &r.ProfilesPath, defaultProfilesPath),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engine.tick_interval_seconds", &e.TickIntervalSeconds, defaultTickIntervalSeconds),
		intFieldDefault("engine.broker_retries", &e.BrokerRetries, defaultBrokerRetries),
		intFieldDefault("engine.broker_retry_backoff_ms", &e.BrokerRetryBackoffMs, defaultBrokerRetryBackoffMs),
		intFieldDefault("engine.reset_confirm_retries", &e.ResetConfirmRetries, defaultResetConfirmRetries),
		intFieldDefault("engine.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("engine.breaker_timeout_seconds", &e.BreakerTimeoutSeconds, defaultBreakerTimeout),
		intFieldDefault("engine.command_buffer", &e.CommandBuffer, defaultCommandBuffer),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		floatFieldDefault("broker.paper_balance", &b.PaperBalance, defaultPaperBalance),
		floatFieldDefault("broker.paper_price", &b.PaperPrice, defaultPaperPrice),
		floatFieldDefault("broker.paper_spread", &b.PaperSpread, defaultPaperSpread),
		floatFieldDefault("broker.paper_margin_per_lot", &b.PaperMargin, defaultPaperMargin),
		floatFieldDefault("broker.paper_contract_size", &b.PaperLotSize, defaultPaperContractSize),
	)
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
}

func (t *TelegramConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.api_base", &t.APIBase, defaultTelegramAPIBase),
		intFieldDefault("notify.telegram.poll_interval_seconds", &t.PollIntervalSeconds, defaultTelegramPoll),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only fires when the key is absent; false is a valid value.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
