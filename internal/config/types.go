package config

import "strings"

// Config 是网格引擎的主配置载体。
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Trading TradingConfig `mapstructure:"trading"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Store   StoreConfig   `mapstructure:"store"`
	Chart   ChartConfig   `mapstructure:"chart"`
}

type AppConfig struct {
	Env       string          `mapstructure:"env"`
	LogLevel  string          `mapstructure:"log_level"`
	LogPath   string          `mapstructure:"log_path"`
	LogRotate LogRotateConfig `mapstructure:"log_rotate"`
	HTTPAddr  string          `mapstructure:"http_addr"`
}

type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// TradingConfig 描述梯子几何与单周期目标。
type TradingConfig struct {
	Symbol                 string    `mapstructure:"symbol"`
	Tag                    int64     `mapstructure:"tag"`
	PriceDigits            int32     `mapstructure:"price_digits"`
	VolumeStep             float64   `mapstructure:"volume_step"`
	TradeAmount            float64   `mapstructure:"trade_amount"`
	DeltaEnterPrice        float64   `mapstructure:"delta_enter_price"`
	PercentScale           float64   `mapstructure:"percent_scale"`
	TakeProfitDistance     float64   `mapstructure:"take_profit_distance"`
	TargetProfit           float64   `mapstructure:"target_profit"`
	TargetProfitMultiplier float64   `mapstructure:"target_profit_multiplier"`
	FibonacciLevels        []float64 `mapstructure:"fibonacci_levels"`
	WindowRadius           int       `mapstructure:"window_radius"`
	FillPriceTolerance     float64   `mapstructure:"fill_price_tolerance"`
	StartPaused            bool      `mapstructure:"start_paused"`
	// ProfitWithdrawalThreshold 累计会话利润达到该值后暂停等待提现，0 为关闭。
	ProfitWithdrawalThreshold float64 `mapstructure:"profit_withdrawal_threshold"`
}

// RiskConfig 保存风控阈值的启动值，运行期由命令覆盖。
type RiskConfig struct {
	MaxReduceBalance   float64 `mapstructure:"max_reduce_balance"`
	MinFreeMargin      float64 `mapstructure:"min_free_margin"`
	MaxDrawdown        float64 `mapstructure:"max_drawdown"`
	MaxPositions       int     `mapstructure:"max_positions"`
	MaxOrders          int     `mapstructure:"max_orders"`
	MaxSpread          float64 `mapstructure:"max_spread"`
	MaxExposure        float64 `mapstructure:"max_exposure"`
	Blackout           string  `mapstructure:"blackout"`
	QuietHours         string  `mapstructure:"quiet_hours"`
	QuietEnabled       bool    `mapstructure:"quiet_enabled"`
	QuietFactor        float64 `mapstructure:"quiet_factor"`
	TradingHalt        string  `mapstructure:"trading_halt"`
	TradingHaltEnabled bool    `mapstructure:"trading_halt_enabled"`
	Timezone           string  `mapstructure:"timezone"`
	ProfilesPath       string  `mapstructure:"profiles_path"`
}

type EngineConfig struct {
	TickIntervalSeconds   int `mapstructure:"tick_interval_seconds"`
	BrokerRetries         int `mapstructure:"broker_retries"`
	BrokerRetryBackoffMs  int `mapstructure:"broker_retry_backoff_ms"`
	ResetConfirmRetries   int `mapstructure:"reset_confirm_retries"`
	BreakerThreshold      int `mapstructure:"breaker_threshold"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
	CommandBuffer         int `mapstructure:"command_buffer"`
}

// BrokerConfig 选择经纪商适配器；paper 为内存撮合。
type BrokerConfig struct {
	Mode         string  `mapstructure:"mode"`
	PaperBalance float64 `mapstructure:"paper_balance"`
	PaperPrice   float64 `mapstructure:"paper_price"`
	PaperSpread  float64 `mapstructure:"paper_spread"`
	PaperMargin  float64 `mapstructure:"paper_margin_per_lot"`
	PaperLotSize float64 `mapstructure:"paper_contract_size"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	BotToken            string `mapstructure:"bot_token"`
	ChatID              string `mapstructure:"chat_id"`
	APIBase             string `mapstructure:"api_base"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

type StoreConfig struct {
	Path        string `mapstructure:"path"`
	JournalPath string `mapstructure:"journal_path"`
}

type ChartConfig struct {
	Dir string `mapstructure:"dir"`
	PNG bool   `mapstructure:"png"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
