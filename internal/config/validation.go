package config

import (
	"fmt"
	"strings"

	"griddca/internal/risk"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("trading.symbol cannot be empty")
	}
	if t.PriceDigits > 8 {
		return fmt.Errorf("trading.price_digits must be <= 8")
	}
	if t.TargetProfit < 0 {
		return fmt.Errorf("trading.target_profit must be >= 0")
	}
	if t.ProfitWithdrawalThreshold < 0 {
		return fmt.Errorf("trading.profit_withdrawal_threshold must be >= 0")
	}
	for i, f := range t.FibonacciLevels {
		if f <= 0 {
			return fmt.Errorf("trading.fibonacci_levels[%d] must be > 0", i)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDrawdown < 0 || r.MaxSpread < 0 || r.MaxPositions < 0 || r.MaxOrders < 0 || r.MaxExposure < 0 {
		return fmt.Errorf("risk caps must be >= 0")
	}
	if r.QuietFactor > 1 {
		return fmt.Errorf("risk.quiet_factor must be within (0, 1]")
	}
	for key, raw := range map[string]string{
		"risk.blackout":     r.Blackout,
		"risk.quiet_hours":  r.QuietHours,
		"risk.trading_halt": r.TradingHalt,
	} {
		if strings.TrimSpace(raw) == "" || strings.EqualFold(strings.TrimSpace(raw), "off") {
			continue
		}
		if _, err := risk.ParseWindow(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := risk.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("risk.timezone: %w", err)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Mode {
	case "paper":
		return nil
	default:
		return fmt.Errorf("broker.mode %q not supported (paper)", b.Mode)
	}
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
	}
	return nil
}
