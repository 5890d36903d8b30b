package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CycleModel is one take-profit cycle. EndTime is nil while the cycle runs.
type CycleModel struct {
	ID           string          `gorm:"column:id;primaryKey"`
	Symbol       string          `gorm:"column:symbol;index"`
	Anchor       decimal.Decimal `gorm:"column:anchor"`
	TradeAmount  decimal.Decimal `gorm:"column:trade_amount"`
	TargetProfit decimal.Decimal `gorm:"column:target_profit"`
	StartBalance decimal.Decimal `gorm:"column:start_balance"`
	EndBalance   decimal.Decimal `gorm:"column:end_balance"`
	PnL          decimal.Decimal `gorm:"column:pnl"`
	MaxDrawdown  decimal.Decimal `gorm:"column:max_drawdown"`
	Fills        int             `gorm:"column:fills"`
	Reason       string          `gorm:"column:reason"`
	StartTime    time.Time       `gorm:"column:start_time;index"`
	EndTime      *time.Time      `gorm:"column:end_time"`
}

func (CycleModel) TableName() string { return "cycles" }

// FillModel is a filled ladder order, keyed by broker position.
type FillModel struct {
	PositionID     string          `gorm:"column:position_id;primaryKey"`
	CycleID        string          `gorm:"column:cycle_id;index"`
	GridIndex      int             `gorm:"column:grid_index"`
	Side           string          `gorm:"column:side"`
	OrderID        string          `gorm:"column:order_id"`
	RequestedPrice decimal.Decimal `gorm:"column:requested_price"`
	FillPrice      decimal.Decimal `gorm:"column:fill_price"`
	Volume         decimal.Decimal `gorm:"column:volume"`
	TakeProfit     decimal.Decimal `gorm:"column:take_profit"`
	FillTime       time.Time       `gorm:"column:fill_time;index"`
	Closed         bool            `gorm:"column:closed"`
	PnL            decimal.Decimal `gorm:"column:pnl"`
	CloseTime      *time.Time      `gorm:"column:close_time;index"`
}

func (FillModel) TableName() string { return "fills" }

// OverrideModel keeps the single row of operator overrides.
type OverrideModel struct {
	ID        int            `gorm:"column:id;primaryKey"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (OverrideModel) TableName() string { return "overrides" }

// BalanceSampleModel is one balance/equity observation for charts.
type BalanceSampleModel struct {
	ID      int64           `gorm:"column:id;primaryKey;autoIncrement"`
	At      time.Time       `gorm:"column:at;index"`
	Balance decimal.Decimal `gorm:"column:balance"`
	Equity  decimal.Decimal `gorm:"column:equity"`
}

func (BalanceSampleModel) TableName() string { return "balance_samples" }
