package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open broker position carrying the strategy tag.
type Position struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Profit     decimal.Decimal `json:"profit"`
	OpenTime   time.Time       `json:"open_time"`
}

// ClosedPosition is a position closed since the requested cutoff.
type ClosedPosition struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Profit     decimal.Decimal `json:"profit"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
}

// PendingOrder is a resting stop order.
type PendingOrder struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Comment    string          `json:"comment,omitempty"`
	Created    time.Time       `json:"created"`
}

// OrderRequest asks the broker for a stop order at Price.
type OrderRequest struct {
	Side       Side
	Price      decimal.Decimal
	Volume     decimal.Decimal
	TakeProfit decimal.Decimal
	Comment    string
}

// AccountSnapshot is the broker view of one symbol+tag.
type AccountSnapshot struct {
	Time            time.Time        `json:"time"`
	Bid             decimal.Decimal  `json:"bid"`
	Ask             decimal.Decimal  `json:"ask"`
	Spread          decimal.Decimal  `json:"spread"`
	Balance         decimal.Decimal  `json:"balance"`
	Equity          decimal.Decimal  `json:"equity"`
	FreeMargin      decimal.Decimal  `json:"free_margin"`
	Positions       []Position       `json:"positions"`
	PendingOrders   []PendingOrder   `json:"pending_orders"`
	ClosedPositions []ClosedPosition `json:"closed_positions"`
}

// Mid is the midpoint of bid and ask.
func (s AccountSnapshot) Mid() decimal.Decimal {
	return s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
}

// FloatingProfit sums unrealized profit over open positions.
func (s AccountSnapshot) FloatingProfit() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.Profit)
	}
	return total
}

func (s AccountSnapshot) PositionByID(id string) (Position, bool) {
	for _, p := range s.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}

func (s AccountSnapshot) ClosedByID(id string) (ClosedPosition, bool) {
	for _, p := range s.ClosedPositions {
		if p.ID == id {
			return p, true
		}
	}
	return ClosedPosition{}, false
}
