// Package broker defines the brokerage capability the engine trades through,
// its error taxonomy and the adapters that implement it.
package broker

import (
	"context"
	"time"

	"griddca/internal/types"

	"github.com/shopspring/decimal"
)

// Broker is scoped to one symbol and one strategy tag at construction, so
// several engines can share an account without touching each other's orders.
type Broker interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	// ClosePosition returns the realized P&L of the closed position.
	ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error)
	// Snapshot lists tagged positions and pending orders plus positions
	// closed at or after since.
	Snapshot(ctx context.Context, since time.Time) (types.AccountSnapshot, error)
}

// Scope identifies whose orders a broker adapter may see.
type Scope struct {
	Symbol string
	Tag    int64
}
