package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"griddca/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperConfig seeds the in-memory simulation.
type PaperConfig struct {
	Scope        Scope
	Balance      decimal.Decimal
	Price        decimal.Decimal
	Spread       decimal.Decimal
	ContractSize decimal.Decimal
	MarginPerLot decimal.Decimal
	Now          func() time.Time
}

// Paper simulates stop orders, take-profit closes and account equity.
// Stops trigger at their own price; take profits close at the TP price.
type Paper struct {
	mu        sync.Mutex
	cfg       PaperConfig
	bid, ask  decimal.Decimal
	balance   decimal.Decimal
	orders    map[string]types.PendingOrder
	positions map[string]types.Position
	closed    []types.ClosedPosition
	faults    map[string][]error
}

func NewPaper(cfg PaperConfig) *Paper {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !cfg.ContractSize.IsPositive() {
		cfg.ContractSize = decimal.NewFromInt(1)
	}
	p := &Paper{
		cfg:       cfg,
		balance:   cfg.Balance,
		orders:    make(map[string]types.PendingOrder),
		positions: make(map[string]types.Position),
		faults:    make(map[string][]error),
	}
	p.setQuote(cfg.Price)
	return p
}

func (p *Paper) Scope() Scope { return p.cfg.Scope }

// InjectFailure makes the next calls of op ("place", "cancel", "close",
// "snapshot") return errs in order.
func (p *Paper) InjectFailure(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op] = append(p.faults[op], errs...)
}

func (p *Paper) fault(op string) error {
	q := p.faults[op]
	if len(q) == 0 {
		return nil
	}
	p.faults[op] = q[1:]
	return q[0]
}

// SetPrice moves the mid price, triggering stops and take profits it crosses.
func (p *Paper) SetPrice(mid decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setQuote(mid)
	p.match()
}

func (p *Paper) SetSpread(spread decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mid := p.bid.Add(p.ask).Div(decimal.NewFromInt(2))
	p.cfg.Spread = spread
	p.setQuote(mid)
}

// AdjustBalance books an external deposit or withdrawal.
func (p *Paper) AdjustBalance(delta decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = p.balance.Add(delta)
}

func (p *Paper) setQuote(mid decimal.Decimal) {
	half := p.cfg.Spread.Div(decimal.NewFromInt(2))
	p.bid = mid.Sub(half)
	p.ask = mid.Add(half)
}

func (p *Paper) match() {
	now := p.cfg.Now()
	for _, id := range sortedKeys(p.orders) {
		o := p.orders[id]
		triggered := (o.Side == types.Buy && p.ask.GreaterThanOrEqual(o.Price)) ||
			(o.Side == types.Sell && p.bid.LessThanOrEqual(o.Price))
		if !triggered {
			continue
		}
		delete(p.orders, id)
		pos := types.Position{
			ID:         "P-" + uuid.NewString(),
			Side:       o.Side,
			Volume:     o.Volume,
			OpenPrice:  o.Price,
			TakeProfit: o.TakeProfit,
			OpenTime:   now,
		}
		p.positions[pos.ID] = pos
	}
	for _, id := range sortedKeys(p.positions) {
		pos := p.positions[id]
		if !pos.TakeProfit.IsPositive() {
			continue
		}
		hit := (pos.Side == types.Buy && p.bid.GreaterThanOrEqual(pos.TakeProfit)) ||
			(pos.Side == types.Sell && p.ask.LessThanOrEqual(pos.TakeProfit))
		if hit {
			p.closeAt(pos, pos.TakeProfit, now)
		}
	}
}

func (p *Paper) profit(pos types.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.OpenPrice)
	if pos.Side == types.Sell {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Volume).Mul(p.cfg.ContractSize)
}

func (p *Paper) marketClose(side types.Side) decimal.Decimal {
	if side == types.Buy {
		return p.bid
	}
	return p.ask
}

func (p *Paper) closeAt(pos types.Position, price decimal.Decimal, now time.Time) decimal.Decimal {
	pnl := p.profit(pos, price)
	delete(p.positions, pos.ID)
	p.balance = p.balance.Add(pnl)
	p.closed = append(p.closed, types.ClosedPosition{
		ID:         pos.ID,
		Side:       pos.Side,
		Volume:     pos.Volume,
		OpenPrice:  pos.OpenPrice,
		ClosePrice: price,
		Profit:     pnl,
		OpenTime:   pos.OpenTime,
		CloseTime:  now,
	})
	return pnl
}

func (p *Paper) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault("place"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Transient("place", err)
	}
	if !req.Volume.IsPositive() {
		return "", Rejectedf("place", "invalid volume %s", req.Volume)
	}
	switch req.Side {
	case types.Buy:
		if req.Price.LessThanOrEqual(p.ask) {
			return "", Rejectedf("place", "invalid price: buy stop %s at or below ask %s", req.Price, p.ask)
		}
	case types.Sell:
		if req.Price.GreaterThanOrEqual(p.bid) {
			return "", Rejectedf("place", "invalid price: sell stop %s at or above bid %s", req.Price, p.bid)
		}
	default:
		return "", Rejectedf("place", "invalid side %v", req.Side)
	}
	id := "O-" + uuid.NewString()
	p.orders[id] = types.PendingOrder{
		ID:         id,
		Side:       req.Side,
		Price:      req.Price,
		Volume:     req.Volume,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
		Created:    p.cfg.Now(),
	}
	return id, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault("cancel"); err != nil {
		return err
	}
	if _, ok := p.orders[orderID]; !ok {
		return NotFoundf("cancel", "order %s not found", orderID)
	}
	delete(p.orders, orderID)
	return nil
}

func (p *Paper) ClosePosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault("close"); err != nil {
		return decimal.Zero, err
	}
	pos, ok := p.positions[positionID]
	if !ok {
		return decimal.Zero, NotFoundf("close", "position %s not found", positionID)
	}
	return p.closeAt(pos, p.marketClose(pos.Side), p.cfg.Now()), nil
}

func (p *Paper) Snapshot(ctx context.Context, since time.Time) (types.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault("snapshot"); err != nil {
		return types.AccountSnapshot{}, err
	}
	snap := types.AccountSnapshot{
		Time:    p.cfg.Now(),
		Bid:     p.bid,
		Ask:     p.ask,
		Spread:  p.ask.Sub(p.bid),
		Balance: p.balance,
	}
	floating := decimal.Zero
	usedMargin := decimal.Zero
	for _, id := range sortedKeys(p.positions) {
		pos := p.positions[id]
		pos.Profit = p.profit(pos, p.marketClose(pos.Side))
		floating = floating.Add(pos.Profit)
		usedMargin = usedMargin.Add(pos.Volume.Mul(p.cfg.MarginPerLot))
		snap.Positions = append(snap.Positions, pos)
	}
	for _, id := range sortedKeys(p.orders) {
		snap.PendingOrders = append(snap.PendingOrders, p.orders[id])
	}
	for _, c := range p.closed {
		if !c.CloseTime.Before(since) {
			snap.ClosedPositions = append(snap.ClosedPositions, c)
		}
	}
	snap.Equity = p.balance.Add(floating)
	snap.FreeMargin = snap.Equity.Sub(usedMargin)
	return snap, nil
}

func (p *Paper) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("paper[%s tag=%d bid=%s ask=%s orders=%d positions=%d]",
		strings.ToUpper(p.cfg.Scope.Symbol), p.cfg.Scope.Tag, p.bid, p.ask, len(p.orders), len(p.positions))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
