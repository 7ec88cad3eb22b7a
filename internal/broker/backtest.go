package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"ftrader/internal/domain"
	"ftrader/internal/orderbook"
)

// Compile-time interface check.
var _ Gateway = (*BacktestGateway)(nil)

// BacktestGateway simulates an exchange against recorded ticks. Orders that
// cross the last tick fill at the touch immediately; resting limit orders
// wait in a per-instrument order book and fill when a later tick trades
// through them. Callbacks are delivered synchronously on the caller's
// goroutine, after the gateway's own lock is released.
type BacktestGateway struct {
	contracts *domain.ContractTable
	log       *slog.Logger

	mu       sync.Mutex
	listener Listener
	books    map[uint32]*orderbook.OrderBook
	ticks    map[uint32]domain.TickData
	account  domain.Account
}

// NewBacktestGateway creates a gateway whose simulated account starts with
// the given cash.
func NewBacktestGateway(contracts *domain.ContractTable, initialCash float64, log *slog.Logger) *BacktestGateway {
	if log == nil {
		log = slog.Default()
	}
	return &BacktestGateway{
		contracts: contracts,
		log:       log,
		books:     make(map[uint32]*orderbook.OrderBook),
		ticks:     make(map[uint32]domain.TickData),
		account:   domain.Account{Cash: initialCash, TotalAsset: initialCash},
	}
}

// Name returns "backtest".
func (g *BacktestGateway) Name() string { return "backtest" }

// Login registers the listener.
func (g *BacktestGateway) Login(_ context.Context, l Listener) error {
	g.mu.Lock()
	g.listener = l
	g.mu.Unlock()
	return nil
}

// Logout drops the listener.
func (g *BacktestGateway) Logout() error {
	g.mu.Lock()
	g.listener = nil
	g.mu.Unlock()
	return nil
}

// event is a callback captured under the lock and fired after it is
// released.
type event func(l Listener)

func (g *BacktestGateway) dispatch(l Listener, events []event) {
	if l == nil {
		return
	}
	for _, ev := range events {
		ev(l)
	}
}

func (g *BacktestGateway) book(tickerID uint32) *orderbook.OrderBook {
	b, ok := g.books[tickerID]
	if !ok {
		b = orderbook.New(tickerID)
		g.books[tickerID] = b
	}
	return b
}

// SendOrder matches the order against the last tick of its instrument.
func (g *BacktestGateway) SendOrder(_ context.Context, req *domain.OrderRequest) (string, error) {
	g.mu.Lock()
	l := g.listener
	if l == nil {
		g.mu.Unlock()
		return "", ErrNotLoggedIn
	}
	if _, ok := g.contracts.ByTickerID(req.TickerID); !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("backtest: unknown ticker_id %d", req.TickerID)
	}
	events := g.match(req)
	g.mu.Unlock()

	g.dispatch(l, events)
	return strconv.FormatUint(req.OrderID, 10), nil
}

// match produces the events for a new order. Caller must hold mu.
func (g *BacktestGateway) match(req *domain.OrderRequest) []event {
	id := req.OrderID
	events := []event{func(l Listener) { l.OnOrderAccepted(id) }}

	tick := g.ticks[req.TickerID]
	touch := tick.BestAsk()
	if req.Direction == domain.DirectionSell {
		touch = tick.BestBid()
	}

	switch req.Type {
	case domain.OrderTypeMarket, domain.OrderTypeBest:
		if touch <= 0 {
			return append(events, g.cancelEvent(id, req.Volume))
		}
		return append(events, g.fill(req.TickerID, id, req.Direction, req.Volume, touch))

	case domain.OrderTypeFAK, domain.OrderTypeFOK:
		if !crossesTouch(req.Direction, req.Price, touch) {
			return append(events, g.cancelEvent(id, req.Volume))
		}
		return append(events, g.fill(req.TickerID, id, req.Direction, req.Volume, touch))

	default:
		if crossesTouch(req.Direction, req.Price, touch) {
			return append(events, g.fill(req.TickerID, id, req.Direction, req.Volume, touch))
		}
		g.book(req.TickerID).AddOrder(orderbook.NewLimitOrder(id, req.Direction, req.Price, req.Volume))
		return events
	}
}

// crossesTouch reports whether a limit price reaches the opposite touch.
func crossesTouch(dir domain.Direction, price, touch float64) bool {
	if touch <= 0 {
		return false
	}
	p, t := orderbook.DoubleToDecimalPrice(price), orderbook.DoubleToDecimalPrice(touch)
	if dir == domain.DirectionBuy {
		return p >= t
	}
	return p <= t
}

func (g *BacktestGateway) cancelEvent(id uint64, volume int) event {
	return func(l Listener) { l.OnOrderCanceled(id, volume) }
}

// fill settles cash on notional and returns the trade event. Caller must
// hold mu.
func (g *BacktestGateway) fill(tickerID uint32, id uint64, dir domain.Direction, volume int, price float64) event {
	size := 1
	if c, ok := g.contracts.ByTickerID(tickerID); ok && c.Size > 0 {
		size = c.Size
	}
	notional := price * float64(volume) * float64(size)
	if dir == domain.DirectionBuy {
		g.account.Cash -= notional
	} else {
		g.account.Cash += notional
	}
	g.account.TotalAsset = g.account.Cash
	return func(l Listener) { l.OnOrderTraded(id, volume, price) }
}

// CancelOrder removes a resting order. Orders that already filled or were
// never resting produce a cancel-reject.
func (g *BacktestGateway) CancelOrder(_ context.Context, orderID uint64, _ string) error {
	g.mu.Lock()
	l := g.listener
	if l == nil {
		g.mu.Unlock()
		return ErrNotLoggedIn
	}
	var events []event
	found := false
	for _, b := range g.books {
		if o, ok := b.Order(orderID); ok {
			b.RemoveOrder(orderID)
			events = append(events, g.cancelEvent(orderID, o.Volume))
			found = true
			break
		}
	}
	if !found {
		events = append(events, func(l Listener) { l.OnOrderCancelRejected(orderID, "order not found") })
	}
	g.mu.Unlock()

	g.dispatch(l, events)
	return nil
}

// FeedTick records a tick, fills resting orders it trades through and then
// forwards the tick to the listener.
func (g *BacktestGateway) FeedTick(tick *domain.TickData) {
	g.mu.Lock()
	l := g.listener
	g.ticks[tick.TickerID] = *tick

	var events []event
	if b, ok := g.books[tick.TickerID]; ok {
		events = g.matchResting(b, tick)
	}
	t := *tick
	events = append(events, func(l Listener) { l.OnTick(&t) })
	g.mu.Unlock()

	g.dispatch(l, events)
}

// matchResting fills every resting order priced through the new touch.
// Caller must hold mu.
func (g *BacktestGateway) matchResting(b *orderbook.OrderBook, tick *domain.TickData) []event {
	var events []event
	if ask := tick.BestAsk(); ask > 0 {
		askDec := orderbook.DoubleToDecimalPrice(ask)
		for level := b.BestBid(); level != nil && level.DecimalPrice() >= askDec; level = b.BestBid() {
			for _, o := range level.Orders() {
				events = append(events, g.fill(b.TickerID(), o.OrderID, o.Direction, o.Volume, ask))
				b.RemoveOrder(o.OrderID)
			}
		}
	}
	if bid := tick.BestBid(); bid > 0 {
		bidDec := orderbook.DoubleToDecimalPrice(bid)
		for level := b.BestAsk(); level != nil && level.DecimalPrice() <= bidDec; level = b.BestAsk() {
			for _, o := range level.Orders() {
				events = append(events, g.fill(b.TickerID(), o.OrderID, o.Direction, o.Volume, bid))
				b.RemoveOrder(o.OrderID)
			}
		}
	}
	return events
}

// QueryAccount returns the simulated account.
func (g *BacktestGateway) QueryAccount(context.Context) (domain.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account, nil
}

// QueryPositions returns nothing: a backtest starts flat.
func (g *BacktestGateway) QueryPositions(context.Context) ([]domain.Position, error) {
	return nil, nil
}

// BookSnapshot returns the resting-order depth of one instrument.
func (g *BacktestGateway) BookSnapshot(tickerID uint32) (domain.TickData, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.books[tickerID]
	if !ok {
		return domain.TickData{TickerID: tickerID}, false
	}
	var tick domain.TickData
	b.ToTick(&tick)
	return tick, true
}

// Replay feeds ticks in timestamp order. before, when set, runs ahead of
// each tick so a driver can send orders at the tick's time.
func (g *BacktestGateway) Replay(ctx context.Context, ticks []domain.TickData, before func(tick *domain.TickData)) error {
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Timestamp < ticks[j].Timestamp })

	for i := range ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if before != nil {
			before(&ticks[i])
		}
		g.FeedTick(&ticks[i])
	}
	g.log.Info("replay finished", "ticks", len(ticks))
	return nil
}
