// Package engine drives orders through their lifecycle: it runs the risk
// chain before a send, reserves pending volume, and applies gateway
// callbacks to the live order map, the position ledgers and the rules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ftrader/internal/broker"
	"ftrader/internal/domain"
	"ftrader/internal/position"
	"ftrader/internal/risk"
)

// ErrUnknownOrder is returned for operations on an order that is not live.
var ErrUnknownOrder = errors.New("engine: order not found")

// Notifier receives the order responses destined for strategies.
type Notifier interface {
	OnOrderResponse(rsp domain.OrderResponse)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(rsp domain.OrderResponse)

func (f NotifierFunc) OnOrderResponse(rsp domain.OrderResponse) { f(rsp) }

// SendRequest is what a strategy asks the engine to send.
type SendRequest struct {
	StrategyID    string
	ClientOrderID uint32
	TickerID      uint32
	Direction     domain.Direction
	Offset        domain.Offset
	Type          domain.OrderType
	Price         float64
	Volume        int
	// WithoutCheck skips the risk chain. The order is still recorded by the
	// rules once sent.
	WithoutCheck bool
}

// Options wires an Engine.
type Options struct {
	Gateway    broker.Gateway
	Contracts  *domain.ContractTable
	Strategies []string
	Risk       risk.Config
	// Rules are appended after the chain named in Risk.Rules.
	Rules []risk.Rule

	// Notifier, OnOrder and OnPosition are optional. OnPosition is called
	// while the engine holds its risk lock and must not call back into the
	// engine.
	Notifier   Notifier
	OnOrder    func(order domain.Order)
	OnPosition position.SinkFunc

	// Now stamps orders and drives the throttle window. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Engine owns the live order map.
//
// Locking: riskMu serializes the risk chain, the position ledgers and the
// account, and is held across check, reservation and every callback's
// bookkeeping. mu guards only the order map so readers need not wait on
// riskMu. Lock order is riskMu then mu. No lock is held while calling the
// gateway, the notifier or the order observer.
type Engine struct {
	gateway   broker.Gateway
	contracts *domain.ContractTable
	positions *position.Manager
	risk      *risk.Manager
	notifier  Notifier
	onOrder   func(domain.Order)
	now       func() time.Time
	log       *slog.Logger

	nextID atomic.Uint64

	riskMu  sync.Mutex
	account domain.Account

	mu       sync.Mutex
	orders   map[uint64]*domain.Order
	byTicker map[uint32]map[uint64]*domain.Order
}

var _ broker.Listener = (*Engine)(nil)

// New builds an engine together with its position manager and risk chain.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	if opts.Contracts == nil {
		return nil, errors.New("engine: contract table is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		gateway:   opts.Gateway,
		contracts: opts.Contracts,
		notifier:  opts.Notifier,
		onOrder:   opts.OnOrder,
		now:       now,
		log:       log,
		orders:    make(map[uint64]*domain.Order),
		byTicker:  make(map[uint32]map[uint64]*domain.Order),
	}
	e.positions = position.NewManager(opts.Contracts, opts.Strategies, opts.OnPosition, log)

	rules, err := risk.NewRules(opts.Risk.Rules, &risk.Params{
		Contracts: opts.Contracts,
		Positions: e.positions,
		Orders:    e,
		Account:   &e.account,
		Config:    opts.Risk,
		Now:       now,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: building risk chain: %w", err)
	}
	e.risk = risk.NewManager(log, append(rules, opts.Rules...)...)
	return e, nil
}

// Positions exposes the position manager.
func (e *Engine) Positions() *position.Manager { return e.positions }

// ---------------------------------------------------------------------------
// Live order map
// ---------------------------------------------------------------------------

// insert adds an order to the live map. Caller must hold mu.
func (e *Engine) insert(o *domain.Order) {
	e.orders[o.Req.OrderID] = o
	m, ok := e.byTicker[o.Req.TickerID]
	if !ok {
		m = make(map[uint64]*domain.Order)
		e.byTicker[o.Req.TickerID] = m
	}
	m[o.Req.OrderID] = o
	liveOrders.Set(float64(len(e.orders)))
}

// remove drops an order from the live map. Caller must hold mu.
func (e *Engine) remove(o *domain.Order) {
	delete(e.orders, o.Req.OrderID)
	if m, ok := e.byTicker[o.Req.TickerID]; ok {
		delete(m, o.Req.OrderID)
		if len(m) == 0 {
			delete(e.byTicker, o.Req.TickerID)
		}
	}
	liveOrders.Set(float64(len(e.orders)))
}

// LiveOrders returns copies of the live orders for one instrument.
func (e *Engine) LiveOrders(tickerID uint32) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.byTicker[tickerID]
	out := make([]domain.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o.Clone())
	}
	return out
}

// AllLiveOrders returns copies of every live order.
func (e *Engine) AllLiveOrders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Clone())
	}
	return out
}

// Order returns a copy of a live order.
func (e *Engine) Order(orderID uint64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// Account returns the current account snapshot.
func (e *Engine) Account() domain.Account {
	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	return e.account
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// SendOrder checks req against the risk chain and hands it to the gateway.
// It returns the engine-assigned order id, or 0 and the reason the order
// was not sent.
func (e *Engine) SendOrder(ctx context.Context, req SendRequest) (uint64, domain.ErrorCode) {
	contract, ok := e.contracts.ByTickerID(req.TickerID)
	if !ok {
		e.log.Error("send order: contract not found", "strategy", req.StrategyID, "ticker_id", req.TickerID)
		e.rejectLocally(req, 0, domain.ErrorCodeContractNotFound)
		return 0, domain.ErrorCodeContractNotFound
	}

	order := &domain.Order{
		Req: domain.OrderRequest{
			OrderID:      e.nextID.Add(1),
			Contract:     contract,
			TickerID:     req.TickerID,
			Direction:    req.Direction,
			Offset:       req.Offset,
			Type:         req.Type,
			Price:        req.Price,
			Volume:       req.Volume,
			WithoutCheck: req.WithoutCheck,
		},
		StrategyID:    req.StrategyID,
		ClientOrderID: req.ClientOrderID,
		Status:        domain.OrderStatusSubmitting,
		InsertTime:    e.now().UnixMilli(),
	}
	id := order.Req.OrderID

	if req.Volume <= 0 || !req.Type.Valid() || req.Direction == domain.DirectionUnknown || req.Offset == domain.OffsetUnknown {
		e.log.Warn("send order: invalid request",
			"strategy", req.StrategyID, "ticker_id", req.TickerID, "direction", req.Direction,
			"offset", req.Offset, "type", req.Type, "volume", req.Volume)
		e.rejectLocally(req, id, domain.ErrorCodeInvalidRequest)
		return 0, domain.ErrorCodeInvalidRequest
	}

	// Check and reserve atomically so concurrent senders see each other.
	e.riskMu.Lock()
	if !req.WithoutCheck {
		if code := e.risk.CheckOrderRequest(order); code != domain.NoError {
			e.riskMu.Unlock()
			e.rejectLocally(req, id, code)
			return 0, code
		}
	}
	if err := e.positions.UpdatePending(req.StrategyID, req.TickerID, req.Direction, req.Offset, req.Volume); err != nil {
		e.riskMu.Unlock()
		e.log.Error("send order: reserve pending", "order_id", id, "error", err)
		e.rejectLocally(req, id, domain.ErrorCodeRejected)
		return 0, domain.ErrorCodeRejected
	}
	e.risk.OnOrderSent(order)
	snapshot := order.Clone()
	e.mu.Lock()
	e.insert(order)
	e.mu.Unlock()
	e.riskMu.Unlock()

	ordersSent.Inc()
	e.observe(snapshot)

	privdata, err := e.gateway.SendOrder(ctx, &snapshot.Req)
	if err != nil {
		e.log.Error("send order: gateway failed",
			"order_id", id, "strategy", req.StrategyID, "ticker_id", req.TickerID,
			"gateway", e.gateway.Name(), "error", err)
		e.failSend(id)
		return 0, domain.ErrorCodeSendFailed
	}

	e.mu.Lock()
	if o, ok := e.orders[id]; ok {
		o.Privdata = privdata
	}
	e.mu.Unlock()

	e.log.Debug("order sent",
		"order_id", id, "strategy", req.StrategyID, "ticker_id", req.TickerID,
		"direction", req.Direction, "offset", req.Offset, "type", req.Type,
		"price", req.Price, "volume", req.Volume)
	return id, domain.NoError
}

// rejectLocally reports an order that never reached the gateway.
func (e *Engine) rejectLocally(req SendRequest, orderID uint64, code domain.ErrorCode) {
	ordersRejected.WithLabelValues(code.String()).Inc()
	e.notify(domain.OrderResponse{
		ClientOrderID:  req.ClientOrderID,
		OrderID:        orderID,
		StrategyID:     req.StrategyID,
		TickerID:       req.TickerID,
		Direction:      req.Direction,
		Offset:         req.Offset,
		OriginalVolume: req.Volume,
		Completed:      true,
		ErrorCode:      code,
	})
}

// failSend undoes the reservation of an order whose send failed.
func (e *Engine) failSend(orderID uint64) {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		// A callback already finished it.
		e.mu.Unlock()
		e.riskMu.Unlock()
		return
	}
	e.remove(o)
	o.Status = domain.OrderStatusRejected
	snapshot := o.Clone()
	e.mu.Unlock()

	e.releasePending(&snapshot, snapshot.Remaining())
	e.risk.OnOrderRejected(&snapshot, domain.ErrorCodeSendFailed)
	e.risk.OnOrderCompleted(&snapshot)
	e.riskMu.Unlock()

	ordersRejected.WithLabelValues(domain.ErrorCodeSendFailed.String()).Inc()
	e.observe(snapshot)
	rsp := domain.NewOrderResponse(&snapshot)
	rsp.ErrorCode = domain.ErrorCodeSendFailed
	e.notify(rsp)
}

// CancelOrder asks the gateway to cancel a live order. The order stays in
// the live map until the exchange confirms.
func (e *Engine) CancelOrder(ctx context.Context, orderID uint64) error {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	var snapshot domain.Order
	if ok {
		snapshot = o.Clone()
	}
	e.mu.Unlock()
	if !ok {
		e.riskMu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownOrder, orderID)
	}
	if code := e.risk.CheckCancelRequest(&snapshot); code != domain.NoError {
		e.riskMu.Unlock()
		return code.Err()
	}
	e.riskMu.Unlock()

	if err := e.gateway.CancelOrder(ctx, orderID, snapshot.Privdata); err != nil {
		e.log.Error("cancel order: gateway failed", "order_id", orderID, "gateway", e.gateway.Name(), "error", err)
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}

	e.riskMu.Lock()
	e.risk.OnCancelRequestSent(&snapshot)
	e.riskMu.Unlock()
	return nil
}

// CancelForTicker cancels every live order on one instrument.
func (e *Engine) CancelForTicker(ctx context.Context, tickerID uint32) error {
	var errs []error
	for _, o := range e.LiveOrders(tickerID) {
		if err := e.CancelOrder(ctx, o.Req.OrderID); err != nil && !errors.Is(err, ErrUnknownOrder) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelAll cancels every live order.
func (e *Engine) CancelAll(ctx context.Context) error {
	var errs []error
	for _, o := range e.AllLiveOrders() {
		if err := e.CancelOrder(ctx, o.Req.OrderID); err != nil && !errors.Is(err, ErrUnknownOrder) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Gateway callbacks (broker.Listener)
// ---------------------------------------------------------------------------

// OnOrderAccepted marks an order as admitted by the exchange. Repeated acks
// are ignored.
func (e *Engine) OnOrderAccepted(orderID uint64) {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.Accepted {
		e.mu.Unlock()
		e.riskMu.Unlock()
		if !ok {
			e.log.Warn("accepted: unknown order", "order_id", orderID)
		}
		return
	}
	e.acceptLocked(o)
	snapshot := o.Clone()
	e.mu.Unlock()
	e.risk.OnOrderAccepted(&snapshot)
	e.riskMu.Unlock()

	e.log.Debug("order accepted", "order_id", orderID)
	e.observe(snapshot)
	e.notify(domain.NewOrderResponse(&snapshot))
}

// acceptImplied accepts an order whose fill or cancel arrived before its
// ack and returns the accepted state for the rule hooks, or nil when the
// order was already accepted. Caller must hold mu.
func (e *Engine) acceptImplied(o *domain.Order) *domain.Order {
	if o.Accepted {
		return nil
	}
	e.acceptLocked(o)
	accepted := o.Clone()
	return &accepted
}

// acceptLocked flags an order as accepted. Caller must hold mu.
func (e *Engine) acceptLocked(o *domain.Order) {
	o.Accepted = true
	if o.Status == domain.OrderStatusSubmitting {
		o.Status = domain.OrderStatusNoTraded
	}
}

// OnOrderRejected removes a rejected order and undoes its reservation.
func (e *Engine) OnOrderRejected(orderID uint64, reason string) {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		e.riskMu.Unlock()
		e.log.Warn("rejected: unknown order", "order_id", orderID, "reason", reason)
		return
	}
	e.remove(o)
	o.Status = domain.OrderStatusRejected
	snapshot := o.Clone()
	e.mu.Unlock()

	e.releasePending(&snapshot, snapshot.Remaining())
	e.risk.OnOrderRejected(&snapshot, domain.ErrorCodeRejected)
	e.risk.OnOrderCompleted(&snapshot)
	e.riskMu.Unlock()

	e.log.Warn("order rejected", "order_id", orderID, "strategy", snapshot.StrategyID,
		"ticker_id", snapshot.Req.TickerID, "reason", reason)
	ordersRejected.WithLabelValues(domain.ErrorCodeRejected.String()).Inc()
	e.observe(snapshot)
	rsp := domain.NewOrderResponse(&snapshot)
	rsp.ErrorCode = domain.ErrorCodeRejected
	e.notify(rsp)
}

// OnOrderTraded applies a fill. A fill the position calculator refuses
// leaves the order and its reservation untouched.
func (e *Engine) OnOrderTraded(orderID uint64, volume int, price float64) {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		e.riskMu.Unlock()
		e.log.Error("traded: unknown order", "order_id", orderID, "volume", volume, "price", price)
		return
	}
	if volume <= 0 || o.TradedVolume+o.CanceledVolume+volume > o.Req.Volume {
		e.mu.Unlock()
		e.riskMu.Unlock()
		e.log.Error("traded: volume out of range",
			"order_id", orderID, "volume", volume, "order_volume", o.Req.Volume,
			"traded_volume", o.TradedVolume, "canceled_volume", o.CanceledVolume)
		return
	}
	strategy, req := o.StrategyID, o.Req
	e.mu.Unlock()

	// Order state only changes under riskMu, so o is stable here.
	if err := e.positions.UpdateTraded(strategy, req.TickerID, req.Direction, req.Offset, volume, price); err != nil {
		e.riskMu.Unlock()
		e.log.Error("traded: position update refused, order left unchanged",
			"order_id", orderID, "strategy", strategy, "ticker_id", req.TickerID,
			"direction", req.Direction, "offset", req.Offset, "volume", volume, "error", err)
		return
	}

	e.mu.Lock()
	accepted := e.acceptImplied(o)
	o.TradedVolume += volume
	completed := o.Remaining() == 0
	switch {
	case !completed:
		o.Status = domain.OrderStatusPartTraded
	case o.CanceledVolume == 0:
		o.Status = domain.OrderStatusAllTraded
	default:
		o.Status = domain.OrderStatusPartCanceled
	}
	if completed {
		e.remove(o)
	}
	snapshot := o.Clone()
	e.mu.Unlock()

	if accepted != nil {
		e.risk.OnOrderAccepted(accepted)
	}
	e.risk.OnOrderTraded(&snapshot, volume, price)
	if completed {
		e.risk.OnOrderCompleted(&snapshot)
	}
	e.riskMu.Unlock()

	tradedVolume.Add(float64(volume))
	e.log.Info("order traded",
		"order_id", orderID, "strategy", snapshot.StrategyID, "ticker_id", snapshot.Req.TickerID,
		"direction", snapshot.Req.Direction, "offset", snapshot.Req.Offset,
		"volume", volume, "price", price, "traded_volume", snapshot.TradedVolume)
	e.observe(snapshot)
	rsp := domain.NewOrderResponse(&snapshot)
	rsp.ThisTraded = volume
	rsp.ThisTradedPrice = price
	e.notify(rsp)
}

// OnOrderCanceled records the canceled volume and releases its
// reservation. A second cancel-ack for the same order is ignored.
func (e *Engine) OnOrderCanceled(orderID uint64, canceled int) {
	e.riskMu.Lock()
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.CanceledVolume > 0 || canceled <= 0 {
		e.mu.Unlock()
		e.riskMu.Unlock()
		if !ok {
			e.log.Warn("canceled: unknown order", "order_id", orderID, "canceled", canceled)
		}
		return
	}
	if remaining := o.Remaining(); canceled > remaining {
		e.log.Warn("canceled: volume exceeds remainder, clamping",
			"order_id", orderID, "canceled", canceled, "remaining", remaining)
		canceled = remaining
	}
	accepted := e.acceptImplied(o)
	o.CanceledVolume = canceled
	completed := o.Remaining() == 0
	if completed {
		if o.TradedVolume == 0 {
			o.Status = domain.OrderStatusCanceled
		} else {
			o.Status = domain.OrderStatusPartCanceled
		}
		e.remove(o)
	}
	snapshot := o.Clone()
	e.mu.Unlock()

	if accepted != nil {
		e.risk.OnOrderAccepted(accepted)
	}
	e.releasePending(&snapshot, canceled)
	e.risk.OnOrderCanceled(&snapshot, canceled)
	if completed {
		e.risk.OnOrderCompleted(&snapshot)
	}
	e.riskMu.Unlock()

	e.log.Info("order canceled", "order_id", orderID, "strategy", snapshot.StrategyID,
		"canceled", canceled, "traded_volume", snapshot.TradedVolume)
	e.observe(snapshot)
	e.notify(domain.NewOrderResponse(&snapshot))
}

// OnOrderCancelRejected leaves the order untouched.
func (e *Engine) OnOrderCancelRejected(orderID uint64, reason string) {
	cancelRejected.Inc()
	e.log.Warn("cancel rejected", "order_id", orderID, "reason", reason)
}

// OnTick marks every strategy's position in the instrument to market.
func (e *Engine) OnTick(tick *domain.TickData) {
	e.riskMu.Lock()
	err := e.positions.UpdateFloatPnl(tick.TickerID, tick.BestBid(), tick.BestAsk())
	e.riskMu.Unlock()
	if err != nil {
		e.log.Error("tick: float pnl update failed", "ticker_id", tick.TickerID, "error", err)
	}
}

// releasePending returns volume of an order's reservation. Caller must
// hold riskMu.
func (e *Engine) releasePending(o *domain.Order, volume int) {
	if volume <= 0 {
		return
	}
	if err := e.positions.UpdatePending(o.StrategyID, o.Req.TickerID, o.Req.Direction, o.Req.Offset, -volume); err != nil {
		e.log.Error("release pending failed", "order_id", o.Req.OrderID, "volume", volume, "error", err)
	}
}

func (e *Engine) observe(o domain.Order) {
	if e.onOrder != nil {
		e.onOrder(o)
	}
}

func (e *Engine) notify(rsp domain.OrderResponse) {
	if e.notifier != nil {
		e.notifier.OnOrderResponse(rsp)
	}
}
