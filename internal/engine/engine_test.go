package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftrader/internal/broker"
	"ftrader/internal/domain"
	"ftrader/internal/position"
	"ftrader/internal/risk"
)

const tickerID uint32 = 1

var testContracts = domain.NewContractTable([]domain.Contract{
	{TickerID: tickerID, Ticker: "rb2410", Size: 10, LongMarginRate: 0.1, ShortMarginRate: 0.1},
})

type fakeGateway struct {
	mu        sync.Mutex
	sent      []domain.OrderRequest
	canceled  []string
	sendErr   error
	onSend    func(req *domain.OrderRequest)
	account   domain.Account
	positions []domain.Position
}

var _ broker.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Name() string { return "fake" }
func (g *fakeGateway) Login(context.Context, broker.Listener) error { return nil }
func (g *fakeGateway) Logout() error { return nil }

func (g *fakeGateway) SendOrder(_ context.Context, req *domain.OrderRequest) (string, error) {
	g.mu.Lock()
	if g.sendErr != nil {
		g.mu.Unlock()
		return "", g.sendErr
	}
	g.sent = append(g.sent, *req)
	hook := g.onSend
	g.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return fmt.Sprintf("priv-%d", req.OrderID), nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ uint64, privdata string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, privdata)
	return nil
}

func (g *fakeGateway) QueryAccount(context.Context) (domain.Account, error) { return g.account, nil }

func (g *fakeGateway) QueryPositions(context.Context) ([]domain.Position, error) {
	return g.positions, nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type recorder struct {
	mu   sync.Mutex
	rsps []domain.OrderResponse
}

func (r *recorder) OnOrderResponse(rsp domain.OrderResponse) {
	r.mu.Lock()
	r.rsps = append(r.rsps, rsp)
	r.mu.Unlock()
}

func (r *recorder) last() domain.OrderResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rsps[len(r.rsps)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, gw *fakeGateway, cfg risk.Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := New(Options{
		Gateway:    gw,
		Contracts:  testContracts,
		Strategies: []string{"grid"},
		Risk:       cfg,
		Notifier:   rec,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return e, rec
}

func buyOpen(volume int, price float64) SendRequest {
	return SendRequest{
		StrategyID: "grid",
		TickerID:   tickerID,
		Direction:  domain.DirectionBuy,
		Offset:     domain.OffsetOpen,
		Type:       domain.OrderTypeLimit,
		Price:      price,
		Volume:     volume,
	}
}

func TestSendAndFillLifecycle(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{})

	id, code := e.SendOrder(context.Background(), buyOpen(10, 100))
	require.Equal(t, domain.NoError, code)
	require.NotZero(t, id)
	assert.Equal(t, 1, gw.sentCount())

	o, ok := e.Order(id)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusSubmitting, o.Status)
	assert.Equal(t, "priv-1", o.Privdata)

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 10, pos.Long.OpenPending)

	e.OnOrderAccepted(id)
	e.OnOrderAccepted(id)
	o, _ = e.Order(id)
	assert.Equal(t, domain.OrderStatusNoTraded, o.Status)

	e.OnOrderTraded(id, 4, 100)
	o, _ = e.Order(id)
	assert.Equal(t, domain.OrderStatusPartTraded, o.Status)
	assert.Equal(t, 4, rec.last().ThisTraded)

	e.OnOrderTraded(id, 6, 102)
	_, ok = e.Order(id)
	assert.False(t, ok, "completed order leaves the live map")

	last := rec.last()
	assert.True(t, last.Completed)
	assert.Equal(t, 10, last.TradedVolume)
	assert.Equal(t, 102.0, last.ThisTradedPrice)

	pos, _ = e.Positions().Position("grid", tickerID)
	assert.Equal(t, 10, pos.Long.Holdings)
	assert.Equal(t, 0, pos.Long.OpenPending)
	assert.InDelta(t, 101.2, pos.Long.CostPrice, 1e-9)
}

func TestOverfillIgnored(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{})
	id, _ := e.SendOrder(context.Background(), buyOpen(2, 100))

	e.OnOrderTraded(id, 3, 100)
	o, ok := e.Order(id)
	require.True(t, ok)
	assert.Equal(t, 0, o.TradedVolume)
}

func TestLocalRejectNeverReachesGateway(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{Rules: []string{risk.RuleSelfTrade, risk.RulePosition}})

	_, code := e.SendOrder(context.Background(), buyOpen(1, 100.1))
	require.Equal(t, domain.NoError, code)

	sell := buyOpen(1, 99.0)
	sell.Direction = domain.DirectionSell
	id, code := e.SendOrder(context.Background(), sell)
	assert.Equal(t, domain.ErrorCodeSelfTrade, code)
	assert.Zero(t, id)
	assert.Equal(t, 1, gw.sentCount())

	last := rec.last()
	assert.True(t, last.Completed)
	assert.Equal(t, domain.ErrorCodeSelfTrade, last.ErrorCode)

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Short.OpenPending, "blocked order reserves nothing")
}

func TestCloseNeedsPosition(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{Rules: []string{risk.RulePosition}})
	require.NoError(t, e.Positions().SetPosition("grid", domain.Position{
		TickerID: tickerID,
		Long:     domain.PositionDetail{Holdings: 10, ClosePending: 3},
	}))

	req := buyOpen(8, 100)
	req.Direction = domain.DirectionSell
	req.Offset = domain.OffsetClose
	_, code := e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.ErrorCodePositionNotEnough, code)

	req.Volume = 7
	_, code = e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.NoError, code)

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 10, pos.Long.ClosePending)
}

func TestWithoutCheckBypassesRules(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{Rules: []string{risk.RulePosition}})

	req := buyOpen(1, 100)
	req.Direction = domain.DirectionSell
	req.Offset = domain.OffsetClose

	_, code := e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.ErrorCodePositionNotEnough, code)

	req.WithoutCheck = true
	id, code := e.SendOrder(context.Background(), req)
	require.Equal(t, domain.NoError, code)
	assert.Equal(t, 1, gw.sentCount())

	o, ok := e.Order(id)
	require.True(t, ok)
	assert.True(t, o.Req.WithoutCheck)
	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 1, pos.Long.ClosePending)
}

func TestInvalidRequests(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{})

	_, code := e.SendOrder(context.Background(), buyOpen(0, 100))
	assert.Equal(t, domain.ErrorCodeInvalidRequest, code)

	req := buyOpen(1, 100)
	req.TickerID = 99
	_, code = e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.ErrorCodeContractNotFound, code)

	assert.Equal(t, 0, gw.sentCount())
}

func TestSendFailedReversesReservation(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("connection reset")}
	e, rec := newTestEngine(t, gw, risk.Config{})

	id, code := e.SendOrder(context.Background(), buyOpen(5, 100))
	assert.Equal(t, domain.ErrorCodeSendFailed, code)
	assert.Zero(t, id)
	assert.Empty(t, e.AllLiveOrders())

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Long.OpenPending)
	assert.Equal(t, domain.ErrorCodeSendFailed, rec.last().ErrorCode)
}

func TestExchangeRejectReversesReservation(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{})

	id, _ := e.SendOrder(context.Background(), buyOpen(5, 100))
	e.OnOrderRejected(id, "price out of band")

	_, ok := e.Order(id)
	assert.False(t, ok)
	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Long.OpenPending)

	last := rec.last()
	assert.True(t, last.Completed)
	assert.Equal(t, domain.ErrorCodeRejected, last.ErrorCode)
}

func TestDuplicateCancelIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{})

	id, _ := e.SendOrder(context.Background(), buyOpen(10, 100))
	e.OnOrderAccepted(id)
	e.OnOrderTraded(id, 4, 100)

	e.OnOrderCanceled(id, 6)
	n := len(rec.rsps)
	e.OnOrderCanceled(id, 6)
	assert.Len(t, rec.rsps, n, "second cancel-ack must not notify")

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Long.OpenPending)
	assert.Equal(t, 4, pos.Long.Holdings)
	_, ok := e.Order(id)
	assert.False(t, ok)
}

func TestCancelOvertakesFinalFill(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{})

	id, _ := e.SendOrder(context.Background(), buyOpen(10, 100))
	e.OnOrderAccepted(id)

	e.OnOrderCanceled(id, 4)
	o, ok := e.Order(id)
	require.True(t, ok, "fill still outstanding")
	assert.Equal(t, 4, o.CanceledVolume)

	e.OnOrderTraded(id, 6, 100)
	_, ok = e.Order(id)
	assert.False(t, ok)

	last := rec.last()
	assert.True(t, last.Completed)
	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 6, pos.Long.Holdings)
	assert.Equal(t, 0, pos.Long.OpenPending)
}

func TestCancelOrder(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{})

	err := e.CancelOrder(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnknownOrder)

	id, _ := e.SendOrder(context.Background(), buyOpen(1, 100))
	require.NoError(t, e.CancelOrder(context.Background(), id))
	assert.Equal(t, []string{"priv-1"}, gw.canceled)

	_, ok := e.Order(id)
	assert.True(t, ok, "cancel request alone does not remove the order")

	e.OnOrderCancelRejected(id, "too late")
	_, ok = e.Order(id)
	assert.True(t, ok)
}

func TestCancelAll(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{})
	for i := 0; i < 3; i++ {
		_, code := e.SendOrder(context.Background(), buyOpen(1, 100))
		require.Equal(t, domain.NoError, code)
	}
	require.NoError(t, e.CancelForTicker(context.Background(), tickerID))
	assert.Len(t, gw.canceled, 3)
	require.NoError(t, e.CancelAll(context.Background()))
	assert.Len(t, gw.canceled, 6)
}

func TestSynchronousGatewayCallbacks(t *testing.T) {
	gw := &fakeGateway{}
	var e *Engine
	gw.onSend = func(req *domain.OrderRequest) {
		e.OnOrderAccepted(req.OrderID)
		e.OnOrderTraded(req.OrderID, req.Volume, req.Price)
	}

	followups := 0
	rec := NotifierFunc(func(rsp domain.OrderResponse) {
		// A strategy reacting to a fill by sending again must not deadlock.
		if rsp.Completed && rsp.ErrorCode == domain.NoError && followups == 0 {
			followups++
			e.SendOrder(context.Background(), buyOpen(1, 99))
		}
	})

	var err error
	e, err = New(Options{
		Gateway:    gw,
		Contracts:  testContracts,
		Strategies: []string{"grid"},
		Notifier:   rec,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)

	id, code := e.SendOrder(context.Background(), buyOpen(2, 100))
	require.Equal(t, domain.NoError, code)
	_, ok := e.Order(id)
	assert.False(t, ok)
	assert.Equal(t, 2, gw.sentCount())

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 3, pos.Long.Holdings)
}

func TestConcurrentSendsRespectThrottle(t *testing.T) {
	gw := &fakeGateway{}
	now := time.UnixMilli(1_000_000)
	rec := &recorder{}
	e, err := New(Options{
		Gateway:    gw,
		Contracts:  testContracts,
		Strategies: []string{"grid"},
		Risk: risk.Config{
			Rules:    []string{risk.RuleThrottleRate},
			Throttle: risk.ThrottleConfig{PeriodMS: 60_000, OrderLimit: 5},
		},
		Notifier: rec,
		Now:      func() time.Time { return now },
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.SendOrder(context.Background(), buyOpen(1, 100))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, gw.sentCount())
	assert.Len(t, e.AllLiveOrders(), 5)
	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 5, pos.Long.OpenPending)
}

func TestSyncSeedsCommonPool(t *testing.T) {
	gw := &fakeGateway{
		account: domain.Account{Cash: 5000, TotalAsset: 8000},
		positions: []domain.Position{
			{TickerID: tickerID, Long: domain.PositionDetail{Holdings: 3, CostPrice: 10}},
			{TickerID: tickerID + 1},
		},
	}
	e, _ := newTestEngine(t, gw, risk.Config{})

	require.NoError(t, e.Sync(context.Background()))
	assert.Equal(t, 5000.0, e.Account().Cash)

	pos, ok := e.Positions().Position(position.CommonPool, tickerID)
	require.True(t, ok)
	assert.Equal(t, 3, pos.Long.Holdings)

	gw.positions = append(gw.positions, domain.Position{TickerID: 77, Short: domain.PositionDetail{Holdings: 1}})
	err := e.Sync(context.Background())
	assert.ErrorIs(t, err, position.ErrContractNotFound)
}

func TestMoveSyncedPositionToStrategy(t *testing.T) {
	gw := &fakeGateway{
		positions: []domain.Position{
			{TickerID: tickerID, Long: domain.PositionDetail{Holdings: 5, CostPrice: 12}},
		},
	}
	e, _ := newTestEngine(t, gw, risk.Config{Rules: []string{risk.RulePosition}})
	require.NoError(t, e.Sync(context.Background()))

	require.NoError(t, e.MovePosition(position.CommonPool, "grid", tickerID, domain.DirectionBuy, 3))

	common, _ := e.Positions().Position(position.CommonPool, tickerID)
	assert.Equal(t, 2, common.Long.Holdings)
	grid, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 3, grid.Long.Holdings)
	assert.Equal(t, 12.0, grid.Long.CostPrice)

	// The strategy can now close what it was given, and no more.
	req := buyOpen(3, 12)
	req.Direction = domain.DirectionSell
	req.Offset = domain.OffsetClose
	_, code := e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.NoError, code)
	_, code = e.SendOrder(context.Background(), req)
	assert.Equal(t, domain.ErrorCodePositionNotEnough, code)

	err := e.MovePosition(position.CommonPool, "grid", tickerID, domain.DirectionBuy, 3)
	assert.ErrorIs(t, err, position.ErrNegativeVolume)
}

func TestOnTickMarksPositions(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, risk.Config{})
	require.NoError(t, e.Positions().SetPosition("grid", domain.Position{
		TickerID: tickerID,
		Long:     domain.PositionDetail{Holdings: 2, CostPrice: 100},
	}))

	tick := &domain.TickData{TickerID: tickerID}
	tick.BidPrice[0] = 101
	tick.AskPrice[0] = 102
	e.OnTick(tick)

	pos, _ := e.Positions().Position("grid", tickerID)
	assert.InDelta(t, 2*10*2.0, pos.Long.FloatPnl, 1e-9)
}

func TestRunAccountPollerStops(t *testing.T) {
	gw := &fakeGateway{account: domain.Account{Cash: 1}}
	e, _ := newTestEngine(t, gw, risk.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.RunAccountPoller(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Account().Cash == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRefusedCloseFillKeepsOrderAndReservation(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := newTestEngine(t, gw, risk.Config{Rules: []string{risk.RulePosition}})

	req := buyOpen(3, 10)
	req.Direction = domain.DirectionSell
	req.Offset = domain.OffsetClose
	req.WithoutCheck = true
	id, code := e.SendOrder(context.Background(), req)
	require.Equal(t, domain.NoError, code)

	// Flat holdings: the calculator refuses the close.
	e.OnOrderTraded(id, 3, 10)

	o, ok := e.Order(id)
	require.True(t, ok, "order must stay live")
	assert.Equal(t, 0, o.TradedVolume)
	assert.Equal(t, domain.OrderStatusSubmitting, o.Status)
	assert.Empty(t, rec.rsps)
	pos, _ := e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Long.Holdings)
	assert.Equal(t, 3, pos.Long.ClosePending)

	// The reservation is still released by the cancel.
	e.OnOrderCanceled(id, 3)
	_, ok = e.Order(id)
	assert.False(t, ok)
	pos, _ = e.Positions().Position("grid", tickerID)
	assert.Equal(t, 0, pos.Long.ClosePending)
}

type hookRecorder struct {
	risk.BaseRule
	calls []string
}

func (r *hookRecorder) Name() string { return "hooks" }

func (r *hookRecorder) OnOrderAccepted(o *domain.Order) {
	r.calls = append(r.calls, fmt.Sprintf("accepted %d traded=%d", o.Req.OrderID, o.TradedVolume))
}

func (r *hookRecorder) OnOrderTraded(o *domain.Order, volume int, _ float64) {
	r.calls = append(r.calls, fmt.Sprintf("traded %d %d", o.Req.OrderID, volume))
}

func (r *hookRecorder) OnOrderCanceled(o *domain.Order, canceled int) {
	r.calls = append(r.calls, fmt.Sprintf("canceled %d %d", o.Req.OrderID, canceled))
}

func TestFillOrCancelBeforeAckFiresAcceptHook(t *testing.T) {
	hooks := &hookRecorder{}
	e, err := New(Options{
		Gateway:    &fakeGateway{},
		Contracts:  testContracts,
		Strategies: []string{"grid"},
		Rules:      []risk.Rule{hooks},
		Logger:     discardLogger(),
	})
	require.NoError(t, err)

	first, code := e.SendOrder(context.Background(), buyOpen(10, 100))
	require.Equal(t, domain.NoError, code)
	second, code := e.SendOrder(context.Background(), buyOpen(5, 99))
	require.Equal(t, domain.NoError, code)

	e.OnOrderTraded(first, 4, 100)
	e.OnOrderAccepted(first) // late ack
	e.OnOrderTraded(first, 6, 100)
	e.OnOrderCanceled(second, 5)

	assert.Equal(t, []string{
		fmt.Sprintf("accepted %d traded=0", first),
		fmt.Sprintf("traded %d 4", first),
		fmt.Sprintf("traded %d 6", first),
		fmt.Sprintf("accepted %d traded=0", second),
		fmt.Sprintf("canceled %d 5", second),
	}, hooks.calls)
}
