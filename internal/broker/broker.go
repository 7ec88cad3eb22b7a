// Package broker defines the Gateway interface through which the engine
// reaches an exchange, and provides implementations for Alpaca and for
// backtesting against recorded ticks.
package broker

import (
	"context"
	"errors"

	"ftrader/internal/domain"
)

var (
	// ErrNotLoggedIn is returned by gateway calls made before Login.
	ErrNotLoggedIn = errors.New("broker: not logged in")
	// ErrUnknownOrder is returned when the gateway has no record of an order.
	ErrUnknownOrder = errors.New("broker: unknown order")
)

// Gateway abstracts an exchange connection. Send and cancel only report
// transport-level failures; the outcome of an order arrives later through
// the Listener passed to Login, possibly on another goroutine.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "alpaca", "backtest").
	Name() string

	// Login connects and registers the listener for order callbacks.
	Login(ctx context.Context, l Listener) error

	// Logout disconnects. No callbacks are delivered afterwards.
	Logout() error

	// SendOrder submits an order and returns an opaque handle used to
	// cancel it later.
	SendOrder(ctx context.Context, req *domain.OrderRequest) (privdata string, err error)

	// CancelOrder asks the exchange to cancel a live order.
	CancelOrder(ctx context.Context, orderID uint64, privdata string) error

	// QueryAccount returns the account snapshot.
	QueryAccount(ctx context.Context) (domain.Account, error)

	// QueryPositions returns broker-side positions.
	QueryPositions(ctx context.Context) ([]domain.Position, error)
}

// Listener receives asynchronous order and market events from a gateway.
// Implementations must be safe for concurrent use and must not call back
// into the gateway's cancel or send path while holding their own locks.
type Listener interface {
	OnOrderAccepted(orderID uint64)
	OnOrderRejected(orderID uint64, reason string)
	OnOrderTraded(orderID uint64, volume int, price float64)
	// OnOrderCanceled reports the volume removed by the cancel.
	OnOrderCanceled(orderID uint64, canceled int)
	OnOrderCancelRejected(orderID uint64, reason string)
	OnTick(tick *domain.TickData)
}
