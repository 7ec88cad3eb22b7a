package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ftrader/internal/domain"
)

// DefaultWriterBuffer is the channel capacity used when NewWriter is given
// a non-positive size.
const DefaultWriterBuffer = 1024

const writeTimeout = 5 * time.Second

type record struct {
	strategy string
	position *domain.Position
	order    *domain.Order
}

// Writer persists position changes and finished orders from a single
// goroutine so that engine callbacks never block on disk I/O. Records are
// dropped with an error log if the buffer is full.
type Writer struct {
	positions PositionStore
	orders    OrderStore
	log       *slog.Logger

	ch        chan record
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the writer goroutine. Either store may be nil, in which
// case records of that kind are discarded.
func NewWriter(positions PositionStore, orders OrderStore, buffer int, log *slog.Logger) *Writer {
	if buffer <= 0 {
		buffer = DefaultWriterBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		positions: positions,
		orders:    orders,
		log:       log.With("component", "store_writer"),
		ch:        make(chan record, buffer),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// RecordPosition queues a position change. Its signature matches
// position.SinkFunc.
func (w *Writer) RecordPosition(strategy string, pos domain.Position) {
	w.enqueue(record{strategy: strategy, position: &pos})
}

// RecordOrder queues an order snapshot. Only completed orders are kept;
// live orders are skipped because the engine already holds them.
func (w *Writer) RecordOrder(o domain.Order) {
	if !o.Completed() {
		return
	}
	w.enqueue(record{strategy: o.StrategyID, order: &o})
}

func (w *Writer) enqueue(r record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- r:
	default:
		w.log.Error("write buffer full, dropping record", "strategy", r.strategy)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for r := range w.ch {
		w.write(r)
	}
}

func (w *Writer) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch {
	case r.position != nil && w.positions != nil:
		if err := w.positions.SavePosition(ctx, r.strategy, *r.position); err != nil {
			w.log.Error("save position failed", "strategy", r.strategy, "ticker_id", r.position.TickerID, "error", err)
		}
	case r.order != nil && w.orders != nil:
		if err := w.orders.SaveOrder(ctx, r.order); err != nil {
			w.log.Error("save order failed", "order_id", r.order.Req.OrderID, "error", err)
		}
	}
}

// Close stops accepting records and blocks until the queued ones are
// written.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.ch)
		w.mu.Unlock()
	})
	<-w.done
	return nil
}
