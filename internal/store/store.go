// Package store persists positions and completed orders to SQLite and keeps
// market ticks in Parquet files for backtest replay.
package store

import (
	"context"
	"errors"

	"ftrader/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// PositionStore persists per-strategy positions.
type PositionStore interface {
	// SavePosition inserts or replaces the position of one strategy.
	SavePosition(ctx context.Context, strategy string, pos domain.Position) error

	// GetPosition returns the stored position for a strategy and ticker.
	GetPosition(ctx context.Context, strategy string, tickerID uint32) (domain.Position, error)

	// ListPositions returns all stored positions for a strategy, ordered by
	// ticker id.
	ListPositions(ctx context.Context, strategy string) ([]domain.Position, error)
}

// OrderStore persists order records.
type OrderStore interface {
	// SaveOrder inserts or replaces an order keyed by its engine order id.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its id.
	GetOrder(ctx context.Context, orderID uint64) (domain.Order, error)

	// ListOrders returns the most recent orders of a strategy, up to limit.
	// An empty strategy lists orders of every strategy.
	ListOrders(ctx context.Context, strategy string, limit int) ([]domain.Order, error)
}

// TickStore persists and retrieves level-2 ticks.
type TickStore interface {
	// WriteTicks persists a batch of ticks, merging with what is on disk.
	WriteTicks(ctx context.Context, ticks []domain.TickData) error

	// ReadTicks returns the ticks of one instrument with timestamps in
	// [startMS, endMS], ordered by timestamp.
	ReadTicks(ctx context.Context, tickerID uint32, startMS, endMS int64) ([]domain.TickData, error)
}
