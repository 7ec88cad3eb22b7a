package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ftrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PositionStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)

// schema is applied in order on open. Statements must be idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		strategy           TEXT    NOT NULL,
		ticker_id          INTEGER NOT NULL,
		long_holdings      INTEGER NOT NULL,
		long_yd_holdings   INTEGER NOT NULL,
		long_frozen        INTEGER NOT NULL,
		long_open_pending  INTEGER NOT NULL,
		long_close_pending INTEGER NOT NULL,
		long_cost_price    REAL    NOT NULL,
		long_float_pnl     REAL    NOT NULL,
		short_holdings      INTEGER NOT NULL,
		short_yd_holdings   INTEGER NOT NULL,
		short_frozen        INTEGER NOT NULL,
		short_open_pending  INTEGER NOT NULL,
		short_close_pending INTEGER NOT NULL,
		short_cost_price    REAL    NOT NULL,
		short_float_pnl     REAL    NOT NULL,
		updated_at         INTEGER NOT NULL,
		PRIMARY KEY (strategy, ticker_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id        INTEGER PRIMARY KEY,
		strategy        TEXT    NOT NULL,
		client_order_id INTEGER NOT NULL,
		ticker_id       INTEGER NOT NULL,
		direction       INTEGER NOT NULL,
		offset_flag     INTEGER NOT NULL,
		order_type      INTEGER NOT NULL,
		price           REAL    NOT NULL,
		volume          INTEGER NOT NULL,
		traded_volume   INTEGER NOT NULL,
		canceled_volume INTEGER NOT NULL,
		status          INTEGER NOT NULL,
		privdata        TEXT    NOT NULL,
		insert_time     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders (strategy, insert_time)`,
}

// SQLiteStore implements PositionStore and OrderStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const positionColumns = `ticker_id,
	long_holdings, long_yd_holdings, long_frozen, long_open_pending, long_close_pending, long_cost_price, long_float_pnl,
	short_holdings, short_yd_holdings, short_frozen, short_open_pending, short_close_pending, short_cost_price, short_float_pnl`

// SavePosition inserts or replaces the position of one strategy.
func (s *SQLiteStore) SavePosition(ctx context.Context, strategy string, pos domain.Position) error {
	l, sh := pos.Long, pos.Short
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO positions (strategy, `+positionColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strategy, pos.TickerID,
		l.Holdings, l.YdHoldings, l.Frozen, l.OpenPending, l.ClosePending, l.CostPrice, l.FloatPnl,
		sh.Holdings, sh.YdHoldings, sh.Frozen, sh.OpenPending, sh.ClosePending, sh.CostPrice, sh.FloatPnl,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving position %s/%d: %w", strategy, pos.TickerID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	l, sh := &p.Long, &p.Short
	err := row.Scan(&p.TickerID,
		&l.Holdings, &l.YdHoldings, &l.Frozen, &l.OpenPending, &l.ClosePending, &l.CostPrice, &l.FloatPnl,
		&sh.Holdings, &sh.YdHoldings, &sh.Frozen, &sh.OpenPending, &sh.ClosePending, &sh.CostPrice, &sh.FloatPnl,
	)
	return p, err
}

// GetPosition returns the stored position for a strategy and ticker.
func (s *SQLiteStore) GetPosition(ctx context.Context, strategy string, tickerID uint32) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE strategy = ? AND ticker_id = ?`,
		strategy, tickerID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("reading position %s/%d: %w", strategy, tickerID, err)
	}
	return p, nil
}

// ListPositions returns all stored positions for a strategy.
func (s *SQLiteStore) ListPositions(ctx context.Context, strategy string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE strategy = ? ORDER BY ticker_id`,
		strategy)
	if err != nil {
		return nil, fmt.Errorf("listing positions for %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `order_id, strategy, client_order_id, ticker_id, direction, offset_flag, order_type,
	price, volume, traded_volume, canceled_volume, status, privdata, insert_time`

// SaveOrder inserts or replaces an order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Req.OrderID, o.StrategyID, o.ClientOrderID, o.Req.TickerID,
		int(o.Req.Direction), int(o.Req.Offset), int(o.Req.Type),
		o.Req.Price, o.Req.Volume, o.TradedVolume, o.CanceledVolume,
		int(o.Status), o.Privdata, o.InsertTime,
	)
	if err != nil {
		return fmt.Errorf("saving order %d: %w", o.Req.OrderID, err)
	}
	return nil
}

func scanOrder(row scanner) (domain.Order, error) {
	var (
		o                      domain.Order
		dir, offset, typ, stat int
	)
	err := row.Scan(&o.Req.OrderID, &o.StrategyID, &o.ClientOrderID, &o.Req.TickerID,
		&dir, &offset, &typ,
		&o.Req.Price, &o.Req.Volume, &o.TradedVolume, &o.CanceledVolume,
		&stat, &o.Privdata, &o.InsertTime,
	)
	o.Req.Direction = domain.Direction(dir)
	o.Req.Offset = domain.Offset(offset)
	o.Req.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(stat)
	return o, err
}

// GetOrder retrieves a single order by its id.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID uint64) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("reading order %d: %w", orderID, err)
	}
	return o, nil
}

// ListOrders returns the most recent orders of a strategy, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, strategy string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strategy == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY insert_time DESC, order_id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE strategy = ? ORDER BY insert_time DESC, order_id DESC LIMIT ?`,
			strategy, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
