package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"ftrader/internal/domain"
)

var testContracts = domain.NewContractTable([]domain.Contract{
	{TickerID: 1, Ticker: "AAPL", Size: 1},
	{TickerID: 2, Ticker: "TSLA", Size: 1},
})

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestStore(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	// Re-applying the schema must be harmless.
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStorePositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pos := domain.Position{
		TickerID: 2,
		Long:     domain.PositionDetail{Holdings: 8, YdHoldings: 3, ClosePending: 1, CostPrice: 150, FloatPnl: 12.5},
		Short:    domain.PositionDetail{OpenPending: 4},
	}
	if err := s.SavePosition(ctx, "alpha", pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	if err := s.SavePosition(ctx, "alpha", domain.Position{TickerID: 1}); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	got, err := s.GetPosition(ctx, "alpha", 2)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got != pos {
		t.Errorf("GetPosition = %+v, want %+v", got, pos)
	}

	// Replace.
	pos.Long.Holdings = 5
	if err := s.SavePosition(ctx, "alpha", pos); err != nil {
		t.Fatalf("SavePosition (replace): %v", err)
	}
	list, err := s.ListPositions(ctx, "alpha")
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(list) != 2 || list[0].TickerID != 1 || list[1].Long.Holdings != 5 {
		t.Errorf("ListPositions = %+v", list)
	}

	if _, err := s.GetPosition(ctx, "beta", 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPosition(beta) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orders := []domain.Order{
		{
			Req: domain.OrderRequest{
				OrderID: 1, TickerID: 1, Direction: domain.DirectionBuy, Offset: domain.OffsetOpen,
				Type: domain.OrderTypeLimit, Price: 187.5, Volume: 10,
			},
			StrategyID: "alpha", ClientOrderID: 7, Status: domain.OrderStatusAllTraded,
			TradedVolume: 10, Privdata: "abc", InsertTime: 1000,
		},
		{
			Req:        domain.OrderRequest{OrderID: 2, TickerID: 2, Direction: domain.DirectionSell, Offset: domain.OffsetClose, Volume: 3},
			StrategyID: "beta", Status: domain.OrderStatusCanceled, CanceledVolume: 3, InsertTime: 2000,
		},
		{
			Req:        domain.OrderRequest{OrderID: 3, TickerID: 1, Volume: 1},
			StrategyID: "alpha", Status: domain.OrderStatusRejected, InsertTime: 3000,
		},
	}
	for i := range orders {
		if err := s.SaveOrder(ctx, &orders[i]); err != nil {
			t.Fatalf("SaveOrder(%d): %v", i, err)
		}
	}

	got, err := s.GetOrder(ctx, 1)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got != orders[0] {
		t.Errorf("GetOrder = %+v, want %+v", got, orders[0])
	}

	alpha, err := s.ListOrders(ctx, "alpha", 0)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(alpha) != 2 || alpha[0].Req.OrderID != 3 || alpha[1].Req.OrderID != 1 {
		t.Errorf("ListOrders(alpha) ids = %+v, want [3 1]", alpha)
	}

	all, err := s.ListOrders(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 2 || all[0].Req.OrderID != 3 || all[1].Req.OrderID != 2 {
		t.Errorf("ListOrders(all, 2) = %+v", all)
	}

	if _, err := s.GetOrder(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(99) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()
	s := &SQLiteStore{db: db}
	ctx := context.Background()
	dbErr := errors.New("disk I/O error")

	mock.ExpectExec(`INSERT OR REPLACE INTO positions`).WillReturnError(dbErr)
	if err := s.SavePosition(ctx, "alpha", domain.Position{TickerID: 1}); !errors.Is(err, dbErr) {
		t.Errorf("SavePosition err = %v, want wrapped %v", err, dbErr)
	}

	mock.ExpectExec(`INSERT OR REPLACE INTO orders`).WillReturnError(dbErr)
	if err := s.SaveOrder(ctx, &domain.Order{}); !errors.Is(err, dbErr) {
		t.Errorf("SaveOrder err = %v, want wrapped %v", err, dbErr)
	}

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE strategy = \?`).WillReturnError(dbErr)
	if _, err := s.ListPositions(ctx, "alpha"); !errors.Is(err, dbErr) {
		t.Errorf("ListPositions err = %v, want wrapped %v", err, dbErr)
	}

	mock.ExpectQuery(`SELECT .+ FROM orders ORDER BY`).WillReturnError(dbErr)
	if _, err := s.ListOrders(ctx, "", 10); !errors.Is(err, dbErr) {
		t.Errorf("ListOrders err = %v, want wrapped %v", err, dbErr)
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS positions`).WillReturnError(dbErr)
	if err := s.migrate(ctx); !errors.Is(err, dbErr) {
		t.Errorf("migrate err = %v, want wrapped %v", err, dbErr)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	orders    []uint64
}

func (m *memStore) SavePosition(_ context.Context, strategy string, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions == nil {
		m.positions = make(map[string]domain.Position)
	}
	m.positions[strategy] = pos
	return nil
}

func (m *memStore) GetPosition(context.Context, string, uint32) (domain.Position, error) {
	return domain.Position{}, ErrNotFound
}

func (m *memStore) ListPositions(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

func (m *memStore) SaveOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o.Req.OrderID)
	return nil
}

func (m *memStore) GetOrder(context.Context, uint64) (domain.Order, error) {
	return domain.Order{}, ErrNotFound
}

func (m *memStore) ListOrders(context.Context, string, int) ([]domain.Order, error) {
	return nil, nil
}

func TestWriterDrainsOnClose(t *testing.T) {
	mem := &memStore{}
	w := NewWriter(mem, mem, 16, nil)

	for i := 1; i <= 5; i++ {
		w.RecordPosition("alpha", domain.Position{TickerID: 1, Long: domain.PositionDetail{Holdings: i}})
	}
	w.RecordOrder(domain.Order{Req: domain.OrderRequest{OrderID: 1, Volume: 2}, TradedVolume: 2, Status: domain.OrderStatusAllTraded})
	w.RecordOrder(domain.Order{Req: domain.OrderRequest{OrderID: 2, Volume: 2}, Status: domain.OrderStatusNoTraded})

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// Records after close are ignored.
	w.RecordPosition("alpha", domain.Position{TickerID: 1})

	if got := mem.positions["alpha"].Long.Holdings; got != 5 {
		t.Errorf("last position holdings = %d, want 5", got)
	}
	if len(mem.orders) != 1 || mem.orders[0] != 1 {
		t.Errorf("orders saved = %v, want [1]", mem.orders)
	}
}

func TestWriterWithSQLite(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s, s, 0, nil)
	w.RecordPosition("alpha", domain.Position{TickerID: 1, Short: domain.PositionDetail{Holdings: 2, CostPrice: 10}})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := s.GetPosition(context.Background(), "alpha", 1)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.Short.Holdings != 2 || got.Short.CostPrice != 10 {
		t.Errorf("GetPosition = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Parquet
// ---------------------------------------------------------------------------

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data", testContracts)

	got, err := ps.tickPath(1, "2024-06-15")
	if err != nil {
		t.Fatalf("tickPath: %v", err)
	}
	want := filepath.Join("/data", "AAPL", "2024-06-15.parquet")
	if got != want {
		t.Errorf("tickPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	if _, err := ps.tickPath(9, "2024-06-15"); err == nil {
		t.Error("tickPath for unknown ticker should fail")
	}
}

func tick(tickerID uint32, ts time.Time, bid, ask float64) domain.TickData {
	t := domain.TickData{TickerID: tickerID, Timestamp: ts.UnixMilli(), LastPrice: (bid + ask) / 2}
	t.BidPrice[0], t.BidVolume[0] = bid, 10
	t.AskPrice[0], t.AskVolume[0] = ask, 20
	t.BidPrice[4] = bid - 0.04
	return t
}

func TestParquetStoreWriteReadTicks(t *testing.T) {
	ps := NewParquetStore(t.TempDir(), testContracts)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 3, 14, 30, 0, 0, time.UTC)
	ticks := []domain.TickData{
		tick(1, day1.Add(time.Second), 100.1, 100.2),
		tick(1, day1, 100.0, 100.1),
		tick(1, day2, 101.0, 101.1),
		tick(2, day1, 200.0, 200.5),
	}
	if err := ps.WriteTicks(ctx, ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}

	got, err := ps.ReadTicks(ctx, 1, day1.UnixMilli(), day2.UnixMilli())
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadTicks returned %d ticks, want 3", len(got))
	}
	if got[0] != ticks[1] {
		t.Errorf("first tick = %+v, want %+v", got[0], ticks[1])
	}
	if got[1].BestBid() != 100.1 || got[2].BestAsk() != 101.1 {
		t.Errorf("unexpected order: %v %v", got[1].BestBid(), got[2].BestAsk())
	}

	// A narrower window filters within a day.
	got, err = ps.ReadTicks(ctx, 1, day1.UnixMilli()+1, day1.Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ReadTicks(narrow) returned %d ticks, want 1", len(got))
	}
}

func TestParquetStoreMergeTicks(t *testing.T) {
	ps := NewParquetStore(t.TempDir(), testContracts)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	if err := ps.WriteTicks(ctx, []domain.TickData{tick(2, ts, 10, 11)}); err != nil {
		t.Fatalf("WriteTicks (first): %v", err)
	}
	// Same timestamp replaces, new timestamp appends.
	if err := ps.WriteTicks(ctx, []domain.TickData{tick(2, ts, 12, 13), tick(2, ts.Add(time.Minute), 14, 15)}); err != nil {
		t.Fatalf("WriteTicks (second): %v", err)
	}

	got, err := ps.ReadTicks(ctx, 2, ts.UnixMilli(), ts.Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadTicks returned %d ticks after merge, want 2", len(got))
	}
	if got[0].BestBid() != 12 {
		t.Errorf("merged tick bid = %v, want 12", got[0].BestBid())
	}

	none, err := ps.ReadTicks(ctx, 2, ts.AddDate(0, 1, 0).UnixMilli(), ts.AddDate(0, 1, 1).UnixMilli())
	if err != nil || len(none) != 0 {
		t.Errorf("ReadTicks(missing days) = %v, %v; want empty, nil", none, err)
	}
}
