package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"ftrader/internal/domain"
)

// Compile-time interface check.
var _ TickStore = (*ParquetStore)(nil)

// ParquetStore implements TickStore using Parquet files on disk, one file
// per instrument and UTC day.
type ParquetStore struct {
	DataDir   string
	contracts *domain.ContractTable
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory. Contracts map ticker ids to the ticker names used in paths.
func NewParquetStore(dataDir string, contracts *domain.ContractTable) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, contracts: contracts}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// TickRecord is the Parquet schema for level-2 ticks.
type TickRecord struct {
	Timestamp int64     `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	LastPrice float64   `parquet:"last_price"`
	Volume    int64     `parquet:"volume"`
	Turnover  float64   `parquet:"turnover"`
	OpenPrice float64   `parquet:"open_price"`
	HighPrice float64   `parquet:"high_price"`
	LowPrice  float64   `parquet:"low_price"`
	BidPrice  []float64 `parquet:"bid_price,list"`
	BidVolume []int64   `parquet:"bid_volume,list"`
	AskPrice  []float64 `parquet:"ask_price,list"`
	AskVolume []int64   `parquet:"ask_volume,list"`
}

func toTickRecord(t *domain.TickData) TickRecord {
	return TickRecord{
		Timestamp: t.Timestamp,
		LastPrice: t.LastPrice,
		Volume:    t.Volume,
		Turnover:  t.Turnover,
		OpenPrice: t.OpenPrice,
		HighPrice: t.HighPrice,
		LowPrice:  t.LowPrice,
		BidPrice:  append([]float64(nil), t.BidPrice[:]...),
		BidVolume: append([]int64(nil), t.BidVolume[:]...),
		AskPrice:  append([]float64(nil), t.AskPrice[:]...),
		AskVolume: append([]int64(nil), t.AskVolume[:]...),
	}
}

func fromTickRecord(tickerID uint32, r *TickRecord) domain.TickData {
	t := domain.TickData{
		TickerID:  tickerID,
		Timestamp: r.Timestamp,
		LastPrice: r.LastPrice,
		Volume:    r.Volume,
		Turnover:  r.Turnover,
		OpenPrice: r.OpenPrice,
		HighPrice: r.HighPrice,
		LowPrice:  r.LowPrice,
	}
	copy(t.BidPrice[:], r.BidPrice)
	copy(t.BidVolume[:], r.BidVolume)
	copy(t.AskPrice[:], r.AskPrice)
	copy(t.AskVolume[:], r.AskVolume)
	return t
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks writes ticks to Parquet files organized by ticker and date:
//
//	<DataDir>/<TICKER>/<YYYY-MM-DD>.parquet
//
// Ticks already on disk with the same timestamp are replaced.
func (s *ParquetStore) WriteTicks(_ context.Context, ticks []domain.TickData) error {
	if len(ticks) == 0 {
		return nil
	}

	type key struct {
		tickerID uint32
		date     string
	}
	groups := make(map[key][]TickRecord)
	for i := range ticks {
		t := &ticks[i]
		k := key{tickerID: t.TickerID, date: dateOf(t.Timestamp)}
		groups[k] = append(groups[k], toTickRecord(t))
	}

	for k, records := range groups {
		path, err := s.tickPath(k.tickerID, k.date)
		if err != nil {
			return err
		}

		existing, err := readParquetFile[TickRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading ticks %s: %w", path, err)
		}
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %d/%s: %w", k.tickerID, k.date, err)
		}
	}
	return nil
}

// ReadTicks reads the ticks of one instrument in [startMS, endMS]. Days
// without a file are skipped.
func (s *ParquetStore) ReadTicks(ctx context.Context, tickerID uint32, startMS, endMS int64) ([]domain.TickData, error) {
	if endMS < startMS {
		return nil, nil
	}
	start := time.UnixMilli(startMS).UTC().Truncate(24 * time.Hour)
	end := time.UnixMilli(endMS).UTC()

	var ticks []domain.TickData
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := s.tickPath(tickerID, d.Format(time.DateOnly))
		if err != nil {
			return nil, err
		}
		records, err := readParquetFile[TickRecord](path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading ticks %s: %w", path, err)
		}
		for i := range records {
			if ts := records[i].Timestamp; ts >= startMS && ts <= endMS {
				ticks = append(ticks, fromTickRecord(tickerID, &records[i]))
			}
		}
	}
	return ticks, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func dateOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.DateOnly)
}

// tickPath returns the filesystem path for a tick Parquet file.
func (s *ParquetStore) tickPath(tickerID uint32, date string) (string, error) {
	c, ok := s.contracts.ByTickerID(tickerID)
	if !ok {
		return "", fmt.Errorf("tick path: unknown ticker_id %d", tickerID)
	}
	return filepath.Join(s.DataDir, c.Ticker, date+".parquet"), nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeTickRecords deduplicates by timestamp, preferring incoming records,
// and returns them sorted by timestamp.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	seen := make(map[int64]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
