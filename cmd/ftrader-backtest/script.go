package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"ftrader/internal/domain"
	"ftrader/internal/engine"
)

// Script is the YAML order script replayed against recorded ticks.
type Script struct {
	Orders []ScriptOrder `yaml:"orders"`
}

// ScriptOrder is one order sent once the replay clock reaches At.
type ScriptOrder struct {
	At           time.Time `yaml:"at"`
	Strategy     string    `yaml:"strategy"`
	Ticker       string    `yaml:"ticker"`
	Direction    string    `yaml:"direction"`
	Offset       string    `yaml:"offset"`
	Type         string    `yaml:"type"`
	Price        float64   `yaml:"price"`
	Volume       int       `yaml:"volume"`
	WithoutCheck bool      `yaml:"without_check"`
}

// scheduledOrder is a resolved script entry.
type scheduledOrder struct {
	atMS int64
	req  engine.SendRequest
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Script{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// resolve maps tickers and enum names and returns the orders sorted by
// time. Entries with the same time keep their file order.
func (s *Script) resolve(contracts *domain.ContractTable) ([]scheduledOrder, error) {
	out := make([]scheduledOrder, 0, len(s.Orders))
	for i, o := range s.Orders {
		c, ok := contracts.ByTicker(o.Ticker)
		if !ok {
			return nil, fmt.Errorf("orders[%d]: unknown ticker %q", i, o.Ticker)
		}
		dir, err := domain.ParseDirection(o.Direction)
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", i, err)
		}
		offset := domain.OffsetOpen
		if o.Offset != "" {
			if offset, err = domain.ParseOffset(o.Offset); err != nil {
				return nil, fmt.Errorf("orders[%d]: %w", i, err)
			}
		}
		typ := domain.OrderTypeLimit
		if o.Type != "" {
			if typ, err = domain.ParseOrderType(o.Type); err != nil {
				return nil, fmt.Errorf("orders[%d]: %w", i, err)
			}
		}

		out = append(out, scheduledOrder{
			atMS: o.At.UnixMilli(),
			req: engine.SendRequest{
				StrategyID:    o.Strategy,
				ClientOrderID: uint32(i + 1),
				TickerID:      c.TickerID,
				Direction:     dir,
				Offset:        offset,
				Type:          typ,
				Price:         o.Price,
				Volume:        o.Volume,
				WithoutCheck:  o.WithoutCheck,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].atMS < out[j].atMS })
	return out, nil
}

// due pops the orders whose time is at or before nowMS.
func due(pending []scheduledOrder, nowMS int64) (ready, rest []scheduledOrder) {
	n := sort.Search(len(pending), func(i int) bool { return pending[i].atMS > nowMS })
	return pending[:n], pending[n:]
}
