package position

import (
	"fmt"
	"log/slog"
	"sort"

	"ftrader/internal/domain"
)

// CommonPool is the calculator that takes orders not attributable to a
// configured strategy, and positions seeded from a broker query.
const CommonPool = "common"

// SinkFunc receives every position change tagged with the owning strategy.
type SinkFunc func(strategy string, pos domain.Position)

// Manager routes position updates to one Calculator per strategy. The set of
// strategies is fixed at construction so lookups need no locking.
type Manager struct {
	calculators map[string]*Calculator
	log         *slog.Logger
}

// NewManager creates a calculator for every strategy plus the common pool.
// sink may be nil.
func NewManager(contracts *domain.ContractTable, strategies []string, sink SinkFunc, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		calculators: make(map[string]*Calculator, len(strategies)+1),
		log:         log,
	}
	for _, name := range append([]string{CommonPool}, strategies...) {
		if _, ok := m.calculators[name]; ok {
			continue
		}
		calc := NewCalculator(contracts, log.With("strategy", name))
		if sink != nil {
			strategy := name
			calc.SetCallback(func(pos domain.Position) { sink(strategy, pos) })
		}
		m.calculators[name] = calc
	}
	return m
}

// Calculator returns the ledger for strategy, falling back to the common
// pool for unknown ids.
func (m *Manager) Calculator(strategy string) *Calculator {
	if c, ok := m.calculators[strategy]; ok {
		return c
	}
	return m.calculators[CommonPool]
}

// Strategies returns the configured strategy ids, common pool included,
// sorted.
func (m *Manager) Strategies() []string {
	out := make([]string, 0, len(m.calculators))
	for name := range m.calculators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) wrap(op, strategy string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s for strategy %s: %w", op, strategy, err)
}

// SetPosition seeds a strategy's position.
func (m *Manager) SetPosition(strategy string, pos domain.Position) error {
	return m.wrap("set position", strategy, m.Calculator(strategy).SetPosition(pos))
}

// UpdatePending delegates to the strategy's calculator.
func (m *Manager) UpdatePending(strategy string, tickerID uint32, dir domain.Direction, offset domain.Offset, changed int) error {
	return m.wrap("update pending", strategy, m.Calculator(strategy).UpdatePending(tickerID, dir, offset, changed))
}

// UpdateTraded delegates to the strategy's calculator.
func (m *Manager) UpdateTraded(strategy string, tickerID uint32, dir domain.Direction, offset domain.Offset, traded int, price float64) error {
	return m.wrap("update traded", strategy, m.Calculator(strategy).UpdateTraded(tickerID, dir, offset, traded, price))
}

// ModifyPosition delegates to the strategy's calculator.
func (m *Manager) ModifyPosition(strategy string, tickerID uint32, dir domain.Direction, changed int) error {
	return m.wrap("modify position", strategy, m.Calculator(strategy).ModifyPosition(tickerID, dir, changed))
}

// UpdateFloatPnl marks tickerID in every strategy's ledger.
func (m *Manager) UpdateFloatPnl(tickerID uint32, bid, ask float64) error {
	for name, c := range m.calculators {
		if err := c.UpdateFloatPnl(tickerID, bid, ask); err != nil {
			return m.wrap("update float pnl", name, err)
		}
	}
	return nil
}

// MovePosition transfers volume of holdings on side dir from one strategy to
// another, carrying the source cost price.
func (m *Manager) MovePosition(from, to string, tickerID uint32, dir domain.Direction, volume int) error {
	if volume <= 0 {
		return nil
	}
	src, dst := m.Calculator(from), m.Calculator(to)
	if src == dst {
		return nil
	}

	pos, _ := src.Position(tickerID)
	detail := pos.Side(dir)
	if detail.Holdings-detail.ClosePending < volume {
		return m.wrap("move position", from, fmt.Errorf("%w: available %d, requested %d",
			ErrNegativeVolume, detail.Holdings-detail.ClosePending, volume))
	}
	cost := detail.CostPrice

	if err := src.ModifyPosition(tickerID, dir, -volume); err != nil {
		return m.wrap("move position", from, err)
	}

	// Reserve then fill so the destination ledger sees an ordinary open.
	err := dst.UpdatePending(tickerID, dir, domain.OffsetOpen, volume)
	if err == nil {
		err = dst.UpdateTraded(tickerID, dir, domain.OffsetOpen, volume, cost)
	}
	if err != nil {
		if rerr := src.ModifyPosition(tickerID, dir, volume); rerr != nil {
			m.log.Error("move position: restore failed", "strategy", from, "ticker_id", tickerID, "error", rerr)
		}
		return m.wrap("move position", to, err)
	}
	return nil
}

// Position returns a copy of one strategy's position.
func (m *Manager) Position(strategy string, tickerID uint32) (domain.Position, bool) {
	return m.Calculator(strategy).Position(tickerID)
}

// Positions returns every strategy's non-empty positions.
func (m *Manager) Positions() map[string][]domain.Position {
	out := make(map[string][]domain.Position, len(m.calculators))
	for name, c := range m.calculators {
		var list []domain.Position
		for _, p := range c.Positions() {
			if !p.Empty() {
				list = append(list, p)
			}
		}
		if len(list) > 0 {
			out[name] = list
		}
	}
	return out
}

// TotalAssets returns the position value of one strategy.
func (m *Manager) TotalAssets(strategy string) (float64, error) {
	v, err := m.Calculator(strategy).TotalAssets()
	return v, m.wrap("total assets", strategy, err)
}
