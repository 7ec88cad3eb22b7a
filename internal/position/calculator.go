// Package position keeps per-strategy position ledgers: pending
// reservations, holdings, volume-weighted cost and floating PnL.
package position

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ftrader/internal/domain"
)

var (
	ErrContractNotFound = errors.New("position: contract not found")
	ErrInvalidContract  = errors.New("position: contract size must be positive")
	ErrNegativeVolume   = errors.New("position: volume would become negative")
)

// ChangeFunc receives a copy of a position after every successful mutation.
type ChangeFunc func(pos domain.Position)

// Calculator is the position ledger of a single strategy. It is safe for
// concurrent use; the change callback is invoked after the internal lock is
// released, so it may call back into the Calculator.
type Calculator struct {
	contracts *domain.ContractTable
	log       *slog.Logger

	mu        sync.RWMutex
	positions map[uint32]*domain.Position
	onChange  ChangeFunc
}

// NewCalculator creates an empty ledger. A nil logger falls back to
// slog.Default().
func NewCalculator(contracts *domain.ContractTable, log *slog.Logger) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	return &Calculator{
		contracts: contracts,
		log:       log,
		positions: make(map[uint32]*domain.Position),
	}
}

// SetCallback registers the function notified of every position change.
func (c *Calculator) SetCallback(fn ChangeFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// position returns the entry for tickerID, creating it on first use.
// Caller must hold mu.
func (c *Calculator) position(tickerID uint32) *domain.Position {
	p, ok := c.positions[tickerID]
	if !ok {
		p = &domain.Position{TickerID: tickerID}
		c.positions[tickerID] = p
	}
	return p
}

// commit releases the lock and fires the callback with a copy of pos.
func (c *Calculator) commit(pos *domain.Position) {
	snapshot := *pos
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

// SetPosition overwrites the stored position for pos.TickerID.
func (c *Calculator) SetPosition(pos domain.Position) error {
	if _, ok := c.contracts.ByTickerID(pos.TickerID); !ok {
		c.log.Error("set position: contract not found", "ticker_id", pos.TickerID)
		return fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, pos.TickerID)
	}

	c.mu.Lock()
	p := c.position(pos.TickerID)
	*p = pos
	c.commit(p)
	return nil
}

// UpdatePending reserves (changed > 0) or releases (changed < 0) pending
// volume for an order. Closing offsets act on the opposite side. A change
// that would drive a pending field negative is refused without mutation.
func (c *Calculator) UpdatePending(tickerID uint32, dir domain.Direction, offset domain.Offset, changed int) error {
	if changed == 0 {
		return nil
	}
	if _, ok := c.contracts.ByTickerID(tickerID); !ok {
		c.log.Error("update pending: contract not found", "ticker_id", tickerID)
		return fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, tickerID)
	}

	c.mu.Lock()
	p := c.position(tickerID)
	detail := p.Side(domain.OffsetEffectiveDirection(dir, offset))

	if domain.IsOffsetOpen(offset) {
		if detail.OpenPending+changed < 0 {
			c.mu.Unlock()
			c.log.Error("update pending: negative open pending",
				"ticker_id", tickerID, "direction", dir, "offset", offset,
				"open_pending", detail.OpenPending, "changed", changed)
			return ErrNegativeVolume
		}
		detail.OpenPending += changed
	} else {
		if detail.ClosePending+changed < 0 {
			c.mu.Unlock()
			c.log.Error("update pending: negative close pending",
				"ticker_id", tickerID, "direction", dir, "offset", offset,
				"close_pending", detail.ClosePending, "changed", changed)
			return ErrNegativeVolume
		}
		detail.ClosePending += changed
	}

	c.commit(p)
	return nil
}

// UpdateTraded applies a fill. Opens grow holdings and recompute the
// volume-weighted cost; closes consume holdings and pending. Pending is
// floored at zero for fills that were never reserved; a close larger than
// the holdings is refused without mutation.
func (c *Calculator) UpdateTraded(tickerID uint32, dir domain.Direction, offset domain.Offset, traded int, price float64) error {
	if traded <= 0 {
		return nil
	}
	contract, ok := c.contracts.ByTickerID(tickerID)
	if !ok {
		c.log.Error("update traded: contract not found", "ticker_id", tickerID)
		return fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, tickerID)
	}
	if contract.Size <= 0 {
		c.log.Error("update traded: invalid contract size", "ticker_id", tickerID, "size", contract.Size)
		return fmt.Errorf("%w: ticker_id %d", ErrInvalidContract, tickerID)
	}

	c.mu.Lock()
	p := c.position(tickerID)
	detail := p.Side(domain.OffsetEffectiveDirection(dir, offset))

	if domain.IsOffsetOpen(offset) {
		if detail.OpenPending < traded {
			c.log.Warn("update traded: fill exceeds open pending",
				"ticker_id", tickerID, "direction", dir, "open_pending", detail.OpenPending, "traded", traded)
		}
		holdings := detail.Holdings + traded
		detail.CostPrice = (float64(detail.Holdings)*detail.CostPrice + float64(traded)*price) / float64(holdings)
		detail.Holdings = holdings
		detail.OpenPending -= min(detail.OpenPending, traded)
	} else {
		if detail.Holdings < traded {
			c.mu.Unlock()
			c.log.Error("update traded: close exceeds holdings",
				"ticker_id", tickerID, "direction", dir, "offset", offset,
				"holdings", detail.Holdings, "traded", traded)
			return ErrNegativeVolume
		}
		if detail.ClosePending < traded {
			c.log.Warn("update traded: fill exceeds close pending",
				"ticker_id", tickerID, "direction", dir, "close_pending", detail.ClosePending, "traded", traded)
		}
		detail.Holdings -= traded
		detail.ClosePending -= min(detail.ClosePending, traded)
		if offset == domain.OffsetClose || offset == domain.OffsetCloseYesterday {
			detail.YdHoldings -= min(detail.YdHoldings, traded)
		}
		if detail.YdHoldings > detail.Holdings {
			c.log.Warn("update traded: yesterday holdings clamped",
				"ticker_id", tickerID, "offset", offset,
				"yd_holdings", detail.YdHoldings, "holdings", detail.Holdings)
			detail.YdHoldings = detail.Holdings
		}
	}

	if detail.Holdings == 0 {
		detail.CostPrice = 0
		detail.FloatPnl = 0
	}

	c.commit(p)
	return nil
}

// ModifyPosition adjusts holdings on side dir directly, outside the order
// flow. Holdings may not drop below the volume already pending to close.
func (c *Calculator) ModifyPosition(tickerID uint32, dir domain.Direction, changed int) error {
	if changed == 0 {
		return nil
	}
	if _, ok := c.contracts.ByTickerID(tickerID); !ok {
		c.log.Error("modify position: contract not found", "ticker_id", tickerID)
		return fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, tickerID)
	}

	c.mu.Lock()
	p := c.position(tickerID)
	detail := p.Side(dir)
	if detail.Holdings+changed < detail.ClosePending {
		c.mu.Unlock()
		c.log.Error("modify position: holdings below close pending",
			"ticker_id", tickerID, "direction", dir,
			"holdings", detail.Holdings, "close_pending", detail.ClosePending, "changed", changed)
		return ErrNegativeVolume
	}
	detail.Holdings += changed
	detail.YdHoldings = min(detail.YdHoldings, detail.Holdings)
	if detail.Holdings == 0 {
		detail.CostPrice = 0
		detail.FloatPnl = 0
	}
	c.commit(p)
	return nil
}

// UpdateFloatPnl marks the long side to ask and the short side to bid.
// Sides without holdings or without a positive price are left alone. An
// instrument the strategy never touched is ignored.
func (c *Calculator) UpdateFloatPnl(tickerID uint32, bid, ask float64) error {
	contract, ok := c.contracts.ByTickerID(tickerID)
	if !ok {
		c.log.Error("update float pnl: contract not found", "ticker_id", tickerID)
		return fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, tickerID)
	}

	c.mu.Lock()
	p, ok := c.positions[tickerID]
	if !ok {
		c.mu.Unlock()
		return nil
	}

	changed := false
	size := float64(contract.Size)
	if p.Long.Holdings > 0 && ask > 0 {
		p.Long.FloatPnl = float64(p.Long.Holdings) * size * (ask - p.Long.CostPrice)
		changed = true
	}
	if p.Short.Holdings > 0 && bid > 0 {
		p.Short.FloatPnl = float64(p.Short.Holdings) * size * (p.Short.CostPrice - bid)
		changed = true
	}
	if !changed {
		c.mu.Unlock()
		return nil
	}
	c.commit(p)
	return nil
}

// TotalAssets sums holdings × size × cost plus floating PnL over both sides
// of every position.
func (c *Calculator) TotalAssets() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total float64
	for _, p := range c.positions {
		contract, ok := c.contracts.ByTickerID(p.TickerID)
		if !ok {
			c.log.Error("total assets: contract not found", "ticker_id", p.TickerID)
			return 0, fmt.Errorf("%w: ticker_id %d", ErrContractNotFound, p.TickerID)
		}
		size := float64(contract.Size)
		for _, d := range []*domain.PositionDetail{&p.Long, &p.Short} {
			if d.Holdings > 0 {
				total += float64(d.Holdings)*size*d.CostPrice + d.FloatPnl
			}
		}
	}
	return total, nil
}

// Position returns a copy of the position for tickerID. A ticker that was
// never referenced yields a zero position and false.
func (c *Calculator) Position(tickerID uint32) (domain.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[tickerID]
	if !ok {
		return domain.Position{TickerID: tickerID}, false
	}
	return *p, true
}

// Positions returns copies of all positions ordered by ticker id.
func (c *Calculator) Positions() []domain.Position {
	c.mu.RLock()
	out := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TickerID < out[j].TickerID })
	return out
}
