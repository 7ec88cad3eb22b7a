package engine

import (
	"context"
	"fmt"
	"time"

	"ftrader/internal/domain"
	"ftrader/internal/position"
)

// DefaultAccountPollInterval is how often RunAccountPoller refreshes the
// account when no interval is given.
const DefaultAccountPollInterval = 15 * time.Second

// Sync pulls the account and positions from the gateway. Positions are
// seeded into the common pool; empty ones are skipped. An unknown
// instrument aborts the sync.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.RefreshAccount(ctx); err != nil {
		return err
	}

	positions, err := e.gateway.QueryPositions(ctx)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}

	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	seeded := 0
	for _, pos := range positions {
		if pos.Long.Holdings == 0 && pos.Short.Holdings == 0 {
			continue
		}
		if _, ok := e.contracts.ByTickerID(pos.TickerID); !ok {
			e.log.Error("sync: contract not found", "ticker_id", pos.TickerID)
			return fmt.Errorf("sync position: ticker_id %d: %w", pos.TickerID, position.ErrContractNotFound)
		}
		if err := e.positions.SetPosition(position.CommonPool, pos); err != nil {
			return err
		}
		seeded++
	}
	e.log.Info("synced with gateway", "gateway", e.gateway.Name(), "positions", seeded)
	return nil
}

// RefreshAccount replaces the engine's account with the gateway's view.
// Any frozen or margin bookkeeping the risk chain applied since the last
// refresh is overwritten.
func (e *Engine) RefreshAccount(ctx context.Context) error {
	account, err := e.gateway.QueryAccount(ctx)
	if err != nil {
		return fmt.Errorf("query account: %w", err)
	}
	e.riskMu.Lock()
	e.account = account
	e.riskMu.Unlock()
	return nil
}

// RunAccountPoller refreshes the account every interval until ctx is done.
// Query failures are logged and retried on the next tick.
func (e *Engine) RunAccountPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAccountPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RefreshAccount(ctx); err != nil {
				e.log.Warn("account poll failed", "error", err)
			}
		}
	}
}

// MovePosition transfers holdings on side dir between strategies, typically
// from the common pool after Sync. Close reservations stay with the source.
func (e *Engine) MovePosition(from, to string, tickerID uint32, dir domain.Direction, volume int) error {
	e.riskMu.Lock()
	err := e.positions.MovePosition(from, to, tickerID, dir, volume)
	e.riskMu.Unlock()
	if err != nil {
		return err
	}
	e.log.Info("position moved", "from", from, "to", to, "ticker_id", tickerID,
		"direction", dir, "volume", volume)
	return nil
}
