package risk

import (
	"log/slog"

	"ftrader/internal/domain"
)

// PositionRule rejects a close larger than the holdings not already
// reserved by other closes.
type PositionRule struct {
	BaseRule
	positions PositionView
	log       *slog.Logger
}

var _ Rule = (*PositionRule)(nil)

// NewPositionRule creates the rule over the strategy position ledgers.
func NewPositionRule(positions PositionView, log *slog.Logger) *PositionRule {
	return &PositionRule{positions: positions, log: log}
}

func (r *PositionRule) Name() string { return RulePosition }

func (r *PositionRule) CheckOrderRequest(order *domain.Order) domain.ErrorCode {
	req := &order.Req
	if !domain.IsOffsetClose(req.Offset) {
		return domain.NoError
	}

	pos, _ := r.positions.Position(order.StrategyID, req.TickerID)
	detail := pos.Side(domain.OffsetEffectiveDirection(req.Direction, req.Offset))
	available := detail.Holdings - detail.ClosePending
	if available < req.Volume {
		r.log.Warn("position not enough",
			"order_id", req.OrderID, "strategy", order.StrategyID, "ticker_id", req.TickerID,
			"direction", req.Direction, "offset", req.Offset,
			"holdings", detail.Holdings, "close_pending", detail.ClosePending, "volume", req.Volume)
		return domain.ErrorCodePositionNotEnough
	}
	return domain.NoError
}
