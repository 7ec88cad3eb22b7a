package risk

import (
	"log/slog"

	"ftrader/internal/domain"
)

const priceEpsilon = 1e-5

// SelfTradeRule rejects an order that could match one of our own live
// orders on the other side of the same instrument.
type SelfTradeRule struct {
	BaseRule
	orders OrderView
	log    *slog.Logger
}

var _ Rule = (*SelfTradeRule)(nil)

// NewSelfTradeRule creates the rule over a live order view.
func NewSelfTradeRule(orders OrderView, log *slog.Logger) *SelfTradeRule {
	return &SelfTradeRule{orders: orders, log: log}
}

func (r *SelfTradeRule) Name() string { return RuleSelfTrade }

// CheckOrderRequest scans the live orders of the instrument.
func (r *SelfTradeRule) CheckOrderRequest(order *domain.Order) domain.ErrorCode {
	req := &order.Req
	for _, pending := range r.orders.LiveOrders(req.TickerID) {
		p := &pending.Req
		if p.OrderID == req.OrderID || p.Direction == req.Direction {
			continue
		}
		if crosses(req, p) {
			r.log.Warn("self trade",
				"order_id", req.OrderID, "direction", req.Direction, "price", req.Price,
				"resting_order_id", p.OrderID, "resting_price", p.Price, "resting_type", p.Type)
			return domain.ErrorCodeSelfTrade
		}
	}
	return domain.NoError
}

// crosses reports whether req could trade against the resting opposite
// order p.
func crosses(req, p *domain.OrderRequest) bool {
	if p.Type == domain.OrderTypeMarket || p.Price < priceEpsilon {
		return true
	}
	if req.Type == domain.OrderTypeMarket || req.Price < priceEpsilon {
		return true
	}
	if req.Direction == domain.DirectionBuy {
		return req.Price > p.Price-priceEpsilon
	}
	return req.Price < p.Price+priceEpsilon
}
