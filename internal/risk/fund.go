package risk

import (
	"log/slog"

	"ftrader/internal/domain"
)

const defaultCashMultiplier = 1.1

// FundRule checks that an opening order's estimated margin is covered by
// cash, and keeps the account's frozen and margin amounts in step with the
// order flow.
type FundRule struct {
	BaseRule
	account    *domain.Account
	contracts  *domain.ContractTable
	multiplier float64
	log        *slog.Logger
}

var _ Rule = (*FundRule)(nil)

// NewFundRule creates the rule. account is shared with the caller.
func NewFundRule(account *domain.Account, contracts *domain.ContractTable, multiplier float64, log *slog.Logger) *FundRule {
	if multiplier <= 0 {
		multiplier = defaultCashMultiplier
	}
	return &FundRule{account: account, contracts: contracts, multiplier: multiplier, log: log}
}

func (r *FundRule) Name() string { return RuleFund }

// margin is price × volume × size × margin rate for the order's side.
func (r *FundRule) margin(req *domain.OrderRequest, price float64, volume int) float64 {
	c := req.Contract
	if c == nil {
		var ok bool
		if c, ok = r.contracts.ByTickerID(req.TickerID); !ok {
			return 0
		}
	}
	return price * float64(volume) * float64(c.Size) * c.MarginRate(req.Direction)
}

func (r *FundRule) CheckOrderRequest(order *domain.Order) domain.ErrorCode {
	req := &order.Req
	if !domain.IsOffsetOpen(req.Offset) {
		return domain.NoError
	}
	if _, ok := r.contracts.ByTickerID(req.TickerID); !ok {
		return domain.ErrorCodeContractNotFound
	}
	estimated := r.margin(req, req.Price, req.Volume)
	if r.account.Cash*r.multiplier < estimated {
		r.log.Warn("fund not enough",
			"order_id", req.OrderID, "ticker_id", req.TickerID,
			"cash", r.account.Cash, "estimated_margin", estimated)
		return domain.ErrorCodeFundNotEnough
	}
	return domain.NoError
}

func (r *FundRule) OnOrderSent(order *domain.Order) {
	req := &order.Req
	if !domain.IsOffsetOpen(req.Offset) {
		return
	}
	frozen := r.margin(req, req.Price, req.Volume)
	r.account.Cash -= frozen
	r.account.Frozen += frozen
}

func (r *FundRule) OnOrderTraded(order *domain.Order, volume int, price float64) {
	req := &order.Req
	if domain.IsOffsetOpen(req.Offset) {
		released := r.margin(req, req.Price, volume)
		used := r.margin(req, price, volume)
		r.account.Frozen -= released
		r.account.Margin += used
		r.account.Cash += released - used
		return
	}
	freed := min(r.margin(req, price, volume), r.account.Margin)
	r.account.Margin -= freed
	r.account.Cash += freed
}

func (r *FundRule) unfreeze(order *domain.Order, volume int) {
	req := &order.Req
	if !domain.IsOffsetOpen(req.Offset) || volume <= 0 {
		return
	}
	released := r.margin(req, req.Price, volume)
	r.account.Frozen -= released
	r.account.Cash += released
}

func (r *FundRule) OnOrderCanceled(order *domain.Order, canceled int) {
	r.unfreeze(order, canceled)
}

func (r *FundRule) OnOrderRejected(order *domain.Order, _ domain.ErrorCode) {
	r.unfreeze(order, order.Req.Volume-order.TradedVolume-order.CanceledVolume)
}
