package risk

import (
	"log/slog"

	"ftrader/internal/domain"
)

// Manager runs an ordered chain of rules. It holds no lock of its own; the
// caller serializes every call (the engine does so with its risk mutex).
type Manager struct {
	rules []Rule
	log   *slog.Logger
}

// NewManager creates a chain from rules in evaluation order.
func NewManager(log *slog.Logger, rules ...Rule) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{rules: rules, log: log}
}

// New builds the chain named in p.Config.Rules.
func New(p *Params) (*Manager, error) {
	rules, err := NewRules(p.Config.Rules, p)
	if err != nil {
		return nil, err
	}
	return NewManager(p.Logger, rules...), nil
}

// Rules returns the names of the rules in evaluation order.
func (m *Manager) Rules() []string {
	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.Name()
	}
	return names
}

// CheckOrderRequest returns the first failing rule's code, or NoError.
func (m *Manager) CheckOrderRequest(order *domain.Order) domain.ErrorCode {
	for _, r := range m.rules {
		if code := r.CheckOrderRequest(order); code != domain.NoError {
			m.log.Warn("order blocked by risk rule",
				"rule", r.Name(), "order_id", order.Req.OrderID, "strategy", order.StrategyID,
				"ticker_id", order.Req.TickerID, "direction", order.Req.Direction,
				"offset", order.Req.Offset, "price", order.Req.Price, "volume", order.Req.Volume,
				"error_code", code)
			return code
		}
	}
	return domain.NoError
}

// CheckCancelRequest returns the first failing rule's code, or NoError.
func (m *Manager) CheckCancelRequest(order *domain.Order) domain.ErrorCode {
	for _, r := range m.rules {
		if code := r.CheckCancelRequest(order); code != domain.NoError {
			m.log.Warn("cancel blocked by risk rule",
				"rule", r.Name(), "order_id", order.Req.OrderID, "error_code", code)
			return code
		}
	}
	return domain.NoError
}

func (m *Manager) OnOrderSent(order *domain.Order) {
	for _, r := range m.rules {
		r.OnOrderSent(order)
	}
}

func (m *Manager) OnCancelRequestSent(order *domain.Order) {
	for _, r := range m.rules {
		r.OnCancelRequestSent(order)
	}
}

func (m *Manager) OnOrderAccepted(order *domain.Order) {
	for _, r := range m.rules {
		r.OnOrderAccepted(order)
	}
}

func (m *Manager) OnOrderTraded(order *domain.Order, volume int, price float64) {
	for _, r := range m.rules {
		r.OnOrderTraded(order, volume, price)
	}
}

func (m *Manager) OnOrderCanceled(order *domain.Order, canceled int) {
	for _, r := range m.rules {
		r.OnOrderCanceled(order, canceled)
	}
}

func (m *Manager) OnOrderRejected(order *domain.Order, code domain.ErrorCode) {
	for _, r := range m.rules {
		r.OnOrderRejected(order, code)
	}
}

func (m *Manager) OnOrderCompleted(order *domain.Order) {
	for _, r := range m.rules {
		r.OnOrderCompleted(order)
	}
}
