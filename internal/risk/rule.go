// Package risk implements the pre-trade rule chain that gates every order
// before it reaches a gateway, and the lifecycle hooks that let rules keep
// their own state in step with the order flow.
package risk

import (
	"fmt"
	"log/slog"
	"time"

	"ftrader/internal/domain"
)

// Rule is one link in the risk chain. Check methods must not mutate rule
// state; all recording happens in the On* hooks, which are only called for
// orders that passed the chain and were handed to a gateway.
type Rule interface {
	Name() string

	CheckOrderRequest(order *domain.Order) domain.ErrorCode
	CheckCancelRequest(order *domain.Order) domain.ErrorCode

	OnOrderSent(order *domain.Order)
	OnCancelRequestSent(order *domain.Order)
	OnOrderAccepted(order *domain.Order)
	OnOrderTraded(order *domain.Order, volume int, price float64)
	OnOrderCanceled(order *domain.Order, canceled int)
	OnOrderRejected(order *domain.Order, code domain.ErrorCode)
	// OnOrderCompleted fires exactly once per sent order, whatever the
	// terminal state.
	OnOrderCompleted(order *domain.Order)
}

// BaseRule provides no-op implementations of every hook. Embed it and
// override what the rule needs.
type BaseRule struct{}

func (BaseRule) CheckOrderRequest(*domain.Order) domain.ErrorCode { return domain.NoError }
func (BaseRule) CheckCancelRequest(*domain.Order) domain.ErrorCode { return domain.NoError }
func (BaseRule) OnOrderSent(*domain.Order) {}
func (BaseRule) OnCancelRequestSent(*domain.Order) {}
func (BaseRule) OnOrderAccepted(*domain.Order) {}
func (BaseRule) OnOrderTraded(*domain.Order, int, float64) {}
func (BaseRule) OnOrderCanceled(*domain.Order, int) {}
func (BaseRule) OnOrderRejected(*domain.Order, domain.ErrorCode) {}
func (BaseRule) OnOrderCompleted(*domain.Order) {}

// OrderView exposes the live orders of one instrument. Implementations
// return copies.
type OrderView interface {
	LiveOrders(tickerID uint32) []domain.Order
}

// PositionView exposes strategy positions. *position.Manager satisfies it.
type PositionView interface {
	Position(strategy string, tickerID uint32) (domain.Position, bool)
}

// Config holds the per-rule settings loaded from the risk section of the
// config file.
type Config struct {
	Rules    []string       `yaml:"rules"`
	Throttle ThrottleConfig `yaml:"throttle"`
	// FundCashMultiplier bounds open margin at cash × multiplier. Zero means
	// the default of 1.1.
	FundCashMultiplier float64 `yaml:"fund_cash_multiplier"`
}

// ThrottleConfig bounds order count and volume over a sliding window.
// A zero limit disables that bound; a zero period disables the rule.
type ThrottleConfig struct {
	PeriodMS    int64 `yaml:"period_ms"`
	OrderLimit  int   `yaml:"order_limit"`
	VolumeLimit int   `yaml:"volume_limit"`
}

// Params are the collaborators a rule may need. Account is owned by the
// caller and must only be touched while the caller serializes the chain.
type Params struct {
	Contracts *domain.ContractTable
	Positions PositionView
	Orders    OrderView
	Account   *domain.Account
	Config    Config
	Now       func() time.Time
	Logger    *slog.Logger
}

func (p *Params) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Params) now() func() time.Time {
	if p.Now == nil {
		return time.Now
	}
	return p.Now
}

// Rule names accepted by NewRules.
const (
	RuleSelfTrade    = "self_trade"
	RulePosition     = "position"
	RuleThrottleRate = "throttle_rate"
	RuleFund         = "fund"
)

// DefaultRules is the chain used when the config names none.
var DefaultRules = []string{RuleSelfTrade, RulePosition, RuleThrottleRate}

// NewRules builds rules by name in the given order.
func NewRules(names []string, p *Params) ([]Rule, error) {
	if len(names) == 0 {
		names = DefaultRules
	}
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		switch name {
		case RuleSelfTrade:
			if p.Orders == nil {
				return nil, fmt.Errorf("risk: rule %s needs an order view", name)
			}
			rules = append(rules, NewSelfTradeRule(p.Orders, p.logger()))
		case RulePosition:
			if p.Positions == nil {
				return nil, fmt.Errorf("risk: rule %s needs a position view", name)
			}
			rules = append(rules, NewPositionRule(p.Positions, p.logger()))
		case RuleThrottleRate:
			rules = append(rules, NewThrottleRateRule(p.Config.Throttle, p.now(), p.logger()))
		case RuleFund:
			if p.Account == nil || p.Contracts == nil {
				return nil, fmt.Errorf("risk: rule %s needs an account and contracts", name)
			}
			rules = append(rules, NewFundRule(p.Account, p.Contracts, p.Config.FundCashMultiplier, p.logger()))
		default:
			return nil, fmt.Errorf("risk: unknown rule %q", name)
		}
	}
	return rules, nil
}
