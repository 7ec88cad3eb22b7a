package risk

import (
	"log/slog"
	"time"

	"ftrader/internal/domain"
)

type orderStamp struct {
	ms      int64
	orderID uint64
}

type volumeStamp struct {
	ms      int64
	volume  int
	orderID uint64
}

// ThrottleRateRule bounds how many orders, and how much volume, may be sent
// within a sliding window. Only sent orders consume quota.
type ThrottleRateRule struct {
	BaseRule
	period      int64
	orderLimit  int
	volumeLimit int
	now         func() time.Time
	log         *slog.Logger

	orders      []orderStamp
	volumes     []volumeStamp
	volumeCount int
}

var _ Rule = (*ThrottleRateRule)(nil)

// NewThrottleRateRule creates the rule. now is the clock used to stamp
// orders; tests pass a fake.
func NewThrottleRateRule(cfg ThrottleConfig, now func() time.Time, log *slog.Logger) *ThrottleRateRule {
	if now == nil {
		now = time.Now
	}
	return &ThrottleRateRule{
		period:      cfg.PeriodMS,
		orderLimit:  cfg.OrderLimit,
		volumeLimit: cfg.VolumeLimit,
		now:         now,
		log:         log,
	}
}

func (r *ThrottleRateRule) Name() string { return RuleThrottleRate }

// evict drops every entry stamped at or before now - period.
func (r *ThrottleRateRule) evict(nowMS int64) {
	lower := nowMS - r.period

	i := 0
	for i < len(r.orders) && r.orders[i].ms <= lower {
		i++
	}
	r.orders = r.orders[i:]

	i = 0
	for i < len(r.volumes) && r.volumes[i].ms <= lower {
		r.volumeCount -= r.volumes[i].volume
		i++
	}
	r.volumes = r.volumes[i:]
}

func (r *ThrottleRateRule) CheckOrderRequest(order *domain.Order) domain.ErrorCode {
	if r.period <= 0 {
		return domain.NoError
	}
	r.evict(r.now().UnixMilli())

	if r.orderLimit > 0 && len(r.orders) >= r.orderLimit {
		r.log.Warn("order rate exceeded",
			"order_id", order.Req.OrderID, "period_ms", r.period,
			"order_limit", r.orderLimit, "orders_in_window", len(r.orders))
		return domain.ErrorCodeExceedThrottleRate
	}
	if r.volumeLimit > 0 && r.volumeCount+order.Req.Volume > r.volumeLimit {
		r.log.Warn("volume rate exceeded",
			"order_id", order.Req.OrderID, "period_ms", r.period,
			"volume_limit", r.volumeLimit, "volume_in_window", r.volumeCount, "volume", order.Req.Volume)
		return domain.ErrorCodeExceedThrottleRate
	}
	return domain.NoError
}

func (r *ThrottleRateRule) OnOrderSent(order *domain.Order) {
	if r.period <= 0 {
		return
	}
	ms := r.now().UnixMilli()
	r.evict(ms)

	r.orders = append(r.orders, orderStamp{ms: ms, orderID: order.Req.OrderID})
	if r.volumeLimit > 0 {
		r.volumes = append(r.volumes, volumeStamp{ms: ms, volume: order.Req.Volume, orderID: order.Req.OrderID})
		r.volumeCount += order.Req.Volume
	}
}

// InWindow returns the number of orders and the volume currently counted.
func (r *ThrottleRateRule) InWindow() (orders, volume int) {
	return len(r.orders), r.volumeCount
}
