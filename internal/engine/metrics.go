package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ftrader",
		Subsystem: "engine",
		Name:      "orders_sent_total",
		Help:      "Orders handed to the gateway",
	})

	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ftrader",
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected locally or by the exchange, by error code",
	}, []string{"code"})

	tradedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ftrader",
		Subsystem: "engine",
		Name:      "traded_volume_total",
		Help:      "Filled volume across all orders",
	})

	cancelRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ftrader",
		Subsystem: "engine",
		Name:      "cancel_rejected_total",
		Help:      "Cancel requests refused by the exchange",
	})

	liveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ftrader",
		Subsystem: "engine",
		Name:      "live_orders",
		Help:      "Orders currently tracked in the live order map",
	})
)
