package domain

// OrderRequest is the part of an order that is sent to a gateway.
type OrderRequest struct {
	OrderID   uint64    `json:"order_id"`
	Contract  *Contract `json:"-"`
	TickerID  uint32    `json:"ticker_id"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price"`
	Volume    int       `json:"volume"`
	// WithoutCheck bypasses the risk chain. Emergency use only.
	WithoutCheck bool `json:"without_check"`
}

// Order is a request plus the lifecycle state the engine tracks for it.
type Order struct {
	Req            OrderRequest `json:"req"`
	StrategyID     string       `json:"strategy_id"`
	ClientOrderID  uint32       `json:"client_order_id"`
	Status         OrderStatus  `json:"status"`
	Accepted       bool         `json:"accepted"`
	TradedVolume   int          `json:"traded_volume"`
	CanceledVolume int          `json:"canceled_volume"`
	Privdata       string       `json:"privdata,omitempty"`
	InsertTime     int64        `json:"insert_time"`
}

// Remaining is the volume neither traded nor canceled.
func (o *Order) Remaining() int {
	return o.Req.Volume - o.TradedVolume - o.CanceledVolume
}

// Completed reports whether the order has reached a terminal state.
func (o *Order) Completed() bool {
	return o.Status == OrderStatusRejected || o.Remaining() <= 0
}

// Clone returns a copy safe to hand to another goroutine. The contract
// pointer is shared because contracts are immutable.
func (o *Order) Clone() Order {
	return *o
}

// OrderResponse is the notification a strategy receives about one of its
// orders.
type OrderResponse struct {
	ClientOrderID   uint32    `json:"client_order_id"`
	OrderID         uint64    `json:"order_id"`
	StrategyID      string    `json:"strategy_id"`
	TickerID        uint32    `json:"ticker_id"`
	Direction       Direction `json:"direction"`
	Offset          Offset    `json:"offset"`
	OriginalVolume  int       `json:"original_volume"`
	TradedVolume    int       `json:"traded_volume"`
	ThisTraded      int       `json:"this_traded"`
	ThisTradedPrice float64   `json:"this_traded_price"`
	Completed       bool      `json:"completed"`
	ErrorCode       ErrorCode `json:"error_code"`
}

// NewOrderResponse fills the fields of a response that come from the order
// itself.
func NewOrderResponse(o *Order) OrderResponse {
	return OrderResponse{
		ClientOrderID:  o.ClientOrderID,
		OrderID:        o.Req.OrderID,
		StrategyID:     o.StrategyID,
		TickerID:       o.Req.TickerID,
		Direction:      o.Req.Direction,
		Offset:         o.Req.Offset,
		OriginalVolume: o.Req.Volume,
		TradedVolume:   o.TradedVolume,
		Completed:      o.Completed(),
	}
}
