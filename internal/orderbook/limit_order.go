package orderbook

import "ftrader/internal/domain"

// LimitOrder is a resting order as seen by the book.
type LimitOrder struct {
	OrderID   uint64
	Direction domain.Direction
	Price     float64
	Volume    int

	decimalPrice uint64
}

// NewLimitOrder builds an order and caches its fixed-point price.
func NewLimitOrder(orderID uint64, dir domain.Direction, price float64, volume int) *LimitOrder {
	return &LimitOrder{
		OrderID:      orderID,
		Direction:    dir,
		Price:        price,
		Volume:       volume,
		decimalPrice: DoubleToDecimalPrice(price),
	}
}

// clone copies o and re-derives the fixed-point price from Price, so an
// edited copy lands in the right level.
func (o LimitOrder) clone() *LimitOrder {
	o.decimalPrice = DoubleToDecimalPrice(o.Price)
	return &o
}

// IsBuy reports whether the order rests on the bid side.
func (o LimitOrder) IsBuy() bool { return o.Direction == domain.DirectionBuy }

// DecimalPrice returns the fixed-point price.
func (o LimitOrder) DecimalPrice() uint64 { return o.decimalPrice }
