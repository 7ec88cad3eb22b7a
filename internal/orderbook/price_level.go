package orderbook

import "container/list"

// PriceLevel holds the orders resting at one price in arrival order.
type PriceLevel struct {
	price        float64
	decimalPrice uint64
	totalVolume  int

	orders *list.List
	index  map[uint64]*list.Element
}

func newPriceLevel(decimalPrice uint64) *PriceLevel {
	return &PriceLevel{
		price:        DecimalToDoublePrice(decimalPrice),
		decimalPrice: decimalPrice,
		orders:       list.New(),
		index:        make(map[uint64]*list.Element),
	}
}

// Price returns the level price.
func (l *PriceLevel) Price() float64 { return l.price }

// DecimalPrice returns the level price in fixed-point units.
func (l *PriceLevel) DecimalPrice() uint64 { return l.decimalPrice }

// TotalVolume is the sum of the resting orders' volumes.
func (l *PriceLevel) TotalVolume() int { return l.totalVolume }

// Len returns the number of resting orders.
func (l *PriceLevel) Len() int { return l.orders.Len() }

// Front returns a copy of the oldest order at this level.
func (l *PriceLevel) Front() (LimitOrder, bool) {
	if e := l.orders.Front(); e != nil {
		return *e.Value.(*LimitOrder), true
	}
	return LimitOrder{}, false
}

// Orders returns copies of the resting orders oldest first.
func (l *PriceLevel) Orders() []LimitOrder {
	out := make([]LimitOrder, 0, l.orders.Len())
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*LimitOrder))
	}
	return out
}

func (l *PriceLevel) add(o *LimitOrder) {
	l.index[o.OrderID] = l.orders.PushBack(o)
	l.totalVolume += o.Volume
}

func (l *PriceLevel) remove(orderID uint64) {
	e, ok := l.index[orderID]
	if !ok {
		return
	}
	l.totalVolume -= e.Value.(*LimitOrder).Volume
	l.orders.Remove(e)
	delete(l.index, orderID)
}

// modify replaces an order in place, keeping its queue position.
func (l *PriceLevel) modify(o *LimitOrder) {
	e, ok := l.index[o.OrderID]
	if !ok {
		l.add(o)
		return
	}
	l.totalVolume += o.Volume - e.Value.(*LimitOrder).Volume
	e.Value = o
}
