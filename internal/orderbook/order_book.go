package orderbook

import (
	"github.com/google/btree"

	"ftrader/internal/domain"
)

const btreeDegree = 32

// OrderBook is a two-sided book for a single instrument. Bids iterate from
// the highest price, asks from the lowest. It is not safe for concurrent
// use; the owner serializes access.
type OrderBook struct {
	tickerID uint32
	orders   map[uint64]*LimitOrder
	bids     *btree.BTreeG[*PriceLevel]
	asks     *btree.BTreeG[*PriceLevel]
}

// New creates an empty book.
func New(tickerID uint32) *OrderBook {
	return &OrderBook{
		tickerID: tickerID,
		orders:   make(map[uint64]*LimitOrder),
		bids: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool {
			return a.decimalPrice > b.decimalPrice
		}),
		asks: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool {
			return a.decimalPrice < b.decimalPrice
		}),
	}
}

// TickerID returns the instrument the book belongs to.
func (b *OrderBook) TickerID() uint32 { return b.tickerID }

// Len returns the number of resting orders.
func (b *OrderBook) Len() int { return len(b.orders) }

// Order returns a copy of a resting order. Editing the copy does not touch
// the book; pass it to ModifyOrder instead.
func (b *OrderBook) Order(orderID uint64) (LimitOrder, bool) {
	o, ok := b.orders[orderID]
	if !ok {
		return LimitOrder{}, false
	}
	return *o, true
}

func (b *OrderBook) side(isBuy bool) *btree.BTreeG[*PriceLevel] {
	if isBuy {
		return b.bids
	}
	return b.asks
}

// AddOrder inserts a copy of o at the back of its price level, creating the
// level if needed. Adding an id that is already resting behaves like
// ModifyOrder.
func (b *OrderBook) AddOrder(o *LimitOrder) {
	if _, ok := b.orders[o.OrderID]; ok {
		b.ModifyOrder(o)
		return
	}
	o = o.clone()
	levels := b.side(o.IsBuy())
	level, ok := levels.Get(&PriceLevel{decimalPrice: o.decimalPrice})
	if !ok {
		level = newPriceLevel(o.decimalPrice)
		levels.ReplaceOrInsert(level)
	}
	level.add(o)
	b.orders[o.OrderID] = o
}

// ModifyOrder changes the volume of a resting order in place. A price or
// side change loses queue priority (remove + add). An unknown order is
// added.
func (b *OrderBook) ModifyOrder(o *LimitOrder) {
	old, ok := b.orders[o.OrderID]
	if !ok {
		b.AddOrder(o)
		return
	}
	o = o.clone()
	if old.decimalPrice != o.decimalPrice || old.Direction != o.Direction {
		b.RemoveOrder(o.OrderID)
		b.AddOrder(o)
		return
	}
	levels := b.side(o.IsBuy())
	level, ok := levels.Get(&PriceLevel{decimalPrice: o.decimalPrice})
	if !ok {
		return
	}
	level.modify(o)
	b.orders[o.OrderID] = o
	if level.totalVolume <= 0 {
		b.dropLevel(levels, level)
	}
}

// RemoveOrder removes a resting order. Unknown ids are ignored.
func (b *OrderBook) RemoveOrder(orderID uint64) {
	o, ok := b.orders[orderID]
	if !ok {
		return
	}
	delete(b.orders, orderID)

	levels := b.side(o.IsBuy())
	level, ok := levels.Get(&PriceLevel{decimalPrice: o.decimalPrice})
	if !ok {
		return
	}
	level.remove(orderID)
	if level.totalVolume <= 0 || level.Len() == 0 {
		b.dropLevel(levels, level)
	}
}

// dropLevel deletes a level once it is empty. Orders left on a level with
// zero volume are forgotten along with it.
func (b *OrderBook) dropLevel(levels *btree.BTreeG[*PriceLevel], level *PriceLevel) {
	for _, o := range level.Orders() {
		delete(b.orders, o.OrderID)
	}
	levels.Delete(level)
}

// BestBid returns the highest bid level, or nil.
func (b *OrderBook) BestBid() *PriceLevel {
	l, _ := b.bids.Min()
	return l
}

// BestAsk returns the lowest ask level, or nil.
func (b *OrderBook) BestAsk() *PriceLevel {
	l, _ := b.asks.Min()
	return l
}

// Level returns the level at price on one side.
func (b *OrderBook) Level(isBuy bool, price float64) (*PriceLevel, bool) {
	return b.side(isBuy).Get(&PriceLevel{decimalPrice: DoubleToDecimalPrice(price)})
}

// LevelCount returns the number of levels on one side.
func (b *OrderBook) LevelCount(isBuy bool) int { return b.side(isBuy).Len() }

// Depth returns up to n levels per side, best first.
func (b *OrderBook) Depth(n int) (bids, asks []*PriceLevel) {
	if n <= 0 {
		return nil, nil
	}
	collect := func(levels *btree.BTreeG[*PriceLevel]) []*PriceLevel {
		out := make([]*PriceLevel, 0, n)
		levels.Ascend(func(l *PriceLevel) bool {
			out = append(out, l)
			return len(out) < n
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// ToTick fills the bid/ask arrays of a snapshot from the top of the book.
// Unused levels are zeroed.
func (b *OrderBook) ToTick(tick *domain.TickData) {
	tick.TickerID = b.tickerID
	tick.BidPrice = [domain.MaxMarketLevel]float64{}
	tick.BidVolume = [domain.MaxMarketLevel]int64{}
	tick.AskPrice = [domain.MaxMarketLevel]float64{}
	tick.AskVolume = [domain.MaxMarketLevel]int64{}

	bids, asks := b.Depth(domain.MaxMarketLevel)
	for i, l := range bids {
		tick.BidPrice[i] = l.price
		tick.BidVolume[i] = int64(l.totalVolume)
	}
	for i, l := range asks {
		tick.AskPrice[i] = l.price
		tick.AskVolume[i] = int64(l.totalVolume)
	}
}
