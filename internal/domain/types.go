// Package domain defines the core types shared across ftrader: contracts,
// orders, positions, market data and the error taxonomy.
package domain

import (
	"fmt"
	"strings"
)

// Direction is the side of an order.
type Direction uint8

const (
	DirectionUnknown Direction = 0
	DirectionBuy     Direction = 1
	DirectionSell    Direction = 2
)

// Opposite returns the other side. Unknown stays unknown.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionUnknown
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Offset says whether an order opens a new position or closes an existing
// one. The values are bit flags so IsOffsetClose can test them as a group.
type Offset uint8

const (
	OffsetUnknown        Offset = 0
	OffsetOpen           Offset = 1
	OffsetClose          Offset = 2
	OffsetCloseToday     Offset = 4
	OffsetCloseYesterday Offset = 8
)

func (o Offset) String() string {
	switch o {
	case OffsetOpen:
		return "open"
	case OffsetClose:
		return "close"
	case OffsetCloseToday:
		return "close_today"
	case OffsetCloseYesterday:
		return "close_yesterday"
	default:
		return "unknown"
	}
}

// IsOffsetOpen reports whether the offset opens a position.
func IsOffsetOpen(o Offset) bool { return o == OffsetOpen }

// IsOffsetClose reports whether the offset closes a position (any flavour).
func IsOffsetClose(o Offset) bool {
	return o&(OffsetClose|OffsetCloseToday|OffsetCloseYesterday) != 0
}

// OffsetEffectiveDirection returns the side of the position an order acts
// on. Opening orders act on their own side; closing orders act on the
// opposite side (a close-sell reduces the long position).
func OffsetEffectiveDirection(d Direction, o Offset) Direction {
	if IsOffsetClose(o) {
		return d.Opposite()
	}
	return d
}

// OrderType is the execution style of an order.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = 0
	OrderTypeMarket  OrderType = 1
	OrderTypeLimit   OrderType = 2
	OrderTypeBest    OrderType = 3
	OrderTypeFAK     OrderType = 4
	OrderTypeFOK     OrderType = 5
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeBest:
		return "best"
	case OrderTypeFAK:
		return "fak"
	case OrderTypeFOK:
		return "fok"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	return t >= OrderTypeMarket && t <= OrderTypeFOK
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus uint8

const (
	OrderStatusSubmitting OrderStatus = iota
	OrderStatusRejected
	OrderStatusNoTraded
	OrderStatusPartTraded
	OrderStatusAllTraded
	OrderStatusCanceled
	OrderStatusPartCanceled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitting:
		return "submitting"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusNoTraded:
		return "no_traded"
	case OrderStatusPartTraded:
		return "part_traded"
	case OrderStatusAllTraded:
		return "all_traded"
	case OrderStatusCanceled:
		return "canceled"
	case OrderStatusPartCanceled:
		return "part_canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusAllTraded, OrderStatusCanceled, OrderStatusPartCanceled:
		return true
	}
	return false
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{DirectionBuy, DirectionSell} {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return DirectionUnknown, fmt.Errorf("unknown direction %q", s)
}

// ParseOffset is the inverse of Offset.String.
func ParseOffset(s string) (Offset, error) {
	for _, o := range []Offset{OffsetOpen, OffsetClose, OffsetCloseToday, OffsetCloseYesterday} {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return OffsetUnknown, fmt.Errorf("unknown offset %q", s)
}

// ParseOrderType is the inverse of OrderType.String.
func ParseOrderType(s string) (OrderType, error) {
	for t := OrderTypeMarket; t <= OrderTypeFOK; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return OrderTypeUnknown, fmt.Errorf("unknown order type %q", s)
}
