// Package orderbook implements a price-time priority limit order book keyed
// by fixed-point prices.
package orderbook

import "github.com/shopspring/decimal"

// PriceScale is the number of fixed-point units per price unit.
const PriceScale = 10000

var priceScale = decimal.NewFromInt(PriceScale)

// DoubleToDecimalPrice converts a price to fixed-point units of 1/10000,
// rounding half up. Negative prices map to 0.
func DoubleToDecimalPrice(price float64) uint64 {
	if price <= 0 {
		return 0
	}
	return uint64(decimal.NewFromFloat(price).Mul(priceScale).Round(0).IntPart())
}

// DecimalToDoublePrice converts fixed-point units back to a price.
func DecimalToDoublePrice(p uint64) float64 {
	return float64(p) / PriceScale
}
