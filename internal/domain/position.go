package domain

// PositionDetail is one side (long or short) of a position.
type PositionDetail struct {
	Holdings     int     `json:"holdings"`
	YdHoldings   int     `json:"yd_holdings"`
	Frozen       int     `json:"frozen"`
	OpenPending  int     `json:"open_pending"`
	ClosePending int     `json:"close_pending"`
	CostPrice    float64 `json:"cost_price"`
	FloatPnl     float64 `json:"float_pnl"`
}

// Position is the long and short detail for one instrument.
type Position struct {
	TickerID uint32         `json:"ticker_id"`
	Long     PositionDetail `json:"long"`
	Short    PositionDetail `json:"short"`
}

// Side returns a pointer to the detail for direction d.
func (p *Position) Side(d Direction) *PositionDetail {
	if d == DirectionSell {
		return &p.Short
	}
	return &p.Long
}

// Empty reports whether neither side holds or reserves anything.
func (p *Position) Empty() bool {
	return p.Long == PositionDetail{} && p.Short == PositionDetail{}
}

// Account is the trading account's cash state.
type Account struct {
	AccountID  uint64  `json:"account_id"`
	TotalAsset float64 `json:"total_asset"`
	Cash       float64 `json:"cash"`
	Margin     float64 `json:"margin"`
	Frozen     float64 `json:"frozen"`
}
