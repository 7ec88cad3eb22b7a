package domain

// MaxMarketLevel is the depth carried by a TickData.
const MaxMarketLevel = 5

// TickData is a level-2 snapshot for one instrument.
type TickData struct {
	TickerID  uint32                  `json:"ticker_id"`
	Timestamp int64                   `json:"timestamp"` // unix millis
	LastPrice float64                 `json:"last_price"`
	Volume    int64                   `json:"volume"`
	Turnover  float64                 `json:"turnover"`
	OpenPrice float64                 `json:"open_price"`
	HighPrice float64                 `json:"high_price"`
	LowPrice  float64                 `json:"low_price"`
	BidPrice  [MaxMarketLevel]float64 `json:"bid_price"`
	AskPrice  [MaxMarketLevel]float64 `json:"ask_price"`
	BidVolume [MaxMarketLevel]int64   `json:"bid_volume"`
	AskVolume [MaxMarketLevel]int64   `json:"ask_volume"`
}

// BestBid returns the top bid price, 0 when the side is empty.
func (t *TickData) BestBid() float64 { return t.BidPrice[0] }

// BestAsk returns the top ask price, 0 when the side is empty.
func (t *TickData) BestAsk() float64 { return t.AskPrice[0] }
