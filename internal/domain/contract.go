package domain

// ProductType classifies a tradable instrument.
type ProductType string

const (
	ProductFutures ProductType = "futures"
	ProductStock   ProductType = "stock"
	ProductOption  ProductType = "option"
)

// Contract is the static reference data for one instrument.
type Contract struct {
	TickerID        uint32      `yaml:"ticker_id" json:"ticker_id"`
	Ticker          string      `yaml:"ticker" json:"ticker"`
	Exchange        string      `yaml:"exchange" json:"exchange"`
	Name            string      `yaml:"name" json:"name"`
	ProductType     ProductType `yaml:"product_type" json:"product_type"`
	Size            int         `yaml:"size" json:"size"`
	PriceTick       float64     `yaml:"price_tick" json:"price_tick"`
	LongMarginRate  float64     `yaml:"long_margin_rate" json:"long_margin_rate"`
	ShortMarginRate float64     `yaml:"short_margin_rate" json:"short_margin_rate"`
}

// MarginRate returns the margin rate that applies to a position on side d.
// A zero rate means fully funded (1.0).
func (c *Contract) MarginRate(d Direction) float64 {
	rate := c.LongMarginRate
	if d == DirectionSell {
		rate = c.ShortMarginRate
	}
	if rate <= 0 {
		return 1
	}
	return rate
}

// ContractTable is an immutable lookup of contracts by ticker id and by
// ticker symbol. It is built once at startup and shared by pointer; all
// methods are safe for concurrent use because nothing mutates it.
type ContractTable struct {
	byID     map[uint32]*Contract
	byTicker map[string]*Contract
	all      []*Contract
}

// NewContractTable copies contracts into a new table. Contracts with a zero
// TickerID are assigned the next free id in input order.
func NewContractTable(contracts []Contract) *ContractTable {
	t := &ContractTable{
		byID:     make(map[uint32]*Contract, len(contracts)),
		byTicker: make(map[string]*Contract, len(contracts)),
		all:      make([]*Contract, 0, len(contracts)),
	}

	var next uint32
	for _, c := range contracts {
		if c.TickerID > next {
			next = c.TickerID
		}
	}

	for i := range contracts {
		c := contracts[i]
		if c.TickerID == 0 {
			next++
			c.TickerID = next
		}
		t.byID[c.TickerID] = &c
		t.byTicker[c.Ticker] = &c
		t.all = append(t.all, &c)
	}
	return t
}

// ByTickerID returns the contract with the given id.
func (t *ContractTable) ByTickerID(id uint32) (*Contract, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// ByTicker returns the contract with the given ticker symbol.
func (t *ContractTable) ByTicker(ticker string) (*Contract, bool) {
	c, ok := t.byTicker[ticker]
	return c, ok
}

// Len returns the number of contracts.
func (t *ContractTable) Len() int { return len(t.all) }

// All returns the contracts in construction order. The slice must not be
// modified.
func (t *ContractTable) All() []*Contract { return t.all }
