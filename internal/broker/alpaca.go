package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"ftrader/internal/domain"
	"ftrader/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// clientOrderPrefix tags the Alpaca client order id so trade updates for
// orders placed elsewhere can be told apart.
const clientOrderPrefix = "ft-"

// Alpaca allows 200 REST requests per minute per account.
const (
	alpacaRequestsPerMinute = 200
	alpacaRequestBurst      = 10
)

// alpacaClient is the subset of *alpaca.Client the gateway uses.
type alpacaClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	StreamTradeUpdatesInBackground(ctx context.Context, handler func(alpaca.TradeUpdate))
}

// AlpacaGateway implements Gateway using the Alpaca trading API. Order
// outcomes arrive through the trade-update stream started by Login.
type AlpacaGateway struct {
	client    alpacaClient
	contracts *domain.ContractTable
	limiter   *util.RateLimiter // nil disables limiting
	log       *slog.Logger

	mu       sync.Mutex
	listener Listener
	cancel   context.CancelFunc
}

// NewAlpacaGateway creates a gateway configured with the given credentials
// and API endpoint.
func NewAlpacaGateway(apiKey, apiSecret, baseURL string, contracts *domain.ContractTable, log *slog.Logger) *AlpacaGateway {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	g := newAlpacaGateway(client, contracts, log)
	g.limiter = util.NewRateLimiter(alpacaRequestsPerMinute, alpacaRequestBurst)
	return g
}

func newAlpacaGateway(client alpacaClient, contracts *domain.ContractTable, log *slog.Logger) *AlpacaGateway {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaGateway{client: client, contracts: contracts, log: log.With("gateway", "alpaca")}
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string {
	return "alpaca"
}

// Login starts the trade-update stream. It runs until Logout or until ctx
// is canceled.
func (g *AlpacaGateway) Login(ctx context.Context, l Listener) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return fmt.Errorf("alpaca: already logged in")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	g.listener = l
	g.cancel = cancel
	g.client.StreamTradeUpdatesInBackground(streamCtx, g.handleTradeUpdate)
	g.log.Info("trade update stream started")
	return nil
}

// Logout stops the trade-update stream.
func (g *AlpacaGateway) Logout() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.listener = nil
	return nil
}

// SendOrder places the order and returns the Alpaca order id as privdata.
func (g *AlpacaGateway) SendOrder(ctx context.Context, req *domain.OrderRequest) (string, error) {
	contract, ok := g.contracts.ByTickerID(req.TickerID)
	if !ok {
		return "", fmt.Errorf("alpaca: unknown ticker_id %d", req.TickerID)
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}

	placed, err := g.client.PlaceOrder(toPlaceOrderRequest(contract.Ticker, req))
	if err != nil {
		return "", fmt.Errorf("alpaca: place order %d: %w", req.OrderID, err)
	}
	return placed.ID, nil
}

func (g *AlpacaGateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("alpaca: rate limit: %w", err)
	}
	return nil
}

func toPlaceOrderRequest(symbol string, req *domain.OrderRequest) alpaca.PlaceOrderRequest {
	qty := decimal.NewFromInt(int64(req.Volume))
	out := alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientOrderPrefix + strconv.FormatUint(req.OrderID, 10),
	}
	if req.Direction == domain.DirectionSell {
		out.Side = alpaca.Sell
	}

	switch req.Type {
	case domain.OrderTypeMarket, domain.OrderTypeBest:
		out.Type = alpaca.Market
		return out
	case domain.OrderTypeFAK:
		out.TimeInForce = alpaca.IOC
	case domain.OrderTypeFOK:
		out.TimeInForce = alpaca.FOK
	}
	limit := decimal.NewFromFloat(req.Price)
	out.LimitPrice = &limit
	return out
}

// CancelOrder cancels by Alpaca order id.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID uint64, privdata string) error {
	if privdata == "" {
		return fmt.Errorf("alpaca: order %d has no broker id", orderID)
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if err := g.client.CancelOrder(privdata); err != nil {
		return fmt.Errorf("alpaca: cancel order %d: %w", orderID, err)
	}
	return nil
}

// QueryAccount maps the Alpaca account onto domain.Account.
func (g *AlpacaGateway) QueryAccount(context.Context) (domain.Account, error) {
	acct, err := g.client.GetAccount()
	if err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: get account: %w", err)
	}
	return domain.Account{
		TotalAsset: acct.Equity.InexactFloat64(),
		Cash:       acct.Cash.InexactFloat64(),
		Margin:     acct.InitialMargin.InexactFloat64(),
	}, nil
}

// QueryPositions maps Alpaca positions onto configured contracts. Symbols
// that are not configured are skipped.
func (g *AlpacaGateway) QueryPositions(context.Context) ([]domain.Position, error) {
	positions, err := g.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca: get positions: %w", err)
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		contract, ok := g.contracts.ByTicker(p.Symbol)
		if !ok {
			g.log.Warn("position for unconfigured symbol", "symbol", p.Symbol)
			continue
		}
		detail := domain.PositionDetail{
			Holdings:   int(p.Qty.Abs().IntPart()),
			YdHoldings: int(p.Qty.Abs().IntPart()),
			CostPrice:  p.AvgEntryPrice.InexactFloat64(),
		}
		pos := domain.Position{TickerID: contract.TickerID}
		if strings.EqualFold(p.Side, "short") || p.Qty.IsNegative() {
			pos.Short = detail
		} else {
			pos.Long = detail
		}
		out = append(out, pos)
	}
	return out, nil
}

// handleTradeUpdate translates one stream event into a listener callback.
func (g *AlpacaGateway) handleTradeUpdate(tu alpaca.TradeUpdate) {
	g.mu.Lock()
	l := g.listener
	g.mu.Unlock()
	if l == nil {
		return
	}

	orderID, ok := parseClientOrderID(tu.Order.ClientOrderID)
	if !ok {
		return
	}

	switch tu.Event {
	case "new", "accepted":
		l.OnOrderAccepted(orderID)
	case "fill", "partial_fill":
		if tu.Qty == nil || tu.Price == nil {
			g.log.Error("fill without qty or price", "order_id", orderID)
			return
		}
		l.OnOrderTraded(orderID, int(tu.Qty.IntPart()), tu.Price.InexactFloat64())
	case "canceled", "expired", "done_for_day":
		remaining := decimal.Zero
		if tu.Order.Qty != nil {
			remaining = tu.Order.Qty.Sub(tu.Order.FilledQty)
		}
		l.OnOrderCanceled(orderID, int(remaining.IntPart()))
	case "rejected":
		l.OnOrderRejected(orderID, tu.Event)
	default:
		g.log.Debug("ignored trade update", "event", tu.Event, "order_id", orderID)
	}
}

func parseClientOrderID(s string) (uint64, bool) {
	if !strings.HasPrefix(s, clientOrderPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(s, clientOrderPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
