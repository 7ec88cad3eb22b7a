// Package ftrader is a Go client for the ftrader read-only HTTP API.
package ftrader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ftrader/internal/api"
	"ftrader/internal/domain"
)

// Response types returned by the API.
type (
	Position          = domain.Position
	Order             = domain.Order
	Account           = domain.Account
	TickData          = domain.TickData
	StrategyPositions = api.StrategyPositions
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ftrader api: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the ftrader API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new ftrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Positions retrieves the non-empty positions of every strategy.
func (c *Client) Positions(ctx context.Context) ([]StrategyPositions, error) {
	var out []StrategyPositions
	return out, c.get(ctx, "/api/v1/positions", nil, &out)
}

// LiveOrders retrieves in-flight orders. An empty strategy returns all of
// them.
func (c *Client) LiveOrders(ctx context.Context, strategy string) ([]Order, error) {
	q := url.Values{}
	if strategy != "" {
		q.Set("strategy", strategy)
	}
	var out []Order
	return out, c.get(ctx, "/api/v1/orders", q, &out)
}

// Account retrieves the account snapshot.
func (c *Client) Account(ctx context.Context) (Account, error) {
	var out Account
	return out, c.get(ctx, "/api/v1/account", nil, &out)
}

// Book retrieves simulated order-book depth for one instrument. Only a
// backtest server provides it.
func (c *Client) Book(ctx context.Context, tickerID uint32) (TickData, error) {
	var out TickData
	return out, c.get(ctx, "/api/v1/book/"+strconv.FormatUint(uint64(tickerID), 10), nil, &out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
