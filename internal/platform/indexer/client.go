// Package indexer is a read-only REST client for a dYdX v4 style indexer:
// perpetual markets, candles, subaccount balance, open positions and orders.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/pairbot/statarb/internal/domain"
)

// Config configures the client.
type Config struct {
	BaseURL           string
	Address           string
	SubaccountNumber  int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client talks to the indexer. Every request waits on a shared limiter.
type Client struct {
	baseURL    string
	address    string
	subaccount int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client. A zero RequestsPerSecond means 5/s.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		address:    cfg.Address,
		subaccount: cfg.SubaccountNumber,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger.With(slog.String("component", "indexer")),
	}
}

// Markets returns every perpetual market keyed by ticker.
func (c *Client) Markets(ctx context.Context) (map[string]domain.Market, error) {
	var resp marketsResponse
	if err := c.get(ctx, "/v4/perpetualMarkets", nil, &resp); err != nil {
		return nil, fmt.Errorf("indexer: get markets: %w", err)
	}

	out := make(map[string]domain.Market, len(resp.Markets))
	for key, m := range resp.Markets {
		ticker := m.Ticker
		if ticker == "" {
			ticker = key
		}
		market := domain.Market{
			Ticker: ticker,
			Status: m.Status,
			Type:   m.MarketType,
		}
		var err error
		if market.TickSize, err = decimal.NewFromString(m.TickSize); err != nil {
			return nil, fmt.Errorf("indexer: tick size of %s: %w", ticker, err)
		}
		if market.StepSize, err = decimal.NewFromString(m.StepSize); err != nil {
			return nil, fmt.Errorf("indexer: step size of %s: %w", ticker, err)
		}
		// v4 has no separate minimum; one step is the smallest order.
		market.MinOrderSize = market.StepSize
		if m.MinOrderSize != "" {
			if market.MinOrderSize, err = decimal.NewFromString(m.MinOrderSize); err != nil {
				return nil, fmt.Errorf("indexer: min order size of %s: %w", ticker, err)
			}
		}
		if m.OraclePrice != "" {
			market.OraclePrice, _ = strconv.ParseFloat(m.OraclePrice, 64)
		}
		out[ticker] = market
	}
	return out, nil
}

// Candles returns candles for market in ascending time order. The indexer
// serves them newest first.
func (c *Client) Candles(ctx context.Context, market string, q domain.CandleQuery) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("resolution", q.Resolution)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.From.IsZero() {
		params.Set("fromISO", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		params.Set("toISO", q.To.UTC().Format(time.RFC3339))
	}

	var resp candlesResponse
	path := "/v4/candles/perpetualMarkets/" + url.PathEscape(market)
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, fmt.Errorf("indexer: get candles %s: %w", market, err)
	}

	out := make([]domain.Candle, 0, len(resp.Candles))
	for _, raw := range resp.Candles {
		started, err := time.Parse(time.RFC3339Nano, raw.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("indexer: candle time %q: %w", raw.StartedAt, err)
		}
		closePrice, err := strconv.ParseFloat(raw.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer: candle close %q: %w", raw.Close, err)
		}
		out = append(out, domain.Candle{Market: market, StartedAt: started, Close: closePrice})
	}
	slices.Reverse(out)
	return out, nil
}

// Account returns the configured subaccount's equity and free collateral.
func (c *Client) Account(ctx context.Context) (domain.Account, error) {
	var resp subaccountResponse
	path := fmt.Sprintf("/v4/addresses/%s/subaccountNumber/%d", url.PathEscape(c.address), c.subaccount)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return domain.Account{}, fmt.Errorf("indexer: get subaccount: %w", err)
	}
	equity, err := strconv.ParseFloat(resp.Subaccount.Equity, 64)
	if err != nil {
		return domain.Account{}, fmt.Errorf("indexer: equity %q: %w", resp.Subaccount.Equity, err)
	}
	free, err := strconv.ParseFloat(resp.Subaccount.FreeCollateral, 64)
	if err != nil {
		return domain.Account{}, fmt.Errorf("indexer: free collateral %q: %w", resp.Subaccount.FreeCollateral, err)
	}
	return domain.Account{Equity: equity, FreeCollateral: free}, nil
}

// OpenPositions returns the subaccount's open perpetual positions.
func (c *Client) OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	params := url.Values{}
	params.Set("address", c.address)
	params.Set("subaccountNumber", strconv.Itoa(c.subaccount))
	params.Set("status", "OPEN")

	var resp positionsResponse
	if err := c.get(ctx, "/v4/perpetualPositions", params, &resp); err != nil {
		return nil, fmt.Errorf("indexer: get positions: %w", err)
	}
	out := make([]domain.ExchangePosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil {
			return nil, fmt.Errorf("indexer: position size %q: %w", p.Size, err)
		}
		out = append(out, domain.ExchangePosition{Market: p.Market, Side: p.Side, Size: size.Abs()})
	}
	return out, nil
}

// GetOrder returns the indexer's record of an order.
func (c *Client) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var raw apiOrder
	if err := c.get(ctx, "/v4/orders/"+url.PathEscape(id), nil, &raw); err != nil {
		return domain.Order{}, fmt.Errorf("indexer: get order %s: %w", id, err)
	}
	return toOrder(raw)
}

func toOrder(raw apiOrder) (domain.Order, error) {
	size, err := decimal.NewFromString(raw.Size)
	if err != nil {
		return domain.Order{}, fmt.Errorf("indexer: order size %q: %w", raw.Size, err)
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("indexer: order price %q: %w", raw.Price, err)
	}
	o := domain.Order{
		ID:         raw.ID,
		ClientID:   raw.ClientID,
		Market:     raw.Ticker,
		Side:       domain.OrderSide(strings.ToUpper(raw.Side)),
		Size:       size,
		Price:      price,
		ReduceOnly: raw.ReduceOnly,
		Status:     domain.OrderStatus(strings.ToUpper(raw.Status)),
	}
	if raw.UpdatedAt != "" {
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw.UpdatedAt)
	}
	return o, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("indexer request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus maps non-2xx responses to errors, using the domain sentinels
// where one fits.
func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.message()

	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", msg)
	default:
		return fmt.Errorf("HTTP %d: %s", code, msg)
	}
}
