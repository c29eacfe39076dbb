package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pairbot/statarb/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:           srv.URL,
		Address:           "dydx1abc",
		SubaccountNumber:  0,
		RequestsPerSecond: 1000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMarketsParsesDecimals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/perpetualMarkets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"markets":{
			"BTC-USD":{"ticker":"BTC-USD","status":"ACTIVE","oraclePrice":"61000.5","tickSize":"1","stepSize":"0.0001"},
			"ETH-USD":{"ticker":"ETH-USD","status":"PAUSED","oraclePrice":"3000","tickSize":"0.1","stepSize":"0.001","minOrderSize":"0.01"}}}`)
	})

	markets, err := c.Markets(context.Background())
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	btc := markets["BTC-USD"]
	if !btc.Tradeable() || btc.TickSize.String() != "1" || btc.StepSize.String() != "0.0001" {
		t.Errorf("btc = %+v", btc)
	}
	if !btc.MinOrderSize.Equal(btc.StepSize) {
		t.Errorf("min order size should default to step size, got %s", btc.MinOrderSize)
	}
	eth := markets["ETH-USD"]
	if eth.Tradeable() {
		t.Error("paused market reported tradeable")
	}
	if eth.MinOrderSize.String() != "0.01" {
		t.Errorf("eth min order size = %s", eth.MinOrderSize)
	}
}

func TestCandlesAreAscending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("resolution") != "1HOUR" || q.Get("limit") != "3" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Get("toISO") != "2024-02-01T00:00:00Z" {
			t.Errorf("toISO = %q", q.Get("toISO"))
		}
		_, _ = io.WriteString(w, `{"candles":[
			{"startedAt":"2024-01-31T23:00:00.000Z","close":"3"},
			{"startedAt":"2024-01-31T22:00:00.000Z","close":"2"},
			{"startedAt":"2024-01-31T21:00:00.000Z","close":"1"}]}`)
	})

	candles, err := c.Candles(context.Background(), "SOL-USD", domain.CandleQuery{
		Resolution: "1HOUR",
		Limit:      3,
		To:         time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles", len(candles))
	}
	for i, want := range []float64{1, 2, 3} {
		if candles[i].Close != want {
			t.Errorf("candle %d close = %v, want %v", i, candles[i].Close, want)
		}
	}
	if !candles[0].StartedAt.Before(candles[2].StartedAt) {
		t.Error("candles not ascending")
	}
}

func TestAccountAndPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v4/addresses/dydx1abc/subaccountNumber/0":
			_, _ = io.WriteString(w, `{"subaccount":{"equity":"1500.25","freeCollateral":"900.5"}}`)
		case "/v4/perpetualPositions":
			if r.URL.Query().Get("status") != "OPEN" {
				t.Errorf("status filter missing")
			}
			_, _ = io.WriteString(w, `{"positions":[{"market":"BTC-USD","side":"SHORT","size":"-0.002","status":"OPEN"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	acct, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.FreeCollateral != 900.5 || acct.Equity != 1500.25 {
		t.Errorf("account = %+v", acct)
	}

	positions, err := c.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Size.String() != "0.002" || positions[0].Side != "SHORT" {
		t.Errorf("positions = %+v", positions)
	}
}

func TestGetOrderMapsStatusAndErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v4/orders/abc":
			_, _ = io.WriteString(w, `{"id":"abc","ticker":"ETH-USD","side":"SELL","size":"0.5","price":"2990","status":"FILLED","reduceOnly":true}`)
		case "/v4/orders/slow":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"errors":[{"msg":"slow down"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[{"msg":"order not found"}]}`)
		}
	})

	o, err := c.GetOrder(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFilled || o.Side != domain.OrderSideSell || !o.ReduceOnly || o.Market != "ETH-USD" {
		t.Errorf("order = %+v", o)
	}

	if _, err := c.GetOrder(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing order err = %v", err)
	}
	if _, err := c.GetOrder(context.Background(), "slow"); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("429 err = %v", err)
	}
}
