// Package market fetches the close-price series the signal engine runs on.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pairbot/statarb/internal/domain"
)

// DataSource is the market-data slice of the exchange.
type DataSource interface {
	Markets(ctx context.Context) (map[string]domain.Market, error)
	Candles(ctx context.Context, market string, q domain.CandleQuery) ([]domain.Candle, error)
}

// Config controls candle requests.
type Config struct {
	Resolution string
	// Limit is the number of candles per request.
	Limit int
	// Windows is how many consecutive Limit-sized windows the historical
	// table spans.
	Windows int
}

// DefaultConfig is 1-hour candles, 100 per window, 4 windows.
func DefaultConfig() Config {
	return Config{Resolution: "1HOUR", Limit: 100, Windows: 4}
}

// Prices fetches close series.
type Prices struct {
	src    DataSource
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewPrices creates a Prices.
func NewPrices(src DataSource, cfg Config, logger *slog.Logger) *Prices {
	def := DefaultConfig()
	if cfg.Resolution == "" {
		cfg.Resolution = def.Resolution
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Windows <= 0 {
		cfg.Windows = def.Windows
	}
	return &Prices{
		src:    src,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "market_prices")),
	}
}

// RecentCloses returns the most recent Limit closes for market, oldest first.
func (p *Prices) RecentCloses(ctx context.Context, market string) ([]float64, error) {
	candles, err := p.src.Candles(ctx, market, domain.CandleQuery{
		Resolution: p.cfg.Resolution,
		Limit:      p.cfg.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("market: recent closes %s: %w", market, err)
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes, nil
}

// Table is a set of close series aligned on a common timestamp axis.
type Table struct {
	Times  []time.Time
	Series map[string][]float64
}

// Markets returns the table's markets in sorted order.
func (t Table) Markets() []string {
	out := make([]string, 0, len(t.Series))
	for m := range t.Series {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ConstructMarketPrices builds the historical table for every tradeable
// market. Markets missing any timestamp present for another market are
// dropped so every remaining series has the same length.
func (p *Prices) ConstructMarketPrices(ctx context.Context) (Table, error) {
	markets, err := p.src.Markets(ctx)
	if err != nil {
		return Table{}, fmt.Errorf("market: list markets: %w", err)
	}
	var tradeable []string
	for ticker, m := range markets {
		if m.Tradeable() {
			tradeable = append(tradeable, ticker)
		}
	}
	sort.Strings(tradeable)
	if len(tradeable) == 0 {
		return Table{Series: map[string][]float64{}}, nil
	}

	byMarket := make(map[string]map[time.Time]float64, len(tradeable))
	for _, m := range tradeable {
		if err := ctx.Err(); err != nil {
			return Table{}, err
		}
		byMarket[m] = p.historical(ctx, m)
	}
	return align(byMarket, p.logger), nil
}

// historical fetches cfg.Windows consecutive windows ending now. A failed
// window is logged and skipped; the gap then removes the market at alignment.
func (p *Prices) historical(ctx context.Context, market string) map[time.Time]float64 {
	step := resolutionStep(p.cfg.Resolution) * time.Duration(p.cfg.Limit)
	to := p.now().Truncate(time.Minute)
	out := make(map[time.Time]float64, p.cfg.Limit*p.cfg.Windows)

	for w := 0; w < p.cfg.Windows; w++ {
		from := to.Add(-step)
		candles, err := p.src.Candles(ctx, market, domain.CandleQuery{
			Resolution: p.cfg.Resolution,
			Limit:      p.cfg.Limit,
			From:       from,
			To:         to,
		})
		if err != nil {
			p.logger.Warn("historical window failed",
				slog.String("market", market),
				slog.Int("window", w),
				slog.String("error", err.Error()),
			)
		}
		for _, c := range candles {
			out[c.StartedAt.UTC()] = c.Close
		}
		to = from
	}
	return out
}

func align(byMarket map[string]map[time.Time]float64, logger *slog.Logger) Table {
	axis := make(map[time.Time]struct{})
	for _, series := range byMarket {
		for ts := range series {
			axis[ts] = struct{}{}
		}
	}
	times := make([]time.Time, 0, len(axis))
	for ts := range axis {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	table := Table{Times: times, Series: make(map[string][]float64, len(byMarket))}
	var dropped []string
	for m, series := range byMarket {
		if len(series) != len(times) {
			dropped = append(dropped, m)
			continue
		}
		closes := make([]float64, len(times))
		for i, ts := range times {
			closes[i] = series[ts]
		}
		table.Series[m] = closes
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		logger.Info("markets dropped for missing samples", slog.Any("markets", dropped))
	}
	return table
}

// resolutionStep maps an indexer resolution label to its bar length.
func resolutionStep(res string) time.Duration {
	switch res {
	case "1MIN":
		return time.Minute
	case "5MINS":
		return 5 * time.Minute
	case "15MINS":
		return 15 * time.Minute
	case "30MINS":
		return 30 * time.Minute
	case "4HOURS":
		return 4 * time.Hour
	case "1DAY":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
