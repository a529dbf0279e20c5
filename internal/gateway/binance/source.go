package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"sentinel/internal/market"
)

const maxKlineLimit = 1000

// Source implements market.Source on the Binance spot REST API via the
// go-binance SDK. It is the primary provider for price and kline keys.
type Source struct {
	cfg    Config
	client *binance.Client

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := binance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) Name() string { return "binance" }

// pair builds a Binance trading pair, e.g. "BTC" -> "BTCUSDT".
func (s *Source) pair(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset)) + s.cfg.Quote
}

func (s *Source) GetPrice(ctx context.Context, asset string) (float64, error) {
	if strings.TrimSpace(asset) == "" {
		return 0, fmt.Errorf("asset is required")
	}
	pair := s.pair(asset)
	prices, err := s.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		s.recordError(err)
		return 0, fmt.Errorf("binance price %s: %w", pair, err)
	}
	s.recordFetch()
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, pair) {
			continue
		}
		return parseFloat(p.Price), nil
	}
	return 0, fmt.Errorf("binance price %s: no data", pair)
}

func (s *Source) GetKlines(ctx context.Context, asset, interval string, limit int) ([]market.Candle, error) {
	if strings.TrimSpace(asset) == "" {
		return nil, fmt.Errorf("asset is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	pair := s.pair(asset)
	kls, err := s.client.NewKlinesService().Symbol(pair).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		s.recordError(err)
		return nil, fmt.Errorf("binance klines %s %s: %w", pair, interval, err)
	}
	s.recordFetch()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error { return nil }

func (s *Source) recordFetch() {
	s.statsMu.Lock()
	s.stats.Fetches++
	s.statsMu.Unlock()
}

func (s *Source) recordError(err error) {
	s.statsMu.Lock()
	s.stats.Errors++
	s.stats.LastError = err.Error()
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -1003 {
		s.stats.RateLimits++
	}
	s.statsMu.Unlock()
}

func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

var _ market.Source = (*Source)(nil)
