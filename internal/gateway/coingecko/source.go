// Package coingecko implements the secondary market data provider. CoinGecko
// serves price points and volumes rather than full OHLCV candles, so klines
// synthesized here carry the price as open/high/low/close; the engine only
// degrades to this source when Binance is exhausted.
package coingecko

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"sentinel/internal/market"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// coinIDs maps exchange tickers to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"LTC":   "litecoin",
	"LINK":  "chainlink",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
}

type Config struct {
	BaseURL     string
	Currency    string
	HTTPTimeout time.Duration
}

type Source struct {
	baseURL  string
	currency string
	client   *http.Client

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) *Source {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Source{
		baseURL:  strings.TrimRight(base, "/"),
		currency: currency,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *Source) Name() string { return "coingecko" }

func (s *Source) GetPrice(ctx context.Context, asset string) (float64, error) {
	id, err := coinID(asset)
	if err != nil {
		return 0, err
	}
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", s.currency)
	body, err := s.get(ctx, "/simple/price", query)
	if err != nil {
		return 0, err
	}
	price := gjson.GetBytes(body, id+"."+s.currency)
	if !price.Exists() {
		err := fmt.Errorf("coingecko price %s: not found", id)
		s.recordError(err)
		return 0, err
	}
	s.recordFetch()
	return price.Float(), nil
}

func (s *Source) GetKlines(ctx context.Context, asset, interval string, limit int) ([]market.Candle, error) {
	id, err := coinID(asset)
	if err != nil {
		return nil, err
	}
	days, granularity, ok := chartRange(interval)
	if !ok {
		return nil, fmt.Errorf("coingecko klines: unsupported interval %q", interval)
	}
	query := url.Values{}
	query.Set("vs_currency", s.currency)
	query.Set("days", days)
	query.Set("interval", granularity)
	body, err := s.get(ctx, "/coins/"+id+"/market_chart", query)
	if err != nil {
		return nil, err
	}
	prices := gjson.GetBytes(body, "prices").Array()
	volumes := gjson.GetBytes(body, "total_volumes").Array()
	volumeAt := make(map[int64]float64, len(volumes))
	for _, v := range volumes {
		pair := v.Array()
		if len(pair) == 2 {
			volumeAt[pair[0].Int()] = pair[1].Float()
		}
	}
	out := make([]market.Candle, 0, len(prices))
	for _, p := range prices {
		pair := p.Array()
		if len(pair) != 2 {
			continue
		}
		ts := pair[0].Int()
		price := pair[1].Float()
		out = append(out, market.Candle{
			OpenTime:  ts,
			CloseTime: ts,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    volumeAt[ts],
		})
	}
	s.recordFetch()
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Source) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordError(err)
		return nil, fmt.Errorf("coingecko %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		s.recordError(err)
		return nil, fmt.Errorf("coingecko %s: read body: %w", path, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		s.recordRateLimit()
		return nil, fmt.Errorf("coingecko %s: rate limited", path)
	}
	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("coingecko %s: status %d", path, resp.StatusCode)
		s.recordError(err)
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		err := fmt.Errorf("coingecko %s: malformed response", path)
		s.recordError(err)
		return nil, err
	}
	return body, nil
}

// chartRange maps an engine interval to market_chart parameters. CoinGecko
// serves ranges in days, with granularity inferred from the range.
func chartRange(interval string) (days, granularity string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "1h", "4h", "12h":
		return "1", "hourly", true
	case "1d":
		return "30", "daily", true
	case "1w":
		return "90", "daily", true
	default:
		return "", "", false
	}
}

func coinID(asset string) (string, error) {
	id, ok := coinIDs[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return "", fmt.Errorf("coingecko: no coin id mapping for %q", asset)
	}
	return id, nil
}

func (s *Source) recordFetch() {
	s.statsMu.Lock()
	s.stats.Fetches++
	s.statsMu.Unlock()
}

func (s *Source) recordError(err error) {
	s.statsMu.Lock()
	s.stats.Errors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordRateLimit() {
	s.statsMu.Lock()
	s.stats.Errors++
	s.stats.RateLimits++
	s.stats.LastError = "rate limited"
	s.statsMu.Unlock()
}

var _ market.Source = (*Source)(nil)
