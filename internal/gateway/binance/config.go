package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	Quote       string
	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	out.Quote = strings.ToUpper(strings.TrimSpace(out.Quote))
	if out.Quote == "" || out.Quote == "USD" {
		// Binance spot has no USD pairs; USDT is the conventional stand-in.
		out.Quote = "USDT"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}
