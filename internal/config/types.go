package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Cache     CacheConfig     `toml:"cache"`
	Prefetch  PrefetchConfig  `toml:"prefetch"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	RulesPath     string `toml:"rules_path"`
	TriggerDBPath string `toml:"trigger_db_path"`
}

type MarketConfig struct {
	Binance   BinanceConfig   `toml:"binance"`
	Coingecko CoingeckoConfig `toml:"coingecko"`
}

type BinanceConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	Quote          string `toml:"quote"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type CoingeckoConfig struct {
	Enabled        bool   `toml:"enabled"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type CacheConfig struct {
	Backend         string      `toml:"backend"` // "memory" | "redis"
	PriceTTLSeconds int         `toml:"price_ttl_seconds"`
	KlineTTLSeconds int         `toml:"kline_ttl_seconds"`
	Redis           RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

type PrefetchConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
	MaxAttempts   int `toml:"max_attempts"`
	BackoffMS     int `toml:"backoff_ms"`
}

type SchedulerConfig struct {
	HeartbeatSeconds      int `toml:"heartbeat_seconds"`
	TickTimeoutSeconds    int `toml:"tick_timeout_seconds"`
	ReloadIntervalSeconds int `toml:"reload_interval_seconds"`
	MaxParallel           int `toml:"max_parallel"`
}

type NotifyConfig struct {
	Telegram       TelegramConfig `toml:"telegram"`
	Webhook        WebhookConfig  `toml:"webhook"`
	RetryAttempts  int            `toml:"retry_attempts"`
	RetryBackoffMS int            `toml:"retry_backoff_ms"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type WebhookConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// keySet tracks which field paths the config file set explicitly, so
// defaults never clobber an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
