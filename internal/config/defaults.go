package config

import "strings"

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "/data/logs/sentinel.log"
	defaultAppRulesPath      = "configs/rules.yaml"
	defaultAppTriggerDB      = "/data/db/triggers.db"
	defaultBinanceREST       = "https://api.binance.com"
	defaultBinanceQuote      = "USDT"
	defaultBinanceTimeout    = 15
	defaultCoingeckoREST     = "https://api.coingecko.com/api/v3"
	defaultCoingeckoTimeout  = 15
	defaultCacheBackend      = "memory"
	defaultCachePriceTTL     = 30
	defaultCacheKlineTTL     = 60
	defaultRedisAddr         = "localhost:6379"
	defaultRedisPoolSize     = 10
	defaultRedisMaxRetries   = 3
	defaultPrefetchParallel  = 8
	defaultPrefetchAttempts  = 3
	defaultPrefetchBackoffMS = 200
	defaultSchedHeartbeat    = 5
	defaultSchedTickTimeout  = 30
	defaultSchedReload       = 60
	defaultSchedParallel     = 4
	defaultNotifyAttempts    = 3
	defaultNotifyBackoffMS   = 2000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Prefetch.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.rules_path", &a.RulesPath, defaultAppRulesPath),
		stringFieldDefault("app.trigger_db_path", &a.TriggerDBPath, defaultAppTriggerDB),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
		stringFieldDefault("market.binance.quote", &m.Binance.Quote, defaultBinanceQuote),
		intFieldDefault("market.binance.timeout_seconds", &m.Binance.TimeoutSeconds, defaultBinanceTimeout),
		stringFieldDefault("market.coingecko.rest_base_url", &m.Coingecko.RESTBaseURL, defaultCoingeckoREST),
		intFieldDefault("market.coingecko.timeout_seconds", &m.Coingecko.TimeoutSeconds, defaultCoingeckoTimeout),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("cache.backend", &c.Backend, defaultCacheBackend),
		intFieldDefault("cache.price_ttl_seconds", &c.PriceTTLSeconds, defaultCachePriceTTL),
		intFieldDefault("cache.kline_ttl_seconds", &c.KlineTTLSeconds, defaultCacheKlineTTL),
		stringFieldDefault("cache.redis.addr", &c.Redis.Addr, defaultRedisAddr),
		intFieldDefault("cache.redis.pool_size", &c.Redis.PoolSize, defaultRedisPoolSize),
		intFieldDefault("cache.redis.max_retries", &c.Redis.MaxRetries, defaultRedisMaxRetries),
	)
}

func (p *PrefetchConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("prefetch.max_concurrent", &p.MaxConcurrent, defaultPrefetchParallel),
		intFieldDefault("prefetch.max_attempts", &p.MaxAttempts, defaultPrefetchAttempts),
		intFieldDefault("prefetch.backoff_ms", &p.BackoffMS, defaultPrefetchBackoffMS),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.heartbeat_seconds", &s.HeartbeatSeconds, defaultSchedHeartbeat),
		intFieldDefault("scheduler.tick_timeout_seconds", &s.TickTimeoutSeconds, defaultSchedTickTimeout),
		intFieldDefault("scheduler.reload_interval_seconds", &s.ReloadIntervalSeconds, defaultSchedReload),
		intFieldDefault("scheduler.max_parallel", &s.MaxParallel, defaultSchedParallel),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.retry_attempts", &n.RetryAttempts, defaultNotifyAttempts),
		intFieldDefault("notify.retry_backoff_ms", &n.RetryBackoffMS, defaultNotifyBackoffMS),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if keys.isSet(def.key) {
			continue
		}
		if def.need == nil || def.need() {
			def.apply()
		}
	}
}

func stringFieldDefault(key string, target *string, value string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = value },
	}
}

func intFieldDefault(key string, target *int, value int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = value },
	}
}
