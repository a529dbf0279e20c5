package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/cache"
	rediscache "sentinel/internal/cache/redis"
	sncfg "sentinel/internal/config"
	"sentinel/internal/engine"
	"sentinel/internal/gateway/binance"
	"sentinel/internal/gateway/coingecko"
	"sentinel/internal/logger"
	"sentinel/internal/market"
	"sentinel/internal/notify"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/store/rulefile"
	opshttp "sentinel/internal/transport/http/ops"
)

// build assembles the full dependency graph from config: cache backend,
// market sources, stores, notification channels, engine and HTTP surface.
func build(ctx context.Context, cfg *sncfg.Config) (*App, error) {
	store, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	primary := binance.New(binance.Config{
		RESTBaseURL: cfg.Market.Binance.RESTBaseURL,
		Quote:       cfg.Market.Binance.Quote,
		HTTPTimeout: time.Duration(cfg.Market.Binance.TimeoutSeconds) * time.Second,
	})
	var fallback market.Source
	if cfg.Market.Coingecko.Enabled {
		fallback = coingecko.New(coingecko.Config{
			BaseURL:     cfg.Market.Coingecko.RESTBaseURL,
			HTTPTimeout: time.Duration(cfg.Market.Coingecko.TimeoutSeconds) * time.Second,
		})
	}

	rules, err := rulefile.New(cfg.App.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	triggers, err := gormstore.New(cfg.App.TriggerDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening trigger store: %w", err)
	}
	rehydrateStats(ctx, rules, triggers)

	prefetcher := engine.NewPrefetcher(store, primary, fallback, engine.PrefetcherConfig{
		PriceTTL:      time.Duration(cfg.Cache.PriceTTLSeconds) * time.Second,
		KlineTTL:      time.Duration(cfg.Cache.KlineTTLSeconds) * time.Second,
		MaxConcurrent: cfg.Prefetch.MaxConcurrent,
		MaxAttempts:   cfg.Prefetch.MaxAttempts,
		BackoffBase:   time.Duration(cfg.Prefetch.BackoffMS) * time.Millisecond,
	})

	handler := engine.NewTriggerHandler(triggers, buildDispatcher(cfg.Notify), engine.TriggerConfig{
		NotifyAttempts: cfg.Notify.RetryAttempts,
		NotifyBackoff:  time.Duration(cfg.Notify.RetryBackoffMS) * time.Millisecond,
	})

	scheduler := engine.NewScheduler(rules, prefetcher, handler, engine.SchedulerConfig{
		Heartbeat:      time.Duration(cfg.Scheduler.HeartbeatSeconds) * time.Second,
		TickTimeout:    time.Duration(cfg.Scheduler.TickTimeoutSeconds) * time.Second,
		ReloadInterval: time.Duration(cfg.Scheduler.ReloadIntervalSeconds) * time.Second,
		MaxParallel:    cfg.Scheduler.MaxParallel,
	})

	server, err := opshttp.NewServer(opshttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Rules:    rules,
		Engine:   scheduler,
		Triggers: triggers,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	return &App{
		cfg:       cfg,
		cache:     store,
		sources:   []market.Source{primary, fallback},
		triggers:  triggers,
		scheduler: scheduler,
		server:    server,
	}, nil
}

func buildCache(ctx context.Context, cfg sncfg.CacheConfig) (cache.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "redis":
		client, err := rediscache.New(ctx, rediscache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting redis cache: %w", err)
		}
		logger.Infof("cache backend: redis (%s)", cfg.Redis.Addr)
		return client, nil
	default:
		logger.Infof("cache backend: memory")
		return cache.NewMemory(), nil
	}
}

func buildDispatcher(cfg sncfg.NotifyConfig) *notify.Dispatcher {
	var senders []notify.Sender
	if cfg.Telegram.Enabled {
		senders = append(senders, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Webhook.Enabled {
		senders = append(senders, notify.NewWebhook(cfg.Webhook.URL))
	}
	return notify.NewDispatcher(senders...)
}

// rehydrateStats restores persisted counters so cooldown windows survive a
// restart.
func rehydrateStats(ctx context.Context, rules *rulefile.Store, triggers *gormstore.GormStore) {
	loaded, err := rules.ListRules(ctx)
	if err != nil {
		return
	}
	for _, r := range loaded {
		stats, ok, err := triggers.RuleStats(ctx, r.ID)
		if err != nil {
			logger.Warnf("rule %s: loading persisted stats failed: %v", r.ID, err)
			continue
		}
		if ok {
			r.SetStats(stats)
		}
	}
}
