package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/bus/redisbus"
	"github.com/VitorFirmino/cachelab/checkout"
	asynchook "github.com/VitorFirmino/cachelab/hooks/async"
	"github.com/VitorFirmino/cachelab/hooks/loghooks"
	"github.com/VitorFirmino/cachelab/internal/config"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/metrics"
	"github.com/VitorFirmino/cachelab/profile"
	pr "github.com/VitorFirmino/cachelab/provider"
	bcprov "github.com/VitorFirmino/cachelab/provider/bigcache"
	"github.com/VitorFirmino/cachelab/provider/memory"
	redisprov "github.com/VitorFirmino/cachelab/provider/redis"
	rprov "github.com/VitorFirmino/cachelab/provider/ristretto"
	"github.com/VitorFirmino/cachelab/storage/sqlite"
	"github.com/VitorFirmino/cachelab/storefront"
	"github.com/VitorFirmino/cachelab/tagstore"
)

// stack is one fully wired storefront. Close releases everything in reverse
// construction order.
type stack struct {
	cfg      config.Config
	log      cachelab.Logger
	store    *sqlite.Store
	defaults profile.Defaults
	service  *storefront.Service
	registry *prometheus.Registry

	// relay is a second bus context used by the SSE stream, so clears
	// published by the service reach it.
	relay bus.Bus

	closers []func()
}

func (st *stack) onClose(f func()) { st.closers = append(st.closers, f) }

func (st *stack) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}

func openStore(ctx context.Context, cfg config.Config, log cachelab.Logger, skipMigrations bool) (*sqlite.Store, error) {
	return sqlite.Open(ctx, cfg.Storage.Path, sqlite.Options{
		BusyTimeout:    cfg.Storage.BusyTimeout,
		SkipMigrations: skipMigrations,
		Logger:         log,
	})
}

func loadDefaults(cfg config.Config) (profile.Defaults, error) {
	if cfg.Profiles.DefaultsFile == "" {
		return profile.BuiltinDefaults(), nil
	}
	return profile.LoadDefaults(cfg.Profiles.DefaultsFile)
}

func buildStack(ctx context.Context, cfg config.Config, log cachelab.Logger) (*stack, error) {
	st := &stack{cfg: cfg, log: log}
	if err := st.build(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func (st *stack) build(ctx context.Context) error {
	cfg, log := st.cfg, st.log
	var err error
	st.defaults, err = loadDefaults(cfg)
	if err != nil {
		return err
	}

	var rdb goredis.UniversalClient
	if cfg.NeedsRedis() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st.onClose(func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		rdb = client
	}

	hooks := st.buildHooks()

	st.store, err = openStore(ctx, cfg, log, !cfg.Storage.AutoMigrate)
	if err != nil {
		return err
	}
	store := st.store
	st.onClose(func() { _ = store.Close() })

	provider, err := newProvider(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	st.onClose(func() { _ = provider.Close(context.Background()) })

	tags := newTagStore(cfg, rdb)
	st.onClose(func() { _ = tags.Close(context.Background()) })

	svcBus, err := st.buildBus(ctx, rdb)
	if err != nil {
		return err
	}

	profiles := profile.NewStore(profile.Options{
		Repository: store,
		Defaults:   st.defaults,
		Logger:     log,
	})
	inv, err := invalidation.New(invalidation.Options{TagStore: tags, Hooks: hooks, Logger: log})
	if err != nil {
		return err
	}
	mgr, err := checkout.New(checkout.Options{
		Ledger:      store,
		Invalidator: inv,
		Hooks:       hooks,
		Logger:      log,
		RetryDelay:  cfg.Checkout.RetryDelay,
		TxTimeout:   cfg.Checkout.TxTimeout,
	})
	if err != nil {
		return err
	}

	st.service, err = storefront.New(storefront.Options{
		Reader:            store,
		Writer:            store,
		Checkout:          mgr,
		Profiles:          profiles,
		Provider:          provider,
		TagStore:          tags,
		Invalidator:       inv,
		Bus:               svcBus,
		Codec:             cfg.Cache.Codec,
		MaxDecode:         cfg.Cache.MaxDecode,
		Namespace:         cfg.Cache.Namespace,
		Hooks:             hooks,
		Logger:            log,
		RefreshTimeout:    cfg.Cache.RefreshTimeout,
		InvalidateTimeout: cfg.Cache.InvalidateTimeout,
		DisableCache:      cfg.Cache.Disabled,
	})
	if err != nil {
		return err
	}
	svc := st.service
	st.onClose(svc.Wait)

	log.Info("stack.ready", cachelab.Fields{
		"provider": cfg.Cache.Provider,
		"tagstore": cfg.Cache.TagStore,
		"codec":    cfg.Cache.Codec,
		"bus":      cfg.Bus.Backend,
		"storage":  cfg.Storage.Path,
	})
	return nil
}

func (st *stack) buildHooks() cachelab.Hooks {
	st.registry = prometheus.NewRegistry()
	st.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	m.MustRegister(st.registry)

	var hooks cachelab.Hooks = cachelab.MultiHooks{
		m,
		loghooks.New(st.log, loghooks.Options{ServedEvery: st.cfg.Hooks.ServedEvery}),
	}
	if st.cfg.Hooks.Async {
		a := asynchook.New(hooks, st.cfg.Hooks.Workers, st.cfg.Hooks.Queue)
		st.onClose(func() {
			a.Close()
			if n := a.Dropped(); n > 0 {
				st.log.Warn("hooks.dropped", cachelab.Fields{"count": n})
			}
		})
		hooks = a
	}
	return hooks
}

func (st *stack) buildBus(ctx context.Context, rdb goredis.UniversalClient) (bus.Bus, error) {
	if st.cfg.Bus.Backend == "redis" {
		open := func() (*redisbus.Bus, error) {
			b, err := redisbus.New(ctx, redisbus.Options{Client: rdb, Channel: st.cfg.Bus.Channel, Logger: st.log})
			if err != nil {
				return nil, err
			}
			st.onClose(func() { _ = b.Close() })
			return b, nil
		}
		pub, err := open()
		if err != nil {
			return nil, err
		}
		relay, err := open()
		if err != nil {
			return nil, err
		}
		st.relay = relay
		return pub, nil
	}

	hub := bus.NewHub()
	pub := hub.Endpoint()
	relay := hub.Endpoint()
	st.onClose(func() { _ = pub.Close(); _ = relay.Close() })
	st.relay = relay
	return pub, nil
}

func newProvider(ctx context.Context, cfg config.Config, rdb goredis.UniversalClient) (pr.Provider, error) {
	switch cfg.Cache.Provider {
	case "ristretto":
		return rprov.New(rprov.DefaultConfig(cfg.Cache.Ristretto.MaxCost))
	case "bigcache":
		return bcprov.New(ctx, bcprov.Config{
			LifeWindow:         cfg.Cache.Bigcache.LifeWindow,
			Shards:             cfg.Cache.Bigcache.Shards,
			HardMaxCacheSizeMB: cfg.Cache.Bigcache.HardMaxMB,
		})
	case "redis":
		return redisprov.New(redisprov.Config{Client: rdb})
	case "memory":
		return memory.New(nil), nil
	}
	return nil, fmt.Errorf("cache.provider: unknown %q", cfg.Cache.Provider)
}

func newTagStore(cfg config.Config, rdb goredis.UniversalClient) tagstore.TagStore {
	if cfg.Cache.TagStore == "redis" {
		if cfg.Cache.TagTTL > 0 {
			return tagstore.NewRedisWithTTL(rdb, cfg.Cache.Namespace, cfg.Cache.TagTTL)
		}
		return tagstore.NewRedis(rdb, cfg.Cache.Namespace)
	}
	return tagstore.NewLocal()
}
