package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/haukened/sgurl/internal/sgurl/common/clock"
	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/config"
	"github.com/haukened/sgurl/internal/sgurl/gateways/graphql"
	"github.com/haukened/sgurl/internal/sgurl/repos/blocklist"
	"github.com/haukened/sgurl/internal/sgurl/repos/blocklist/lru"
	"github.com/haukened/sgurl/internal/sgurl/repos/rescache"
	"github.com/haukened/sgurl/internal/sgurl/repos/store/bolt"
	"github.com/haukened/sgurl/internal/sgurl/services/resolver"
)

// Application holds all the components of the resolver.
type Application struct {
	config    *config.AppConfig
	store     *bolt.Store
	cache     *rescache.Cache
	blocklist blocklist.Repository
	client    *graphql.Client
	resolver  *resolver.Resolver
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	store, err := bolt.Open(cfg.StorePath, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	app, err := wireApplication(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func wireApplication(cfg *config.AppConfig, store *bolt.Store, logger log.Logger) (*Application, error) {
	settings, err := store.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	// the configured self-hosted URL only seeds an empty store; later edits win
	if seed := cfg.SelfHosted(); settings.SelfHosted.IsZero() && !seed.IsZero() {
		if err := store.SetSelfHosted(seed); err != nil {
			return nil, fmt.Errorf("failed to seed self-hosted endpoint: %w", err)
		}
		log.Info(map[string]any{"self_hosted": seed}, "Seeded self-hosted endpoint from configuration")
	}

	decisions, err := lru.New(cfg.BlocklistCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist cache: %w", err)
	}
	blocklistRepo := blocklist.NewRepository(cfg.Cloud(), settings.Blocklist, decisions, logger.Named("blocklist"))

	cache, err := rescache.New(store, rescache.Options{
		Size:   cfg.CacheSize,
		FPRate: cfg.BloomFPRate,
		Logger: logger.Named("rescache"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution cache: %w", err)
	}

	client := graphql.NewClient(graphql.Options{
		Token:     cfg.AccessToken,
		Timeout:   cfg.ProbeTimeout,
		UserAgent: appName + "/" + version,
		Logger:    logger.Named("graphql"),
	})

	r, err := resolver.NewResolver(resolver.Options{
		Cloud:        cfg.Cloud(),
		Store:        store,
		Cache:        cache,
		Blocklist:    blocklistRepo,
		Prober:       client,
		Clock:        clock.RealClock{},
		Logger:       logger.Named("resolver"),
		ProbeTimeout: cfg.ProbeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	log.Debug(map[string]any{
		"store_path":           cfg.StorePath,
		"cloud_url":            cfg.Cloud(),
		"probe_timeout":        cfg.ProbeTimeout,
		"cache_size":           cfg.CacheSize,
		"blocklist_cache_size": cfg.BlocklistCacheSize,
	}, "Application configured")

	return &Application{
		config:    cfg,
		store:     store,
		cache:     cache,
		blocklist: blocklistRepo,
		client:    client,
		resolver:  r,
	}, nil
}

// Close releases the resolver and the store.
func (app *Application) Close() error {
	app.resolver.Close()
	return app.store.Close()
}
