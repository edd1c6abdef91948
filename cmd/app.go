package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/sabarim/kitectl/internal/auth"
	"github.com/sabarim/kitectl/internal/config"
	"github.com/sabarim/kitectl/internal/instruments"
	"github.com/sabarim/kitectl/internal/kite"
	"github.com/sabarim/kitectl/internal/logger"
	"github.com/sabarim/kitectl/internal/ratelimit"
	"github.com/sabarim/kitectl/internal/transport"
)

// app holds the collaborators shared by every command. One limiter and one auth manager
// serve the whole process.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	out    io.Writer
	store  *config.Store
	auth   *auth.AuthManager
	client *kite.Client
	cache  *instruments.Cache
}

func (a *app) init(opts *rootOptions, out io.Writer) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.LoggerConfig())

	policy, err := cfg.ExpiryPolicy()
	if err != nil {
		return err
	}

	store := config.NewStore(cfg)
	creds, session, err := store.Load()
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.PerSecond)
	exec := transport.NewExecutor(limiter, cfg.ExecutorOptions(), log)
	am := auth.NewAuthManager(creds, session, exec, store, log, auth.WithExpiryPolicy(policy))
	client := kite.NewClient(exec, am, log)
	cache := instruments.NewCache(cfg.Cache.Dir, client, log,
		instruments.WithTTL(cfg.Cache.TTL),
		instruments.WithFetchTimeout(cfg.RequestBudget()),
	)

	*a = app{
		cfg:    cfg,
		log:    log,
		out:    out,
		store:  store,
		auth:   am,
		client: client,
		cache:  cache,
	}

	log.Debug().Str("config", cfg.Path).Str("base_url", cfg.API.BaseURL).Msg("Configuration loaded")
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
