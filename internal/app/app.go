// Package app wires configuration, logging, storage, transport, provisioning
// and the scheduler into one start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"happbot/internal/config"
	"happbot/internal/provision"
	"happbot/internal/publish"
	"happbot/internal/sched"
	"happbot/internal/state"
	"happbot/internal/storage"
	"happbot/internal/transport/telegram"
	"happbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	logs *logx.Service
	log  logx.Logger

	kv    *storage.Store
	store *state.Store
	sched *sched.Service

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs := logx.NewService(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    cfg.Logging.File,
	})

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logs:    logs,
		log:     logs.Logger(),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfg

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	kv, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.kv = kv
	a.store = state.New(kv)

	if err := a.store.SeedPoolSource(ctx, state.Panel{
		URL:      cfg.Pool.URL,
		Username: cfg.Pool.Username,
		Password: cfg.Pool.Password,
		Prefix:   cfg.Pool.Prefix,
	}); err != nil {
		a.log.Warn("pool source seed failed", logx.Err(err))
	}

	tgTimeout, _ := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 8*time.Second)
	tg, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		RequestTimeout: tgTimeout,
		RatePerSec:     cfg.Telegram.RatePerSec,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	provTimeout, _ := config.ParseDurationOrDefault("provision.request_timeout", cfg.Provision.RequestTimeout, 15*time.Second)
	prov := provision.NewClient(provTimeout, a.log.With(logx.String("comp", "provision")))

	pub := publish.New(tg, prov, a.store, a.log.With(logx.String("comp", "publish")))

	tick, _ := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, time.Minute)
	ttl, _ := config.ParseDurationOrDefault("scheduler.lease_ttl", cfg.Scheduler.LeaseTTL, sched.DefaultLeaseTTL)
	window, _ := config.ParseDurationOrDefault("scheduler.window", cfg.Scheduler.Window, sched.DefaultWindow)
	a.sched = sched.New(sched.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Tick:           tick,
		LeaseTTL:       ttl,
		Window:         window,
		UTCOffsetHours: cfg.Scheduler.UTCOffset(),
	}, a.store, pub, tg, a.log.With(logx.String("comp", "sched")))
	a.sched.Start(ctx)

	// Config hot reload: log level only. Structural settings (token, storage
	// path, tick) need a restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), func(c *config.Config) {
			a.logs.Apply(logx.Config{Level: c.Logging.Level, Console: c.Logging.Console, File: c.Logging.File})
		})
		if err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	a.log.Info("started", logx.Int64("bot", tg.BotID()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	a.wg.Wait()
	if a.kv != nil {
		_ = a.kv.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
