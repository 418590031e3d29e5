// Package app wires the whole bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"broadcastbot/internal/bot"
	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/composer"
	"broadcastbot/internal/config"
	"broadcastbot/internal/directory"
	"broadcastbot/internal/dutycredit"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/adapter"
	logx "broadcastbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store
	adapter   *adapter.Adapter
	engine    *broadcast.Engine
	orch      *broadcast.Orchestrator
	router    *bot.Router
	duty      *dutycredit.Client
	operators *operatorSet

	updates chan transport.Update

	cancel context.CancelFunc
}

// New loads the config at path and builds every component. Nothing runs
// until Start.
func New(configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	cfgMgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	tg, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = tg

	a.operators = newOperatorSet(cfg.Operators)
	dir := directory.New(store, a.operators.AdminIDs, a.log.With(logx.String("svc", "directory")))

	bus := eventbus.New()

	engineCfg, pollInterval, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = broadcast.NewEngine(engineCfg, tg, dir, a.log.With(logx.String("svc", "delivery")))

	bcastLog := a.log.With(logx.String("svc", "broadcast"))
	approvals := broadcast.NewApprovalStore(store, bcastLog)
	scheduler := broadcast.NewScheduler(store, bcastLog)
	a.orch = broadcast.NewOrchestrator(broadcast.OrchestratorDeps{
		Gate:         broadcast.NewQualityGate(cfg.Broadcast.SpamPhrases),
		Limiter:      broadcast.NewRateLimiter(store),
		Approvals:    approvals,
		Scheduler:    scheduler,
		Engine:       a.engine,
		Resolver:     dir,
		Store:        store,
		Bus:          bus,
		Log:          bcastLog,
		PollInterval: pollInterval,
	})

	comp := composer.New(tg, func() string {
		return a.cfgMgr.Get().Broadcast.WatermarkLabel
	}, a.log.With(logx.String("svc", "composer")))

	a.router = bot.New(bot.Deps{
		Adapter:      tg,
		Directory:    dir,
		Orchestrator: a.orch,
		Approvals:    approvals,
		Scheduler:    scheduler,
		Composer:     comp,
		Operators:    a.operators,
		Bus:          bus,
		Log:          a.log.With(logx.String("svc", "bot")),
	})

	a.duty = dutycredit.New(dutyConfig(cfg), bus, a.log.With(logx.String("svc", "dutycredit")))
	a.updates = make(chan transport.Update, 128)
	return nil
}

// Start brings components up in dependency order and reports readiness
// to systemd when everything is polling.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.duty.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.router.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.orch.StartPoll(runCtx)

	go a.watchConfig(runCtx)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("bot started")
	return nil
}

// Stop tears everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	}

	a.orch.StopPoll()
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram stop failed", logx.Err(err))
	}
	if err := a.router.Stop(ctx); err != nil {
		a.log.Warn("router stop failed", logx.Err(err))
	}
	if err := a.duty.Stop(ctx); err != nil {
		a.log.Warn("dutycredit stop failed", logx.Err(err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
	return a.logSvc.Close()
}

// watchConfig applies hot-reloadable settings: log level/sinks, delivery
// pacing, and the operator table. Token and storage path changes need a
// restart.
func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.logSvc.Apply(loggingConfig(cfg))
			if engineCfg, _, err := engineConfig(cfg); err == nil {
				a.engine.Apply(engineCfg)
			}
			a.operators.replace(cfg.Operators)
			a.log.Info("config reloaded")
		}
	}
}

func loggingConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func engineConfig(cfg *config.Config) (broadcast.EngineConfig, time.Duration, error) {
	sendPause, err := config.ParseDurationOrDefault("broadcast.send_pause", cfg.Broadcast.SendPause, 0)
	if err != nil {
		return broadcast.EngineConfig{}, 0, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("broadcast.send_timeout", cfg.Broadcast.SendTimeout, 0)
	if err != nil {
		return broadcast.EngineConfig{}, 0, err
	}
	pollInterval, err := config.ParseDurationOrDefault("broadcast.poll_interval", cfg.Broadcast.PollInterval, 60*time.Second)
	if err != nil {
		return broadcast.EngineConfig{}, 0, err
	}
	return broadcast.EngineConfig{
		RatePerSec:   cfg.Broadcast.RatePerSec,
		SendPause:    sendPause,
		SendTimeout:  sendTimeout,
		OptOutFooter: cfg.Broadcast.OptOutFooter,
	}, pollInterval, nil
}

func dutyConfig(cfg *config.Config) dutycredit.Config {
	if cfg.DutyCredit == nil {
		return dutycredit.Config{}
	}
	timeout, err := config.ParseDurationOrDefault("duty_credit.timeout", cfg.DutyCredit.Timeout, 5*time.Second)
	if err != nil {
		timeout = 5 * time.Second
	}
	return dutycredit.Config{
		Enabled: cfg.DutyCredit.Enabled,
		URL:     cfg.DutyCredit.URL,
		Timeout: timeout,
	}
}
