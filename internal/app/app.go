package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quizbot/internal/bank"
	"quizbot/internal/bindings"
	"quizbot/internal/commands"
	"quizbot/internal/config"
	"quizbot/internal/eventbus"
	"quizbot/internal/kit"
	"quizbot/internal/oracle"
	"quizbot/internal/scheduler"
	"quizbot/internal/transport/telegram"
	"quizbot/pkg/logx"
)

const updateBuffer = 64

// App wires the whole bot together from one config file.
type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter  *telegram.Adapter
	bindings *bindings.Store
	bank     bank.Store
	oracle   *oracle.Client
	bus      eventbus.Bus
	sched    *scheduler.Service
	router   *commands.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("svc", "config")))
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	binds, err := bindings.Open(cfg.Bindings.Path, cfg.Bindings.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("bindings: %w", err)
	}

	store, err := bank.Open(bank.Config{Driver: cfg.Bank.Driver, Path: cfg.Bank.Path},
		log.With(logx.String("svc", "bank")))
	if err != nil {
		return nil, fmt.Errorf("bank: %w", err)
	}

	var orc *oracle.Client
	if strings.TrimSpace(cfg.Oracle.Endpoint) != "" {
		oracleTimeout, err := config.ParseDurationOrDefault("oracle.timeout", cfg.Oracle.Timeout, 20*time.Second)
		if err != nil {
			return nil, err
		}
		orc = oracle.New(oracle.Config{
			Endpoint:   cfg.Oracle.Endpoint,
			APIKey:     cfg.Oracle.APIKey,
			Timeout:    oracleTimeout,
			RetryMax:   cfg.Oracle.RetryMax,
			RatePerSec: cfg.Oracle.RatePerSec,
		}, log.With(logx.String("svc", "oracle")))
	}

	retention, err := config.ParseDurationOrDefault("scheduler.retention", cfg.Scheduler.Retention, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	exec := &executor{
		cfg:      cfgm,
		bindings: binds,
		bank:     store,
		oracle:   orc,
		log:      log.With(logx.String("svc", "pipeline")),
	}

	a := &App{
		cfgm:     cfgm,
		logSvc:   logSvc,
		log:      log,
		adapter:  adapter,
		bindings: binds,
		bank:     store,
		oracle:   orc,
		bus:      bus,
		updates:  make(chan kit.Update, updateBuffer),
	}

	notify := func(ctx context.Context, chatID int64, text string) {
		if err := adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text); err != nil {
			log.Warn("notification failed", logx.Int64("chat", chatID), logx.Err(err))
		}
	}
	a.sched = scheduler.New(scheduler.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
		Retention: retention,
	}, exec, notify, bus, log.With(logx.String("svc", "scheduler")))

	a.router = commands.NewRouter(commands.Deps{
		Log:      log.With(logx.String("svc", "commands")),
		Adapter:  adapter,
		Cfg:      cfgm,
		Sched:    a.sched,
		Bindings: binds,
		Dir:      &directory{cfg: cfgm, log: log.With(logx.String("svc", "directory"))},
	})
	return a, nil
}

// Run starts every component and blocks until ctx is canceled or a
// component dies, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	sup := newSupervisor(ctx, a.log)

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	sup.Go("telegram", func(ctx context.Context) error {
		if err := a.adapter.Start(ctx, a.updates); err != nil {
			return err
		}
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.adapter.Stop(stopCtx)
	})

	sup.Go("commands", func(ctx context.Context) error {
		err := a.router.DispatchLoop(ctx, a.updates)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	sup.Go("config-watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	sup.Go("config-apply", func(ctx context.Context) error {
		sub := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("config applied")
			}
		}
	})

	sup.Go("events", func(ctx context.Context) error {
		events, unsub := a.bus.Subscribe(16)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-events:
				a.log.Debug("event", logx.String("type", e.Type))
			}
		}
	})

	a.log.Info("bot started")
	err := sup.Wait(context.Background())

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := a.sched.Stop(stopCtx); serr != nil {
		a.log.Warn("scheduler stop", logx.Err(serr))
	}
	if a.bank != nil {
		_ = a.bank.Close()
	}
	_ = a.logSvc.Close()
	return err
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Platform.BaseURL) == "" {
		return errors.New("platform.base_url is required")
	}
	if strings.TrimSpace(cfg.Bindings.Path) == "" {
		return errors.New("bindings.path is required")
	}
	if r := cfg.Automation.MinAnswerRate; r < 0 || r > 1 {
		return fmt.Errorf("automation.min_answer_rate must be within [0,1], got %v", r)
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"scheduler.retention", cfg.Scheduler.Retention},
		{"platform.timeout", cfg.Platform.Timeout},
		{"oracle.timeout", cfg.Oracle.Timeout},
	} {
		if _, err := config.ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}
