// Package app wires configuration, logging, storage, the Telegram adapter,
// the Twitter client, the command handler and the poller into one process.
package app

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tweetfwd/internal/config"
	"tweetfwd/internal/services/commands"
	"tweetfwd/internal/services/poller"
	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	telegram "tweetfwd/internal/transport/telegram/adapter"
	"tweetfwd/internal/twitter"
	logx "tweetfwd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   *storage.Store
	tw      *twitter.Client
	poll    *poller.Service
	cmds    *commands.Service
	cron    *cron.Cron

	updates chan kit.Update

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	if target := strings.TrimSpace(cfg.Telegram.GroupLog); target != "" {
		if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID)
		}
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	twTimeout, err := config.ParseDurationOrDefault("twitter.request_timeout", cfg.Twitter.RequestTimeout, 15*time.Second)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	tw, err := twitter.NewClient(twitter.Config{
		BearerToken: cfg.Twitter.BearerToken,
		Timeout:     twTimeout,
	}, log.With(logx.String("comp", "twitter")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pollCfg, err := mapPollerConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	poll := poller.New(pollCfg, st, tw, ad, log.With(logx.String("comp", "poller")))
	cmds := commands.New(st, ad, log.With(logx.String("comp", "commands")))

	cr, err := newMaintenanceCron(cfg, st, log.With(logx.String("comp", "maintenance")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   st,
		tw:      tw,
		poll:    poll,
		cmds:    cmds,
		cron:    cr,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.cmds.Run(runCtx, a.updates)
	}()
	go func() {
		defer a.wg.Done()
		a.poll.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyLoop(runCtx)
	}()

	if a.cron != nil {
		a.cron.Start()
	}

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if a.cron != nil {
		cctx := a.cron.Stop()
		select {
		case <-cctx.Done():
		case <-ctx.Done():
		}
	}
	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out", logx.Err(ctx.Err()))
	}

	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// applyLoop pushes reloaded config into the services that support runtime
// changes (logging, poller). Credentials and storage path changes need a
// restart and are ignored here.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-sub:
			if cfg == nil {
				continue
			}
			a.logs.Apply(mapLogConfig(cfg))
			pollCfg, err := mapPollerConfig(cfg)
			if err != nil {
				a.log.Warn("poller config rejected", logx.Err(err))
				continue
			}
			a.poll.Apply(pollCfg)
			a.log.Info("runtime config applied", logx.Bool("poller_enabled", pollCfg.Enabled))
		}
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	timeout, err := config.ParseDurationOrDefault("poller.request_timeout", cfg.Poller.RequestTimeout, 15*time.Second)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Enabled:        cfg.Poller.Enabled,
		RequestTimeout: timeout,
	}, nil
}

// newMaintenanceCron schedules the off-peak storage maintenance job, or
// returns nil when no schedule is configured.
func newMaintenanceCron(cfg *config.Config, st *storage.Store, log logx.Logger) (*cron.Cron, error) {
	spec := strings.TrimSpace(cfg.Storage.MaintenanceSchedule)
	if spec == "" {
		return nil, nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Storage.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		start := time.Now()
		if err := st.Maintain(ctx); err != nil {
			log.Warn("storage maintenance failed", logx.Err(err))
			return
		}
		log.Info("storage maintenance done", logx.Duration("dur", time.Since(start)))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
