package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	tgadapter "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

const updateBuffer = 256

// App wires config, logging, storage, the Telegram adapter and the broadcast
// core together and owns their lifecycle.
type App struct {
	cfgm    *config.Manager
	logSvc  *logx.Service
	log     logx.Logger
	adapter *tgadapter.Adapter
	store   storage.Store
	svc     *broadcast.Service
	cron    *cron.Cron
}

// New loads the config file and constructs all components. Nothing is started
// yet; Run() does that.
func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, errors.New("telegram token missing (config telegram.token or BOT_TOKEN)")
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		return nil, errors.New("no operators configured (config telegram.owner_user_ids or OWNER_IDS)")
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	boot := logx.NewConsole(cfg.Logging.Level)
	adp, err := tgadapter.New(tgadapter.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, boot)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	// The log service sends its Telegram sink through the same adapter.
	logSvc, log := logx.New(logxConfig(cfg), adp)
	applyAuditTarget(logSvc, log, cfg.Telegram.GroupLog)

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bcfg, err := broadcastConfig(cfg)
	if err != nil {
		_ = st.Close()
		logSvc.Close()
		return nil, err
	}
	svc := broadcast.New(bcfg, adp, st, log.With(logx.String("comp", "broadcast")))

	a := &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		adapter: adp,
		store:   st,
		svc:     svc,
		cron:    cron.New(),
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validate(c)
	})
	return a, nil
}

// Run starts all components and blocks until ctx is cancelled, then shuts
// everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgm.Get()

	schedule := cfg.Broadcast.PruneSchedule
	if strings.TrimSpace(schedule) == "" {
		schedule = "0 4 * * *"
	}
	if _, err := a.cron.AddFunc(schedule, func() {
		pctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = a.svc.PruneLedger(pctx)
	}); err != nil {
		return fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	a.cron.Start()

	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "app"))),
		rtsup.WithCancelOnError(true),
	)

	updates := make(chan kit.Update, updateBuffer)
	if err := a.adapter.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		a.shutdown()
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	sup.Go("broadcast.run", func(c context.Context) error {
		return a.svc.Run(c, updates)
	})
	sup.Go("config.watch", a.cfgm.Watch)

	cfgCh := a.cfgm.Subscribe(1)
	sup.Go("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-c.Done():
				return nil
			case nc, ok := <-cfgCh:
				if !ok || nc == nil {
					return nil
				}
				a.applyConfig(nc)
			}
		}
	})

	a.log.Info("relaybot started",
		logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)),
		logx.String("storage", storageDriver(cfg)),
	)

	<-ctx.Done()
	a.log.Info("shutting down")
	sup.Cancel()

	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	werr := sup.Wait(wctx)

	a.shutdown()
	if werr != nil && !errors.Is(werr, context.Canceled) && !errors.Is(werr, context.DeadlineExceeded) {
		return werr
	}
	return nil
}

func (a *App) shutdown() {
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(5 * time.Second):
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = a.adapter.Stop(sctx)
	cancel()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	_ = a.logSvc.Close()
}

// applyConfig pushes a hot-reloaded config into the live components. Token,
// storage driver and prune schedule changes require a restart and are ignored
// here on purpose.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg))
	applyAuditTarget(a.logSvc, a.log, cfg.Telegram.GroupLog)

	bcfg, err := broadcastConfig(cfg)
	if err != nil {
		a.log.Warn("broadcast config rejected", logx.Err(err))
		return
	}
	a.svc.Apply(bcfg)
	a.log.Info("runtime config applied")
}

func validate(cfg *config.Config) error {
	if _, err := broadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Broadcast.PruneSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("broadcast.prune_schedule: %w", err)
		}
	}
	return nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func broadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	window, err := config.ParseDurationOrDefault("broadcast.album_window", cfg.Broadcast.AlbumWindow, 1500*time.Millisecond)
	if err != nil {
		return broadcast.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("broadcast.ledger_retention", cfg.Broadcast.LedgerRetention, 720*time.Hour)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Owners:          cfg.Telegram.OwnerUserIDs,
		AlbumWindow:     window,
		RatePerSec:      cfg.Broadcast.RatePerSec,
		RetryMax:        cfg.Broadcast.RetryMax,
		LedgerRetention: retention,
	}, nil
}

// applyAuditTarget parses telegram.group_log and points the log Telegram sink
// at it. An unparseable value disables the sink target rather than failing
// startup.
func applyAuditTarget(svc *logx.Service, log logx.Logger, groupLog string) {
	s := strings.TrimSpace(groupLog)
	if s == "" {
		return
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Warn("telegram.group_log is not a chat id, audit sink disabled", logx.String("value", s))
		return
	}
	svc.SetTelegramTarget(id, 0)
}

func storageDriver(cfg *config.Config) string {
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		return "file"
	}
	return cfg.Storage.Driver
}
