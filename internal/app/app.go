package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Reesverleur/watchmebot/internal/config"
	"github.com/Reesverleur/watchmebot/internal/directory"
	"github.com/Reesverleur/watchmebot/internal/eventbus"
	"github.com/Reesverleur/watchmebot/internal/observability"
	rtsup "github.com/Reesverleur/watchmebot/internal/runtime/supervisor"
	"github.com/Reesverleur/watchmebot/internal/storage"
	kit "github.com/Reesverleur/watchmebot/internal/transport"
	telegram "github.com/Reesverleur/watchmebot/internal/transport/telegram/adapter"
	"github.com/Reesverleur/watchmebot/internal/transport/telegram/router"
	"github.com/Reesverleur/watchmebot/internal/watch"
	"github.com/Reesverleur/watchmebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store   storage.Store
	dir     *directory.Directory
	adapter kit.Adapter

	graph    *watch.Graph
	disp     *watch.Dispatcher
	mon      *watch.Monitor
	stats    *watch.Stats
	cmdm     *router.CommandManager
	cmdStats *router.Metrics
	obs      *observability.Server
	rep      *reporter

	updates chan kit.Update
}

// NewApp loads the config and wires every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, fmt.Errorf("telegram.token is empty (set it in %s or %s)", cfgPath, config.EnvToken)
	}

	dir, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog, dir)
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, ad, dir)
}

func newDirectory(cfg *config.Config) (*directory.Directory, error) {
	ttl, err := config.ParseDuration("directory.ttl", cfg.Directory.TTL, 0)
	if err != nil {
		return nil, err
	}
	return directory.New(cfg.Directory.CacheBytes, ttl), nil
}

// build wires the components around an already constructed adapter.
func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config, ad kit.Adapter, dir *directory.Directory) (*App, error) {
	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chat := logChat(cfg); chat != 0 {
		logSvc.SetTelegramTarget(chat, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	wm := watch.NewMetrics(reg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	graph, err := watch.NewGraph(ctx, store, log.With(logx.String("comp", "watch.graph")), watch.WithGraphMetrics(wm))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	watchers, edges := graph.Size()
	log.Info("watch graph loaded", logx.String("driver", sc.Driver), logx.Int("watchers", watchers), logx.Int("edges", edges))

	tpl, err := mapTemplates(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp, err := watch.NewDispatcher(ad, tpl, dcfg, log.With(logx.String("comp", "watch.dispatch")), wm)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	mon := watch.NewMonitor(graph, watch.NewThrottle(watch.CooldownWindow), disp, mapMonitorConfig(cfg),
		log.With(logx.String("comp", "watch.monitor")), bus, wm)

	cmdStats := router.NewMetrics(reg)
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs,
		router.Options{Metrics: cmdStats})

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		reg:      reg,
		store:    store,
		dir:      dir,
		adapter:  ad,
		graph:    graph,
		disp:     disp,
		mon:      mon,
		stats:    watch.NewStats(),
		cmdm:     cmdm,
		cmdStats: cmdStats,
		updates:  make(chan kit.Update, 256),
	}
	a.obs = observability.New(reg, a.health, log)
	a.rep = newReporter(log.With(logx.String("comp", "report")), a.report, ad, func() int64 {
		if c := cfgm.Get(); c != nil {
			return logChat(c)
		}
		return 0
	})
	return a, nil
}

// Registry exposes the Prometheus registry the components report to.
func (a *App) Registry() *prometheus.Registry { return a.reg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) report() watch.Report {
	watchers, edges := a.graph.Size()
	return watch.Report{
		Stats:     a.stats.Snapshot(),
		Watchers:  watchers,
		Edges:     edges,
		Cooldowns: a.mon.Throttle().Len(),
	}
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Context().Err(); err != nil {
		return fmt.Errorf("stopping: %w", err)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	if u, ok := a.adapter.(interface{ Username() string }); ok {
		a.cmdm.SetBotUsername(u.Username())
	}
	a.cmdm.SetRegistry(c, router.WatchCommands(router.WatchDeps{
		Graph:   a.graph,
		Users:   a.dir,
		Report:  a.report,
		Metrics: a.cmdStats,
	}))

	// The monitor outlives the app context so Stop can drain queued sends.
	a.mon.Start(context.WithoutCancel(c))

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}

	commands := make(chan kit.Update, 64)
	presence := make(chan watch.PresenceEvent, 256)
	a.sup.Go0("updates.demux", func(c context.Context) {
		demux(c, a.updates, commands, presence, a.dir)
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, commands)
	})
	a.sup.Go("watch.presence", func(c context.Context) error {
		return a.mon.Run(c, presence)
	})
	a.sup.Go("watch.stats", func(c context.Context) error {
		return a.stats.Run(c, a.bus)
	})

	if err := a.obs.Reconfigure(c, mapObservabilityConfig(cfg)); err != nil {
		a.log.Warn("observability server not started", logx.Err(err))
	}
	if err := a.rep.Apply(reportSchedule(cfg)); err != nil {
		a.log.Warn("stats report not scheduled", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log, func() bool { return a.health() == nil })
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into the running components. Storage
// and the bot token need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" || s == "directory" {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	// Target first, so Apply does not warn when Telegram logging is enabled.
	a.logs.SetTelegramTarget(logChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if tpl, err := mapTemplates(next); err != nil {
		a.log.Warn("invalid templates; keeping previous", logx.Err(err))
	} else {
		a.disp.SetTemplates(tpl)
	}
	if dcfg, err := mapDispatcherConfig(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.SetLimits(dcfg.RatePerSec, dcfg.Timeout)
	}

	if err := a.obs.Reconfigure(ctx, mapObservabilityConfig(next)); err != nil {
		a.log.Warn("observability reconfigure failed", logx.Err(err))
	}
	if err := a.rep.Apply(reportSchedule(next)); err != nil {
		a.log.Warn("stats report reschedule failed", logx.Err(err))
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("report", time.Second, func(c context.Context) error { a.rep.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Queued notifications still go out; their cooldowns are already spent.
	step("monitor", 3*time.Second, func(c context.Context) error { a.mon.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
