package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"socialsim/internal/agent"
	"socialsim/internal/config"
	"socialsim/internal/content"
	"socialsim/internal/dispatch"
	"socialsim/internal/feed"
	"socialsim/internal/identity"
	"socialsim/internal/machineupdate"
	"socialsim/internal/runtime/supervisor"
	"socialsim/internal/sharing"
	"socialsim/internal/storage"
	"socialsim/internal/task/engine"
	logx "socialsim/pkg/logx"
)

// Version is stamped at build time with -ldflags "-X socialsim/internal/app.Version=...".
var Version = "dev"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	engine   *engine.Service
	updates  machineupdate.Submitter
	hub      *feed.Hub
	dispatch *dispatch.Dispatcher
	job      *sharing.Job
	identity *identity.Resolver
	feedSrv  *feed.Server
}

// New loads and validates the config, then builds every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg.Logging))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.Component("app")}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeResources()
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log)

	bc, err := mapContentConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := content.NewBackend(bc)
	if err != nil {
		return nil, err
	}
	gateway := content.NewGateway(backend, content.DirStore{Dir: templatesDir(cfg)}, log,
		content.WithMaxAttempts(cfg.Content.MaxAttempts))

	qc, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.updates, err = machineupdate.New(qc, log); err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.hub = feed.NewHub()
	a.dispatch = dispatch.New(dc, dispatch.Deps{Updates: a.updates, Feed: a.hub}, log)

	jc, err := mapSharingConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.job = sharing.New(jc, sharing.Deps{
		Agents:   a.store,
		Audit:    a.store,
		Sampler:  agent.NewSampler(cfg.SocialSharing.SampleMin, cfg.SocialSharing.SampleMax, nil),
		Content:  gateway,
		Dispatch: a.dispatch,
		Engine:   a.engine,
	}, log)

	ic, err := mapIdentityConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.identity = identity.New(ic, log)

	if cfg.Feed.Enabled {
		a.feedSrv = feed.NewServer(feed.ServerConfig{
			Addr:   cfg.Feed.Addr,
			Path:   cfg.Feed.Path,
			Buffer: cfg.Feed.Buffer,
		}, a.hub, feed.ServerDeps{
			Health:   a.health,
			Identity: a.identity,
			Actions:  agentActions{agents: a.store, gateway: gateway},
		}, log)
	}

	ok = true
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() map[string]any {
	state, steps := a.job.State()
	out := map[string]any{
		"version": Version,
		"job":     map[string]any{"state": state, "steps": steps},
		"engine":  a.engine.Snapshot(),
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.Component("config"))

	a.engine.Start(a.sup.Context())

	if a.feedSrv != nil {
		a.sup.Go("feed.http", a.feedSrv.Run)
	}
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Identity.Enabled {
		a.sup.Go0("identity.resolve", func(c context.Context) {
			if id := a.identity.ID(c); id != "" {
				a.log.Info("client identity resolved", logx.String("id", id))
			}
		})
	}
	a.sup.Go0("social.sharing", a.job.Run)

	updates, unsubscribe := a.cfgm.Subscribe()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubscribe()
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(prev, next)
				prev = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.String("version", Version))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, restart, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg.Logging))

	if dc, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatch.Apply(dc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, maxD time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			maxD = min(maxD, time.Until(dl))
		}
		if maxD <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, maxD)
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases the queue connection and the store.
func (a *App) closeResources() error {
	var errs []error
	if a.updates != nil {
		errs = append(errs, a.updates.Close())
		a.updates = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
