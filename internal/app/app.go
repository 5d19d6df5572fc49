// Package app assembles the relay: config, logging, state, persistence,
// the update router, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"studiorelay/internal/config"
	"studiorelay/internal/eventbus"
	"studiorelay/internal/fiche"
	"studiorelay/internal/httpapi"
	"studiorelay/internal/hub"
	"studiorelay/internal/media"
	"studiorelay/internal/notify"
	"studiorelay/internal/observability/pprof"
	"studiorelay/internal/relay"
	"studiorelay/internal/runtime/supervisor"
	"studiorelay/internal/state"
	"studiorelay/internal/storage"
	"studiorelay/pkg/logx"
	"studiorelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store // nil when mirroring is disabled
	state  *state.Store
	hub    *hub.Hub
	relay  *relay.Service
	fiches *fiche.Store

	api   *httpapi.Server
	srv   *http.Server
	cron  *cron.Cron
	pprof *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
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
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver))
	}

	st := state.NewStore()
	h := hub.New(log.With(logx.String("comp", "hub")))
	rly := relay.New(st, h, bus, log.With(logx.String("comp", "relay")), cfg.Relay.FocusSubjects)
	fiches := fiche.NewStore()

	sender, err := notify.NewSender(cfg.Notify, log.With(logx.String("comp", "notify")))
	if err != nil {
		return nil, err
	}

	uploads, err := media.NewUploads(cfg.Media.UploadDir, log.With(logx.String("comp", "media")))
	if err != nil {
		return nil, err
	}
	proxy, err := media.NewProxy(cfg.Media.VideoUpstream, log.With(logx.String("comp", "media")))
	if err != nil {
		return nil, err
	}

	api := httpapi.New(httpapi.Deps{
		Log:      log.With(logx.String("comp", "http")),
		Relay:    rly,
		State:    st,
		Hub:      h,
		Fiches:   fiches,
		Uploads:  uploads,
		Proxy:    proxy,
		Sender:   sender,
		Calendar: notify.NewCalendar(),
		Bus:      bus,
	})

	readTimeout, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		state:  st,
		hub:    h,
		relay:  rly,
		fiches: fiches,
		api:    api,
		srv:    srv,
		cron:   cron.New(),
		pprof:  pprof.New(cfg.Pprof, log.With(logx.String("comp", "pprof"))),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg.Relay.FocusSubjects <= 0 {
		return fmt.Errorf("relay.focus_subjects must be > 0")
	}
	if err := media.ValidateUpstream(cfg.Media.VideoUpstream); err != nil {
		return err
	}
	for _, f := range [][2]string{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.snapshot_every", cfg.Storage.SnapshotEvery},
	} {
		if _, err := config.ParseDurationField(f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed on fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.hydrate(sctx); err != nil {
		return err
	}

	a.sup.Go("relay.loop", func(c context.Context) error {
		err := a.relay.Run(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.startMirror(sctx)

	// Hot reload: log level and focus range apply in place.
	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.relay.SetFocusSubjects(cfg.Relay.FocusSubjects)
				a.log.Info("config reloaded")
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		err := a.cfgm.Watch(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.sup.Go("http.serve", func(c context.Context) error {
		a.log.Info("listening", logx.String("addr", a.srv.Addr))
		err := a.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	a.sup.Go0("http.shutdown", func(c context.Context) {
		<-c.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	})

	if a.pprof.Enabled() {
		if err := a.pprof.Start(sctx); err != nil {
			a.log.Warn("pprof start failed", logx.Err(err))
		}
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c, a.log)
	})
	systemd.NotifyReady(a.log)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	systemd.NotifyStopping(a.log)

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	// Final flush before the loop goes away.
	a.flushAll(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	a.pprof.Stop(ctx)

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return nil
}
