// Package app wires settings into a running consensus service: database,
// taxonomy tree, pipeline, effect dispatch and the HTTP API.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/idconsensus/internal/buildinfo"
	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/httpclient"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observability"
	"github.com/tphakala/idconsensus/internal/reducer"
	"github.com/tphakala/idconsensus/internal/service"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// outboxGaugeInterval is how often the outbox row gauges are refreshed
// while serving.
const outboxGaugeInterval = 30 * time.Second

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Settings *conf.Settings
	Info     *buildinfo.Context
	Metrics  *observability.Metrics
	DB       datastore.Manager
	Store    *datastore.Store
	Tree     *taxonomy.CachedTree
	Service  *service.Service

	log     logger.Logger
	central *logger.CentralLogger
	closers []func() error
	mu      sync.Mutex
}

// New opens the database and builds the pipeline. Brokers are not dialed
// here; see Dispatcher.
func New(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) (*App, error) {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logger").
			Build()
	}
	if settings.Debug {
		central.SetLevels("debug", settings.Logging.ModuleLevels)
	}
	logger.SetGlobal(central)

	a := &App{
		Settings: settings,
		Info:     info,
		log:      central.Module("app"),
		central:  central,
	}
	a.closers = append(a.closers, central.Close)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, info.Release()); err != nil {
			a.log.Warn("error tracking disabled", logger.Error(err))
		} else {
			a.log.Info("error tracking enabled", logger.String("release", info.Release()))
		}
	}

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	metrics, err := observability.NewMetrics()
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryTelemetry).
			Context("operation", "init_metrics").
			Build()
	}
	a.Metrics = metrics

	db, err := datastore.NewManager(&a.Settings.Database, a.central.Module("datastore"))
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := db.Initialize(ctx); err != nil {
		return err
	}
	a.Store = datastore.NewStore(db.DB())
	a.log.Info("database ready",
		logger.String("type", a.Settings.Database.Type),
		logger.String("path", db.Path()))

	if len(a.Settings.Taxonomy.SeedPaths) > 0 {
		n, err := a.ImportTaxa(ctx, a.Settings.Taxonomy.SeedPaths)
		if err != nil {
			return err
		}
		a.log.Info("taxa seeded", logger.Int("taxa", n))
	}

	source, err := a.taxonSource()
	if err != nil {
		return err
	}
	a.Tree = taxonomy.NewCachedTree(source, taxonomy.CacheOptions{
		TTL:           a.Settings.Taxonomy.CacheTTL,
		LookupTimeout: a.Settings.Taxonomy.LookupTimeout,
		Logger:        a.root(),
		Metrics:       metrics.Taxonomy,
	})

	svc, err := service.New(service.Config{
		Store:            a.Store,
		Tree:             a.Tree,
		Logger:           a.root(),
		Metrics:          metrics.Consensus,
		RecomputeWorkers: a.Settings.Service.RecomputeWorkers,
	})
	if err != nil {
		return err
	}
	a.Service = svc
	return nil
}

func (a *App) taxonSource() (taxonomy.Source, error) {
	if !a.Settings.Taxonomy.IsRemote() {
		return a.Store.Taxa(), nil
	}
	remote := a.Settings.Taxonomy.Remote
	httpLog := a.central.Module("taxonomy").Module("http")
	httpClient := httpclient.New(httpclient.Config{
		Timeout:   remote.Timeout,
		UserAgent: "idconsensus/" + a.Info.GetVersion(),
		AfterResponse: func(req *http.Request, resp *http.Response, elapsed time.Duration, err error) {
			if err != nil {
				httpLog.Debug("taxonomy request failed",
					logger.String("path", req.URL.Path),
					logger.Duration("elapsed", elapsed),
					logger.Error(err))
				return
			}
			httpLog.Trace("taxonomy request",
				logger.String("path", req.URL.Path),
				logger.Int("status", resp.StatusCode),
				logger.Duration("elapsed", elapsed))
		},
	})
	client, err := taxonomy.NewClient(taxonomy.ClientConfig{
		BaseURL:   remote.BaseURL,
		APIKey:    remote.APIKey,
		Timeout:   remote.Timeout,
		RateLimit: remote.RateLimit,
		Burst:     remote.Burst,
	}, httpClient, a.root())
	if err != nil {
		return nil, err
	}
	a.log.Info("using remote taxonomy", logger.String("base_url", remote.BaseURL))
	return client, nil
}

// ImportTaxa loads YAML seed files matching patterns into the taxa table
// and drops any cached lineages they replace.
func (a *App) ImportTaxa(ctx context.Context, patterns []string) (int, error) {
	taxa, err := taxonomy.LoadSeedFiles(patterns)
	if err != nil {
		return 0, err
	}
	n, err := a.Store.Taxa().Upsert(ctx, taxa)
	if err != nil {
		return 0, err
	}
	if a.Tree != nil {
		a.Tree.Flush()
	}
	return n, nil
}

// Dispatcher builds the outbox dispatcher. The local reducer is always a
// sink; NATS and MQTT are added when enabled and their connections are
// released by Close.
func (a *App) Dispatcher(ctx context.Context) (*effects.Dispatcher, error) {
	es := a.Settings.Effects
	sinks := []effects.Sink{reducer.New(a.Store, a.root())}

	if es.NATS.Enabled {
		sink, err := effects.DialNATS(ctx, es.NATS, a.root())
		if err != nil {
			return nil, err
		}
		a.addCloser(sink.Close)
		sinks = append(sinks, sink)
	}
	if es.MQTT.Enabled {
		sink, client, err := effects.DialMQTT(ctx, es.MQTT, a.root())
		if err != nil {
			return nil, err
		}
		a.addCloser(func() error {
			client.Disconnect(250)
			return nil
		})
		sinks = append(sinks, sink)
	}

	var alerter effects.Alerter
	if es.Alerts.Enabled {
		sa, err := effects.NewShoutrrrAlerter(es.Alerts.URLs, a.root())
		if err != nil {
			return nil, err
		}
		alerter = sa
	}

	d := es.Dispatcher
	return effects.NewDispatcher(a.Store.Outbox(), effects.NewFanOut(sinks...), effects.DispatcherConfig{
		PollInterval: d.PollInterval,
		BatchSize:    d.BatchSize,
		MaxAttempts:  d.MaxAttempts,
		InitialDelay: d.InitialDelay,
		MaxDelay:     d.MaxDelay,
		Multiplier:   d.Multiplier,
		Alerter:      alerter,
		Metrics:      a.Metrics.Effects,
		Logger:       a.root(),
	}), nil
}

// HealthCheck pings the database.
func (a *App) HealthCheck(ctx context.Context) error {
	sqlDB, err := a.DB.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Reload applies settings that can change without a restart: log levels
// and the lineage cache lifetime.
func (a *App) Reload(settings *conf.Settings) {
	level := settings.Logging.DefaultLevel
	if settings.Debug {
		level = "debug"
	}
	a.central.SetLevels(level, settings.Logging.ModuleLevels)
	if settings.Taxonomy.CacheTTL > 0 {
		a.Tree.SetTTL(settings.Taxonomy.CacheTTL)
	}
	a.log.Info("settings reloaded",
		logger.String("default_level", level),
		logger.Duration("cache_ttl", settings.Taxonomy.CacheTTL))
}

// refreshOutboxGauges keeps the outbox row gauges current until ctx ends.
func (a *App) refreshOutboxGauges(ctx context.Context) {
	ticker := time.NewTicker(outboxGaugeInterval)
	defer ticker.Stop()
	for {
		stats, err := a.Store.Outbox().Stats(ctx)
		if err == nil {
			a.Metrics.ObserveOutbox(stats)
		} else if ctx.Err() == nil {
			a.log.Debug("outbox stats unavailable", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// root is handed to components that name their own module.
func (a *App) root() logger.Logger {
	return a.central.Root()
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
