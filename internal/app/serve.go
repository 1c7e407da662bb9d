package app

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/idconsensus/internal/api"
	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

// dispatcherStopTimeout bounds the wait for in-flight deliveries on shutdown.
const dispatcherStopTimeout = 10 * time.Second

// Serve runs the dispatcher and, when enabled, the HTTP API until ctx is
// cancelled. Config file edits are applied live through Reload.
func (a *App) Serve(ctx context.Context) error {
	dispatcher, err := a.Dispatcher(ctx)
	if err != nil {
		return err
	}

	var server *api.Server
	if a.Settings.WebServer.Enabled {
		server, err = api.New(a.Service, api.ConfigFromSettings(&a.Settings.WebServer),
			api.WithLogger(a.central.Module("api")),
			api.WithMetrics(a.Metrics),
			api.WithOutbox(a.Store.Outbox()),
			api.WithHealthCheck("database", a.HealthCheck))
		if err != nil {
			return err
		}
	}

	conf.WatchConfig(a.central.Module("config"), a.Reload)

	var wg sync.WaitGroup
	gaugeCtx, stopGauges := context.WithCancel(ctx)
	defer stopGauges()
	wg.Go(func() { a.refreshOutboxGauges(gaugeCtx) })

	dispatcher.Start(ctx)
	if server != nil {
		server.Start()
	}
	a.log.Info("idconsensus running",
		logger.String("version", a.Info.GetVersion()),
		logger.Bool("api", server != nil))

	<-ctx.Done()
	a.log.Info("shutting down")

	var errs []error
	if server != nil {
		// ctx is already done; give the server its own shutdown window
		if err := server.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := dispatcher.StopWithTimeout(dispatcherStopTimeout); err != nil {
		errs = append(errs, err)
	}
	stopGauges()
	wg.Wait()

	stats := dispatcher.Stats()
	a.log.Info("dispatcher stopped",
		logger.Uint64("delivered", stats.Delivered),
		logger.Uint64("retried", stats.Retried),
		logger.Uint64("failed", stats.Failed))

	return errors.Join(errs...)
}
