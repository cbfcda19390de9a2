package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"TAMObserver/internal/usecase"
	"TAMObserver/pkg/cache"
	pkgch "TAMObserver/pkg/clickhouse"
	"TAMObserver/pkg/config"
	xhttp "TAMObserver/pkg/http"
	pkgkafka "TAMObserver/pkg/kafka"
	applogger "TAMObserver/pkg/logger"
	"TAMObserver/pkg/queue"
)

// Components are the long-running parts of the service. Optional parts are
// nil when their feature is disabled.
type Components struct {
	Processor *usecase.ObservationProcessor
	Collector *usecase.BarCollector
	Consumer  *pkgkafka.Consumer
	Bars      pkgkafka.MessageHandler
	Jobs      *queue.RedisQueue
	Regime    *usecase.RegimeGate
	Cache     cache.Service
	CH        *pkgch.Client
	Producer  *pkgkafka.Producer
	HTTP      *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components
}

func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{cfg: cfg, log: log, c: c}
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal HTTP
// error, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if lc := a.cfg.Log.Collector; lc.Enabled && a.c.Producer != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   lc.Interval,
			CountThreshold: lc.Threshold,
			Topic:          lc.Topic,
			Publisher:      a.c.Producer,
		})
	}

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-a.c.HTTP.Errors():
		a.log.Error("http server failed", applogger.Error(runErr))
	}
	a.shutdown()
	return runErr
}

func (a *App) start(ctx context.Context) error {
	if a.c.Jobs != nil {
		if err := a.c.Jobs.Start(); err != nil {
			return err
		}
	}
	if a.c.Regime != nil {
		a.c.Regime.Start(ctx)
		a.log.Info("regime gate started")
	}
	if a.c.Consumer != nil && a.c.Bars != nil {
		a.c.Consumer.RegisterHandler(a.c.Bars)
		if err := a.c.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.c.Bars.Topic()))
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			return err
		}
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Finnhub.Symbols))
	}
	return a.c.HTTP.Start()
}

// shutdown stops intake first, then the sinks.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down")

	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.Jobs != nil {
		if err := a.c.Jobs.Stop(ctx); err != nil {
			a.log.Warn("job queue stop error", applogger.Error(err))
		}
	}
	if a.c.Regime != nil {
		a.c.Regime.Stop()
	}

	// the collector publishes through the producer the processor closes
	a.log.RemoveCollector()
	a.c.Processor.Close()

	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	if a.c.CH != nil {
		if err := a.c.CH.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
