package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"QuantSync/internal/services/consolidation"
	"QuantSync/internal/services/producers"
	"QuantSync/internal/usecase"
	"QuantSync/pkg/config"
	xhttp "QuantSync/pkg/http"
	pkgkafka "QuantSync/pkg/kafka"
	applogger "QuantSync/pkg/logger"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	scheduler  *usecase.Scheduler
	httpServer *xhttp.Server

	syncer   *consolidation.Syncer
	feed     *producers.Feed
	consumer *pkgkafka.Consumer
	bars     pkgkafka.MessageHandler
	closers  []closer
}

// New creates a new App instance with the mandatory components. Optional
// ones are attached with the setters below.
func New(cfg *config.Config, l *applogger.Logger, scheduler *usecase.Scheduler, httpServer *xhttp.Server) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, scheduler: scheduler, httpServer: httpServer}
}

func (a *App) SetSyncer(s *consolidation.Syncer) { a.syncer = s }

func (a *App) SetFeed(f *producers.Feed) { a.feed = f }

func (a *App) SetConsumer(c *pkgkafka.Consumer, bars pkgkafka.MessageHandler) {
	a.consumer = c
	a.bars = bars
}

// AddCloser registers a resource released on shutdown. Closers run in
// reverse registration order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown(cancel)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	a.shutdown(cancel)
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.syncer != nil {
		if err := a.syncer.Start(ctx); err != nil {
			return err
		}
	}

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil {
				a.log.Error("score feed stopped", applogger.Error(err))
			}
		}()
	}

	if a.consumer != nil && a.bars != nil {
		a.consumer.RegisterHandler(a.bars)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.bars.Topic()))
	}

	a.scheduler.Start(ctx)

	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.log.Info("quantsync started",
		applogger.String("instance_id", a.cfg.Instance.ID),
		applogger.String("env", a.cfg.Environment),
		applogger.Strings("symbols", a.cfg.Trading.Symbols))
	return nil
}

// shutdown stops producers of work before the stores they write to.
func (a *App) shutdown(cancel context.CancelFunc) {
	a.log.Info("shutting down")

	stopCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()

	if err := a.httpServer.Stop(stopCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	a.scheduler.Stop()
	if a.consumer != nil {
		if err := a.consumer.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	cancel()
	if a.syncer != nil {
		a.syncer.Stop()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
