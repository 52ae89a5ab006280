// Command sessiond runs session maintenance against a shared store: it sweeps
// expired sessions on schedule, relays store-native change feeds through the
// event bridge, logs every lifecycle event, and serves health probes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sessionkit/core/config"
	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/health"
	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
)

func main() {
	var cfg Config
	config.MustLoad(&cfg)

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("sessiond stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("sessiond stopped")
}

func newLogger(cfg Config) *slog.Logger {
	level, _ := logger.ParseLevel(cfg.LogLevel)
	opts := []logger.Option{logger.WithProduction("sessiond"), logger.WithLevel(level)}
	if cfg.LogFormat == "text" {
		opts = append(opts, logger.WithTextFormatter())
	}
	return logger.New(opts...)
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := b.close(closeCtx); err != nil {
			log.Warn("failed to close store", logger.Error(err))
		}
	}()

	bridgeOpts := []event.BridgeOption{
		event.WithBridgeLogger(log.With(logger.Component("bridge"))),
		event.WithListener(eventLogger(log)),
	}
	if b.feed != nil {
		bridgeOpts = append(bridgeOpts, event.WithFeed(b.feed))
	}
	bridge := event.NewBridge(bridgeOpts...)

	repo, err := session.NewRepository(b.store,
		session.WithConfig(cfg.Session),
		session.WithPublisher(bridge),
		session.WithLogger(log.With(logger.Component("repository"))),
	)
	if err != nil {
		return err
	}

	sweeper, err := session.NewSweeper(repo,
		session.WithSweeperLogger(log.With(logger.Component("sweeper"))),
	)
	if err != nil {
		return err
	}

	checks := append([]func(context.Context) error{repo.Healthcheck, bridge.Healthcheck, sweeper.Healthcheck}, b.checks...)
	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           healthMux(log, checks...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.InfoContext(ctx, "sessiond starting",
		logger.Store(cfg.Store),
		slog.String("namespace", cfg.Session.Namespace),
		slog.String("health_addr", cfg.HealthAddr),
		slog.Bool("feed", b.feed != nil))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(bridge.Run(ctx))
	eg.Go(sweeper.Run(ctx))
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func healthMux(log *slog.Logger, checks ...func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health/live", health.Liveness())
	mux.Handle("GET /health/ready", health.Readiness(log, checks...))
	mux.Handle("GET /ping", health.NoContent())
	return mux
}

// eventLogger logs every lifecycle event delivered by the bridge.
func eventLogger(log *slog.Logger) event.Listener {
	return event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		attrs := []any{
			logger.EventID(e.ID),
			logger.EventKind(e.Kind),
			logger.SessionID(e.SessionID),
			logger.Source(e.Source),
		}
		if principal, ok := e.Snapshot.Attribute(session.PrincipalNameIndexName); ok {
			if name, ok := principal.(string); ok {
				attrs = append(attrs, logger.Principal(name))
			}
		}
		log.InfoContext(ctx, "session event", attrs...)
		return nil
	})
}
