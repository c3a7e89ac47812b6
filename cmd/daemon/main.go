package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/genricoloni/dropbeat/internal/config"
	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/genricoloni/dropbeat/internal/engine"
	"github.com/genricoloni/dropbeat/internal/executor"
	"github.com/genricoloni/dropbeat/internal/fetcher"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/genricoloni/dropbeat/internal/processor"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions is the daemon's dependency graph
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		fx.Annotate(
			config.NewAppConfig,
			fx.As(fx.Self()),
			fx.As(new(domain.Config)),
		),
		newBusClient,
		monitor.NewRegistry,
		fx.Annotate(
			monitor.NewWatcher,
			fx.As(new(engine.Tracker)),
		),
		fx.Annotate(
			fetcher.NewHTTPFetcher,
			fx.As(new(domain.Fetcher)),
			fx.As(new(engine.Session)),
		),
		fx.Annotate(
			executor.NewProcessRunner,
			fx.As(new(domain.Runner)),
		),
		fx.Annotate(
			processor.NewPipeline,
			fx.As(new(domain.ArtProcessor)),
		),
		monitor.NewScreenResolution,
		engine.NewEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		AppOptions,
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance.
// DROPBEAT_DEBUG=1 switches to the development config.
func newLogger() (*zap.Logger, error) {
	if debug := os.Getenv("DROPBEAT_DEBUG"); debug != "" && debug != "0" && !strings.EqualFold(debug, "false") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newBusClient connects to the session bus and closes it on shutdown.
// Its stop hook runs after the engine's, once every listener is gone.
func newBusClient(lc fx.Lifecycle, logger *zap.Logger) (monitor.BusClient, error) {
	bus, err := monitor.NewStdBusClient()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debug("Closing session bus connection")
			return bus.Close()
		},
	})
	return bus, nil
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, cfg *config.AppConfig, eng *engine.Engine) {
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := eng.Start(ctx); err != nil {
				stopWatch()
				return err
			}

			go logUpdates(logger, eng.Updates())
			go func() {
				if err := cfg.Watch(watchCtx); err != nil {
					logger.Warn("Config reload disabled", zap.Error(err))
				}
			}()

			logger.Info("Dropbeat Daemon Started",
				zap.String("config", cfg.Path()),
				zap.String("outputDir", cfg.GetOutputDir()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			stopWatch()
			return eng.Stop(ctx)
		},
	})
}

// logUpdates stands in for the presentation layer until Updates closes
func logUpdates(logger *zap.Logger, updates <-chan engine.Update) {
	for u := range updates {
		player := zap.String("player", string(u.Event.Player))

		switch {
		case u.Art != nil:
			logger.Info("Cover art ready",
				player,
				zap.String("standard", u.Art.Standard),
				zap.String("blurred", u.Art.Blurred),
				zap.Bool("fallback", u.Art.Fallback))
		case u.Snapshot != nil:
			logger.Info("Player "+u.Event.Kind.String(),
				player,
				zap.String("title", u.Snapshot.Title),
				zap.Strings("artists", u.Snapshot.Artists),
				zap.String("album", u.Snapshot.Album),
				zap.String("status", string(u.Snapshot.Status)))
		default:
			logger.Info("Player "+u.Event.Kind.String(), player)
		}
	}
}
