package main

import (
	"fmt"
	"os"
	"time"

	"github.com/genricoloni/dropbeat/internal/config"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type rootOptions struct {
	verbose bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "dropbeatctl",
		Short:        "Inspect and control MPRIS media players",
		Long:         "Lists the media players on the session bus, shows their normalized metadata,\nsends playback controls and runs the cover-art pipeline.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "Deadline for player calls and art processing")

	cmd.AddCommand(
		newPlayersCmd(opts),
		newStatusCmd(opts),
		newControlCmd(opts),
		newArtCmd(opts),
		newWatchCmd(opts),
		newCleanCmd(opts),
	)
	return cmd
}

// newLogger keeps the terminal quiet unless --verbose is set
func (o *rootOptions) newLogger() *zap.Logger {
	var cfg zap.Config
	if o.verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		cfg.Encoding = "console"
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// busSession is a short-lived tracker for one-shot commands
type busSession struct {
	logger  *zap.Logger
	cfg     *config.AppConfig
	bus     monitor.BusClient
	watcher *monitor.Watcher
}

// connect subscribes to the session bus and registers the running players
func (o *rootOptions) connect() (*busSession, error) {
	logger := o.newLogger()

	bus, err := monitor.NewStdBusClient()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	watcher := monitor.NewWatcher(logger, bus, monitor.NewRegistry(logger, bus))
	if err := watcher.Subscribe(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to subscribe to players: %w", err), bus.Close())
	}

	// Nobody consumes events in one-shot commands
	go func() {
		for range watcher.Events() {
		}
	}()
	watcher.Seed()

	return &busSession{
		logger:  logger,
		cfg:     config.NewAppConfig(logger),
		bus:     bus,
		watcher: watcher,
	}, nil
}

func (s *busSession) close() error {
	return multierr.Append(s.watcher.Unsubscribe(), s.bus.Close())
}
