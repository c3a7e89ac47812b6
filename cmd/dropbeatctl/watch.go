package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/dropbeat/internal/config"
	"github.com/genricoloni/dropbeat/internal/engine"
	"github.com/genricoloni/dropbeat/internal/executor"
	"github.com/genricoloni/dropbeat/internal/fetcher"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/genricoloni/dropbeat/internal/processor"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow player events and cover-art updates until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			logger := opts.newLogger()
			cfg := config.NewAppConfig(logger)

			bus, err := monitor.NewStdBusClient()
			if err != nil {
				return fmt.Errorf("failed to connect to session bus: %w", err)
			}
			defer func() { err = multierr.Append(err, bus.Close()) }()

			httpFetcher := fetcher.NewHTTPFetcher(logger, cfg)
			pipeline, err := processor.NewPipeline(logger, cfg, httpFetcher, executor.NewProcessRunner(logger))
			if err != nil {
				return err
			}

			eng := engine.NewEngine(
				logger,
				cfg,
				monitor.NewWatcher(logger, bus, monitor.NewRegistry(logger, bus)),
				pipeline,
				httpFetcher,
				monitor.NewScreenResolution(logger),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			updates := eng.Updates()
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case u, ok := <-updates:
					if !ok {
						break loop
					}
					fmt.Fprintln(out, formatUpdate(time.Now(), u))
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), opts.timeout)
			defer cancel()
			return eng.Stop(stopCtx)
		},
	}
}
