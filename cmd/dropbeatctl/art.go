package main

import (
	"context"
	"fmt"

	"github.com/genricoloni/dropbeat/internal/config"
	"github.com/genricoloni/dropbeat/internal/executor"
	"github.com/genricoloni/dropbeat/internal/fetcher"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/genricoloni/dropbeat/internal/processor"
	"github.com/spf13/cobra"
)

func newArtCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "art [reference]",
		Short: "Run the cover-art pipeline once",
		Long: "Processes an http(s) or file:// art reference into the standard and blurred\n" +
			"cache slots. Without a reference the placeholder is processed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref string
			if len(args) == 1 {
				ref = args[0]
			}

			logger := opts.newLogger()
			cfg := config.NewAppConfig(logger)

			httpFetcher := fetcher.NewHTTPFetcher(logger, cfg)
			httpFetcher.Open()
			defer httpFetcher.Close()

			pipeline, err := processor.NewPipeline(logger, cfg, httpFetcher, executor.NewProcessRunner(logger))
			if err != nil {
				return err
			}
			if err := pipeline.Init(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			res, err := pipeline.Process(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to process cover art: %w", err)
			}

			card := monitor.CardSizeFor(monitor.NewScreenResolution(logger))
			renderArt(cmd.OutOrStdout(), res, card)
			return nil
		},
	}
}

func newCleanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the cover-art working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewAppConfig(opts.newLogger())

			cache, err := processor.NewCache(cfg.GetOutputDir())
			if err != nil {
				return err
			}
			if err := cache.Clear(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", cache.Dir())
			return nil
		},
	}
}
