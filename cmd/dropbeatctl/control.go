package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/genricoloni/dropbeat/internal/engine"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newControlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "control <player> <playpause|prev|next>",
		Short:     "Send a playback control to a player",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"playpause", "prev", "next"},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id := resolvePlayer(args[0])
			action, ok := domain.ParseAction(args[1])
			if !ok {
				return fmt.Errorf("%w: %q", engine.ErrUnknownAction, args[1])
			}

			s, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := s.watcher.Control(ctx, id, action); err != nil {
				if errors.Is(err, monitor.ErrPlayerNotFound) {
					return fmt.Errorf("%w: %s", engine.ErrUnknownPlayer, id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", action, shortName(id))
			return nil
		},
	}
}
