package main

import (
	"fmt"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newPlayersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List the media players on the session bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			renderPlayers(cmd.OutOrStdout(), s.watcher.Players(), s.watcher.Snapshot)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [player...]",
		Short: "Show the normalized metadata of players",
		Long:  "Shows every normalized field of the named players, or of all running players.\nA player is either its full bus name or the part after org.mpris.MediaPlayer2.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()

			players := s.watcher.Players()
			if len(args) > 0 {
				players = lo.Map(args, func(arg string, _ int) domain.PlayerIdentity {
					return resolvePlayer(arg)
				})
			}
			if len(players) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No players running")
				return nil
			}

			for _, id := range players {
				renderSnapshot(cmd.OutOrStdout(), id, s.watcher.Snapshot(id))
			}
			return nil
		},
	}
}
