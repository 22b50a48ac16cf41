package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/citychat/internal/devserver"
)

func newDevServerCommand(root *rootOptions) *cobra.Command {
	var (
		addr string
		db   string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the local chat backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg.DevServer
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = db
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := devserver.New(cfg, root.logger)
			if err != nil {
				return err
			}

			root.logger.Info().Str("addr", cfg.Addr).Msg("starting citychat devserver")
			if err := srv.Run(ctx); err != nil {
				return err
			}
			root.logger.Info().Msg("devserver stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&db, "db", "", "SQLite database path")
	return cmd
}
