package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/citychat/internal/config"
	"github.com/vovakirdan/citychat/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zerolog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "citychat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "citychat",
		Short:         "Town chat client and local development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newChatCommand(opts))
	root.AddCommand(newDevServerCommand(opts))
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	bootstrap := log.New(o.logLevel)
	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	o.cfg = cfg
	o.logger = log.New(cfg.LogLevel)
	o.logger.Debug().Str("path", path).Msg("config loaded")
	return nil
}
