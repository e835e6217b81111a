package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/edgeshare/internal/config"
	"github.com/danmuck/edgeshare/internal/logging"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "edgeshare.toml"

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        config.File
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "edgeshare",
		Short:         "Send one file at a time over an authenticated QUIC session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			opts.cfg = cfg
			level := opts.logLevel
			if strings.TrimSpace(level) == "" {
				level = cfg.Log.Level
			}
			logging.ConfigureLevel(logging.ProfileRuntime, level)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")

	cmd.AddCommand(
		newSendCmd(opts),
		newServeCmd(opts),
		newCertgenCmd(opts),
		newHistoryCmd(opts),
		newScanCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
