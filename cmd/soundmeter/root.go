package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"soundmeter/internal/config"
	"soundmeter/internal/logging"
)

type commandContext struct {
	configPath string
	manager    *config.Manager
	logger     *slog.Logger
}

// load reads the configuration once per invocation. A missing file falls
// back to defaults so the commands work out of the box.
func (c *commandContext) load() error {
	if c.manager != nil {
		return nil
	}
	path := config.ResolvePath(c.configPath)
	if path == "" {
		cfg := config.DefaultConfig()
		c.manager = config.NewStaticManager(cfg)
	} else {
		m, err := config.NewManager(path)
		if err != nil {
			return err
		}
		c.manager = m
	}
	cfg := c.manager.Get()
	c.logger = logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(c.logger)
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "soundmeter",
		Short:         "Dining hall sound level monitor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			return cc.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Configuration file path (YAML or JSON)")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newMonitorCommand(cc))
	rootCmd.AddCommand(newTrendsCommand(cc))
	rootCmd.AddCommand(newConfigCommand(cc))
	return rootCmd
}
