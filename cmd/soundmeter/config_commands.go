package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soundmeter/internal/config"
)

func newConfigCommand(cc *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(cc))
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigValidateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and print the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cc.manager.Get()
			if err := config.Validate(cfg); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			path := cc.manager.Path()
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(out, "Config: %s\n", path)
			fmt.Fprintln(out, renderTable(
				[]string{"Setting", "Value"},
				[][]string{
					{"timezone", cfg.Location().String()},
					{"server.addr", cfg.Server.Addr},
					{"storage.driver", cfg.Storage.Driver},
					{"kafka.enabled", fmt.Sprint(cfg.Kafka.Enabled)},
					{"monitor.server_url", cfg.Monitor.ServerURL},
					{"monitor.sink", cfg.Monitor.Sink},
					{"acquisition.backend", cfg.Acquisition.Backend},
					{"acquisition.fft_size", fmt.Sprint(cfg.Acquisition.FFTSize)},
				},
				nil,
			))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init <path>",
		Short:       "Write a configuration file with default values",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := config.ResolvePath(args[0])
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.Save(target, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}
