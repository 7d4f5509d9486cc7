package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soundmeter/internal/acquisition"
	"soundmeter/internal/dispatch"
	"soundmeter/internal/loudness"
	"soundmeter/internal/monitor"
)

func newMonitorCommand(cc *commandContext) *cobra.Command {
	var (
		fake     bool
		server   string
		clientID string
		sinkName string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Measure the room and raise alerts against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := cc.manager.Get()
			logger := cc.logger
			mcfg := cfg.Monitor
			if server != "" {
				mcfg.ServerURL = server
			}
			if clientID != "" {
				mcfg.ClientID = clientID
			}
			if mcfg.ClientID == "" {
				host, _ := os.Hostname()
				mcfg.ClientID = host
			}
			if sinkName != "" {
				mcfg.Sink = sinkName
			}

			backend := cfg.Acquisition.Backend
			if fake {
				backend = "fake"
			}
			actx, err := acquisition.NewContext(backend)
			if err != nil {
				return err
			}
			analyzer, err := acquisition.Open(ctx, actx, acquisition.Config{
				Device:                cfg.Acquisition.Device,
				SampleRate:            cfg.Acquisition.SampleRate,
				FFTSize:               cfg.Acquisition.FFTSize,
				SmoothingTimeConstant: cfg.Acquisition.SmoothingTimeConstant,
			})
			if err != nil {
				if errors.Is(err, acquisition.ErrPermissionDenied) {
					return fmt.Errorf("microphone access was denied: %w", err)
				}
				return err
			}
			defer analyzer.Release()

			var sink monitor.Sink
			switch mcfg.Sink {
			case "kafka":
				sink = monitor.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			case "none":
			default:
				sink = monitor.NewHTTPSink(mcfg.ServerURL, mcfg.RequestTimeout)
			}
			if sink != nil {
				defer sink.Close()
			}

			settings := monitor.NewRemoteSettings(mcfg.ServerURL, mcfg.RequestTimeout, logger.With("component", "settings"))
			go settings.Run(ctx, mcfg.ConfigPollInterval)

			out := cmd.OutOrStdout()
			session := monitor.NewSession(monitor.Options{
				Source:          analyzer,
				Meter:           loudness.NewEstimator(analyzer.SampleRate(), analyzer.FFTSize(), loudness.ParamsFromConfig(cfg.Loudness)),
				Settings:        settings,
				Dispatcher:      dispatch.NewHTTPDispatcher(mcfg.ServerURL, mcfg.RequestTimeout, logger.With("component", "dispatch")),
				Sink:            sink,
				Location:        cfg.Location(),
				PersistInterval: mcfg.PersistInterval,
				ClientID:        mcfg.ClientID,
				Logger:          logger,
				OnReading: func(st monitor.Status) {
					if quiet {
						return
					}
					slot := "-"
					if st.InSlot {
						slot = fmt.Sprint(st.SlotID)
					}
					avg := "   -"
					if st.Average != nil {
						avg = fmt.Sprintf("%5.1f", *st.Average)
					}
					fmt.Fprintf(out, "\r%s  %5.1f dB  avg %s  %-6s  slot %s ", st.Reading.Timestamp.Format("15:04:05"), st.Reading.Value, avg, st.Zone, slot)
				},
			})
			err = session.Run(ctx)
			if !quiet {
				fmt.Fprintln(out)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&fake, "fake", false, "Use the synthetic tone generator instead of a microphone")
	cmd.Flags().StringVar(&server, "server", "", "Server base URL (overrides monitor.server_url)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Identifier reported with persisted readings")
	cmd.Flags().StringVar(&sinkName, "sink", "", "Where to persist readings: http, kafka or none")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the live level")
	return cmd
}
