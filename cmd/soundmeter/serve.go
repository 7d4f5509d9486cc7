package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"soundmeter/internal/api"
	"soundmeter/internal/config"
	"soundmeter/internal/ingest"
	"soundmeter/internal/normalize"
	"soundmeter/internal/storage"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configuration, logging and alert server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := cc.manager.Get()
			logger := cc.logger
			store, err := storage.NewStore(cfg.Storage, cfg.Location())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Init(ctx); err != nil {
				return err
			}

			srv := api.NewServer(cc.manager, api.Options{
				Store:   store,
				Logger:  logger,
				Version: version,
			})

			readings := make(chan normalize.ReadingFields, 256)
			go srv.Writer().Run(ctx, readings)
			ingest.StartKafka(ctx, cc.manager, readings, logger.With("component", "kafka"))

			if addr == "" {
				addr = cfg.Server.Addr
			}
			httpServer := api.Start(ctx, srv, addr)

			if cc.manager.Path() != "" {
				go cc.manager.Watch(0, func(next *config.Config) {
					logger.Info("config reloaded", "path", cc.manager.Path(), "log_level", next.LogLevel)
				}, func(err error) {
					logger.Warn("config reload failed", "err", err)
				}, ctx.Done())
			}

			<-ctx.Done()
			logger.Info("shutting down", "addr", httpServer.Addr)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
