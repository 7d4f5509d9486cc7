package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"soundmeter/internal/config"
	"soundmeter/internal/normalize"
)

// StartKafka consumes monitor readings from the configured topic until ctx
// is cancelled.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- normalize.ReadingFields, logger *slog.Logger) {
	current := cfg.Get().Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			fields, err := ParseJSONBytes(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka decode error", "err", err, "offset", m.Offset)
				}
				continue
			}
			if fields.ClientID == "" {
				fields.ClientID = string(m.Key)
			}
			SendNonBlocking(ctx, out, fields, logger)
		}
	}()
}
