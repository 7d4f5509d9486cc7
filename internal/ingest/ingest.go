// Package ingest receives readings from remote monitors and stores them.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"soundmeter/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- normalize.ReadingFields, rf normalize.ReadingFields, logger *slog.Logger) bool {
	select {
	case out <- rf:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "client_id", rf.ClientID, "timestamp", rf.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
