package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"soundmeter/internal/model"
	"soundmeter/internal/normalize"
)

var (
	ErrDuplicate = errors.New("duplicate reading")
	ErrRejected  = errors.New("reading rejected")
)

type LogStore interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveLog(ctx context.Context, log model.SoundLog) (int64, error)
}

// Writer validates readings against the current time slots and stores
// them. It is shared by the HTTP endpoint and the kafka consumer.
type Writer struct {
	store   LogStore
	loc     *time.Location
	dedupe  *DedupeCache
	logger  *slog.Logger
	onSaved func(model.SoundLog)
	now     func() time.Time
}

func NewWriter(store LogStore, loc *time.Location, dedupe *DedupeCache, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, loc: loc, dedupe: dedupe, logger: logger, now: time.Now}
}

// OnSaved registers a hook called after every stored reading.
func (w *Writer) OnSaved(fn func(model.SoundLog)) {
	w.onSaved = fn
}

func (w *Writer) Write(ctx context.Context, fields normalize.ReadingFields) (model.SoundLog, error) {
	settings, err := w.store.LoadSettings(ctx)
	if err != nil {
		return model.SoundLog{}, err
	}
	log, err := normalize.Normalize(fields, settings.TimeSlots, w.loc)
	if err != nil {
		return model.SoundLog{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	key := log.ClientID + "|" + log.Timestamp.UTC().Format(time.RFC3339Nano)
	if w.dedupe.Seen(key, w.now()) {
		return log, ErrDuplicate
	}
	id, err := w.store.SaveLog(ctx, log)
	if err != nil {
		w.dedupe.Forget(key)
		return model.SoundLog{}, err
	}
	log.ID = id
	if w.onSaved != nil {
		w.onSaved(log)
	}
	return log, nil
}

// Run stores readings from in until it is closed or ctx is done.
func (w *Writer) Run(ctx context.Context, in <-chan normalize.ReadingFields) {
	for {
		select {
		case <-ctx.Done():
			return
		case fields, ok := <-in:
			if !ok {
				return
			}
			if _, err := w.Write(ctx, fields); err != nil {
				if errors.Is(err, ErrDuplicate) {
					w.logger.Debug("duplicate reading dropped", "client_id", fields.ClientID, "timestamp", fields.Timestamp)
					continue
				}
				w.logger.Warn("reading rejected", "err", err, "client_id", fields.ClientID)
			}
		}
	}
}
