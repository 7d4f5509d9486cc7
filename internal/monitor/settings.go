package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"soundmeter/internal/config"
	"soundmeter/internal/model"
)

// SettingsSource hands out the settings snapshot a tick should use.
type SettingsSource interface {
	Settings() model.Settings
}

type StaticSettings struct {
	value atomic.Pointer[model.Settings]
}

func NewStaticSettings(s model.Settings) *StaticSettings {
	st := &StaticSettings{}
	st.Set(s)
	return st
}

func (s *StaticSettings) Settings() model.Settings {
	return *s.value.Load()
}

func (s *StaticSettings) Set(v model.Settings) {
	s.value.Store(&v)
}

// RemoteSettings polls the server configuration. Until the first successful
// fetch it serves the defaults; an invalid document keeps the last good one.
type RemoteSettings struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	current atomic.Pointer[model.Settings]
}

func NewRemoteSettings(baseURL string, timeout time.Duration, logger *slog.Logger) *RemoteSettings {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &RemoteSettings{
		url:    strings.TrimRight(baseURL, "/") + "/api/config",
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	def := config.DefaultSettings()
	r.current.Store(&def)
	return r
}

func (r *RemoteSettings) Settings() model.Settings {
	return *r.current.Load()
}

// Refresh fetches the configuration once.
func (r *RemoteSettings) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch settings: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	next := config.DefaultSettings()
	if err := json.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := config.ValidateSettings(next); err != nil {
		return err
	}
	prev := r.current.Swap(&next)
	if prev.TickIntervalMs != next.TickIntervalMs || prev.Thresholds != next.Thresholds {
		r.logger.Info("settings refreshed",
			"tick_ms", next.TickIntervalMs,
			"alerts_enabled", next.Thresholds.Enabled,
			"instant_db", next.Thresholds.InstantDb,
			"average_db", next.Thresholds.AverageDb,
		)
	}
	return nil
}

// Run refreshes every interval until ctx is cancelled.
func (r *RemoteSettings) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("settings refresh failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("settings refresh failed", "err", err)
			}
		}
	}
}
