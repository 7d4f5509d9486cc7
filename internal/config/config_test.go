package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soundmeter/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "log_level: debug\nmonitor:\n  server_url: http://hall:5000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Monitor.ServerURL != "http://hall:5000" {
		t.Fatalf("fields not decoded: %+v", cfg)
	}
	if cfg.Monitor.PersistInterval != 30*time.Second {
		t.Fatalf("persist interval default missing: %s", cfg.Monitor.PersistInterval)
	}
	if cfg.Acquisition.FFTSize != 2048 {
		t.Fatalf("fft size default missing: %d", cfg.Acquisition.FFTSize)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"timezone":"UTC","storage":{"driver":"postgres","dsn":"postgres://x"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Location() != time.UTC {
		t.Fatalf("unexpected: %+v", cfg.Storage)
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Acquisition.FFTSize = 1000
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected fft size error")
	}
	cfg = DefaultConfig()
	cfg.Monitor.Sink = "kafka"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected kafka sink error without brokers")
	}
	cfg = DefaultConfig()
	cfg.Storage.Driver = "mysql"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected driver error")
	}
}

func TestManagerReload(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload needed, got %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "warn" || m.Get().LogLevel != "warn" {
		t.Fatalf("reload not applied")
	}
}

func TestValidateSettings(t *testing.T) {
	if err := ValidateSettings(DefaultSettings()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	mutations := map[string]func(*model.Settings){
		"overlap": func(s *model.Settings) {
			s.TimeSlots = append(s.TimeSlots, model.TimeSlot{ID: 9, Start: "11:45", End: "12:10"})
		},
		"negative instant":  func(s *model.Settings) { s.Thresholds.InstantDb = -1 },
		"zero window":       func(s *model.Settings) { s.Thresholds.AverageWindowMinutes = 0 },
		"negative window":   func(s *model.Settings) { s.Thresholds.AverageWindowMinutes = -2 },
		"negative cooldown": func(s *model.Settings) { s.Thresholds.CooldownMinutes = -1 },
		"zones inverted":    func(s *model.Settings) { s.Zones = model.Zones{OrangeDb: 80, RedDb: 60} },
		"tick too fast":     func(s *model.Settings) { s.TickIntervalMs = 10 },
	}
	for name, mutate := range mutations {
		s := DefaultSettings()
		mutate(&s)
		if err := ValidateSettings(s); !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("%s: expected ErrInvalidSettings, got %v", name, err)
		}
	}
}
