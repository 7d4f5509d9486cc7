package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	LogFormat   string            `json:"log_format" yaml:"log_format"`
	Timezone    string            `json:"timezone" yaml:"timezone"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Kafka       KafkaConfig       `json:"kafka" yaml:"kafka"`
	Monitor     MonitorConfig     `json:"monitor" yaml:"monitor"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
	Loudness    LoudnessConfig    `json:"loudness" yaml:"loudness"`
	Mail        MailConfig        `json:"mail" yaml:"mail"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
	Levels      LevelsConfig      `json:"levels" yaml:"levels"`
}

type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MonitorConfig struct {
	ServerURL          string        `json:"server_url" yaml:"server_url"`
	ClientID           string        `json:"client_id" yaml:"client_id"`
	Sink               string        `json:"sink" yaml:"sink"`
	PersistInterval    time.Duration `json:"persist_interval" yaml:"persist_interval"`
	ConfigPollInterval time.Duration `json:"config_poll_interval" yaml:"config_poll_interval"`
	RequestTimeout     time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

type AcquisitionConfig struct {
	Backend               string  `json:"backend" yaml:"backend"`
	Device                string  `json:"device" yaml:"device"`
	SampleRate            int     `json:"sample_rate" yaml:"sample_rate"`
	FFTSize               int     `json:"fft_size" yaml:"fft_size"`
	SmoothingTimeConstant float64 `json:"smoothing_time_constant" yaml:"smoothing_time_constant"`
}

// LoudnessConfig holds the empirically tuned device model. The values
// approximate a phone/laptop microphone and are not metrologically exact.
type LoudnessConfig struct {
	DeviceOffsetDb    float64 `json:"device_offset_db" yaml:"device_offset_db"`
	LowCornerHz       float64 `json:"low_corner_hz" yaml:"low_corner_hz"`
	LowBoostDb        float64 `json:"low_boost_db" yaml:"low_boost_db"`
	NotchCenterHz     float64 `json:"notch_center_hz" yaml:"notch_center_hz"`
	NotchDepthDb      float64 `json:"notch_depth_db" yaml:"notch_depth_db"`
	NotchWidthOctaves float64 `json:"notch_width_octaves" yaml:"notch_width_octaves"`
	HighCornerHz      float64 `json:"high_corner_hz" yaml:"high_corner_hz"`
	HighBoostDb       float64 `json:"high_boost_db" yaml:"high_boost_db"`
}

type MailConfig struct {
	From    string        `json:"from" yaml:"from"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type LevelsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "Europe/Paris",
		Server:    ServerConfig{Addr: ":5000", AllowedOrigins: []string{"*"}},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "file:soundmeter.db?_pragma=busy_timeout(5000)"},
		Kafka:     KafkaConfig{Enabled: false, Topic: "soundmeter.readings", GroupID: "soundmeter"},
		Monitor: MonitorConfig{
			ServerURL:          "http://localhost:5000",
			Sink:               "http",
			PersistInterval:    30 * time.Second,
			ConfigPollInterval: 60 * time.Second,
			RequestTimeout:     10 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			Backend:    "auto",
			SampleRate: 48000,
			FFTSize:    2048,
		},
		Loudness: DefaultLoudness(),
		Mail:     MailConfig{From: "soundmeter@localhost", Timeout: 10 * time.Second},
		Alerts:   AlertsConfig{StoreLimit: 1000},
		Levels:   LevelsConfig{StoreLimit: 100},
	}
}

func DefaultLoudness() LoudnessConfig {
	return LoudnessConfig{
		DeviceOffsetDb:    100,
		LowCornerHz:       200,
		LowBoostDb:        6,
		NotchCenterHz:     7000,
		NotchDepthDb:      4,
		NotchWidthOctaves: 0.25,
		HighCornerHz:      10000,
		HighBoostDb:       4,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Monitor.PersistInterval <= 0 {
		cfg.Monitor.PersistInterval = def.Monitor.PersistInterval
	}
	if cfg.Monitor.ConfigPollInterval <= 0 {
		cfg.Monitor.ConfigPollInterval = def.Monitor.ConfigPollInterval
	}
	if cfg.Monitor.RequestTimeout <= 0 {
		cfg.Monitor.RequestTimeout = def.Monitor.RequestTimeout
	}
	if cfg.Monitor.Sink == "" {
		cfg.Monitor.Sink = def.Monitor.Sink
	}
	if cfg.Acquisition.SampleRate <= 0 {
		cfg.Acquisition.SampleRate = def.Acquisition.SampleRate
	}
	if cfg.Acquisition.FFTSize <= 0 {
		cfg.Acquisition.FFTSize = def.Acquisition.FFTSize
	}
	if cfg.Acquisition.Backend == "" {
		cfg.Acquisition.Backend = def.Acquisition.Backend
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Levels.StoreLimit <= 0 {
		cfg.Levels.StoreLimit = def.Levels.StoreLimit
	}
	if cfg.Mail.Timeout <= 0 {
		cfg.Mail.Timeout = def.Mail.Timeout
	}
}

func Validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" || cfg.Kafka.GroupID == "" {
			return errors.New("kafka requires brokers, topic, group_id")
		}
	}
	switch cfg.Monitor.Sink {
	case "http", "none":
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return errors.New("monitor.sink kafka requires kafka.brokers and kafka.topic")
		}
	default:
		return fmt.Errorf("monitor.sink %q not supported", cfg.Monitor.Sink)
	}
	n := cfg.Acquisition.FFTSize
	if n < 32 || n&(n-1) != 0 {
		return fmt.Errorf("acquisition.fft_size must be a power of two >= 32, got %d", n)
	}
	if s := cfg.Acquisition.SmoothingTimeConstant; s < 0 || s >= 1 {
		return fmt.Errorf("acquisition.smoothing_time_constant must be in [0,1), got %g", s)
	}
	if cfg.Loudness.NotchWidthOctaves < 0 {
		return errors.New("loudness.notch_width_octaves must be >= 0")
	}
	return nil
}

func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
