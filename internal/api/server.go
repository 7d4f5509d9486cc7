// Package api serves the configuration, logging, reporting and alert
// endpoints used by monitors and the dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"soundmeter/internal/alerts"
	"soundmeter/internal/config"
	"soundmeter/internal/ingest"
	"soundmeter/internal/mailer"
	"soundmeter/internal/metrics"
	"soundmeter/internal/model"
	"soundmeter/internal/storage"
)

type Server struct {
	cfg        *config.Manager
	store      storage.Store
	writer     *ingest.Writer
	sender     mailer.Sender
	alerts     *alerts.History
	levels     *metrics.Store
	collectors *metrics.Collectors
	logger     *slog.Logger
	version    string
	now        func() time.Time
}

type Options struct {
	Store      storage.Store
	Writer     *ingest.Writer
	Sender     mailer.Sender
	Alerts     *alerts.History
	Levels     *metrics.Store
	Collectors *metrics.Collectors
	Logger     *slog.Logger
	Version    string
}

func NewServer(cfg *config.Manager, opts Options) *Server {
	s := &Server{
		cfg:        cfg,
		store:      opts.Store,
		writer:     opts.Writer,
		sender:     opts.Sender,
		alerts:     opts.Alerts,
		levels:     opts.Levels,
		collectors: opts.Collectors,
		logger:     opts.Logger,
		version:    opts.Version,
		now:        time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.alerts == nil {
		s.alerts = alerts.NewHistory(cfg.Get().Alerts.StoreLimit)
	}
	if s.levels == nil {
		s.levels = metrics.NewStore(cfg.Get().Levels.StoreLimit)
	}
	if s.collectors == nil {
		s.collectors = metrics.NewCollectors()
	}
	if s.sender == nil {
		s.sender = mailer.SMTPSender{Timeout: cfg.Get().Mail.Timeout}
	}
	if s.writer == nil {
		s.writer = ingest.NewWriter(s.store, cfg.Get().Location(), ingest.NewDedupeCache(time.Minute, 0), s.logger)
	}
	s.writer.OnSaved(s.recordReading)
	return s
}

func (s *Server) recordReading(log model.SoundLog) {
	s.collectors.Reading(log)
	settings, err := s.store.LoadSettings(context.Background())
	zones := config.DefaultSettings().Zones
	if err == nil {
		zones = settings.Zones
	}
	s.levels.Update(model.Level{
		ClientID:  log.ClientID,
		Decibels:  log.Decibels,
		Zone:      zoneOf(log.Decibels, zones),
		Timestamp: log.Timestamp,
	})
}

func (s *Server) Writer() *ingest.Writer {
	return s.writer
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	route := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.collectors.WrapHandler(path, h)).Methods(methods...)
	}
	route("/health", s.handleHealth, http.MethodGet)
	route("/status", s.handleStatus, http.MethodGet)
	route("/api/config", s.handleGetConfig, http.MethodGet)
	route("/api/config", s.handleUpdateConfig, http.MethodPost)
	route("/api/logs", s.handleCreateLog, http.MethodPost)
	route("/api/logs", s.handleListLogs, http.MethodGet)
	route("/api/export", s.handleExport, http.MethodGet)
	route("/api/trends", s.handleTrends, http.MethodGet)
	route("/api/statistics", s.handleStatistics, http.MethodGet)
	route("/api/email-alert", s.handleEmailAlert, http.MethodPost)
	route("/api/email-alert/test", s.handleTestEmail, http.MethodPost)
	route("/api/alerts", s.handleAlerts, http.MethodGet)
	route("/api/levels", s.handleLevels, http.MethodGet)
	r.Handle("/metrics", s.collectors.Handler()).Methods(http.MethodGet)

	origins := s.cfg.Get().Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	var h http.Handler = r
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(h)
	return h
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"remote", p.Request.RemoteAddr,
	)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panic", "panic", v)
}

// Start serves the API on addr until ctx is cancelled.
func Start(ctx context.Context, s *Server, addr string) *http.Server {
	s.logger.Info("api listening", "addr", addr)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status     string         `json:"status"`
	Time       string         `json:"time"`
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path"`
	Timezone   string         `json:"timezone"`
	Storage    string         `json:"storage"`
	Kafka      bool           `json:"kafka"`
	Alerts     alerts.Summary `json:"alerts"`
	Monitors   int            `json:"monitors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       s.now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Timezone:   cfg.Location().String(),
		Storage:    cfg.Storage.Driver,
		Kafka:      cfg.Kafka.Enabled,
		Alerts:     s.alerts.Summary(),
		Monitors:   len(s.levels.All()),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query alerts.Query
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	if v := q.Get("kind"); v != "" {
		query.Kind = model.AlertKind(v)
		if !query.Kind.Valid() {
			writeError(w, http.StatusBadRequest, "invalid kind parameter")
			return
		}
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		query.Since = ts
	}
	list := s.alerts.Find(query)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	levels := s.levels.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"levels": levels,
		"count":  len(levels),
	})
}

func parseSlotIDs(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.New("invalid slots parameter")
		}
		out = append(out, id)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeResult(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, model.AlertResponse{Success: success, Message: message})
}
