package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soundmeter/internal/model"
)

type Collectors struct {
	registry      *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	readings      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	level         *prometheus.GaugeVec
	alertsSent    *prometheus.CounterVec
	alertsBlocked *prometheus.CounterVec
	alertsFailed  *prometheus.CounterVec
}

// NewCollectors registers on its own registry so several servers can live
// in one process.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_http_requests_total",
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soundmeter_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_readings_total",
			Help: "Stored readings by time slot.",
		}, []string{"slot"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_readings_rejected_total",
			Help: "Rejected reading submissions by reason.",
		}, []string{"reason"}),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soundmeter_level_db",
			Help: "Latest reported sound level per monitor.",
		}, []string{"client"}),
		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_alerts_sent_total",
			Help: "Alert emails sent by kind.",
		}, []string{"kind"}),
		alertsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_alerts_cooldown_total",
			Help: "Alert requests refused because of cooldown.",
		}, []string{"kind"}),
		alertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmeter_alerts_failed_total",
			Help: "Alert emails that could not be sent.",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.readings,
		c.rejected,
		c.level,
		c.alertsSent,
		c.alertsBlocked,
		c.alertsFailed,
	)
	return c
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (c *Collectors) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		if c != nil {
			c.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			c.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collectors) Reading(log model.SoundLog) {
	if c == nil {
		return
	}
	c.readings.WithLabelValues(strconv.Itoa(log.TimeSlotID)).Inc()
	client := log.ClientID
	if client == "" {
		client = "default"
	}
	c.level.WithLabelValues(client).Set(log.Decibels)
}

func (c *Collectors) Rejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collectors) AlertSent(kind model.AlertKind) {
	if c == nil {
		return
	}
	c.alertsSent.WithLabelValues(string(kind)).Inc()
}

func (c *Collectors) AlertCooldown(kind model.AlertKind) {
	if c == nil {
		return
	}
	c.alertsBlocked.WithLabelValues(string(kind)).Inc()
}

func (c *Collectors) AlertFailed(kind model.AlertKind) {
	if c == nil {
		return
	}
	c.alertsFailed.WithLabelValues(string(kind)).Inc()
}
