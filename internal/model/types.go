package model

import "time"

const (
	MinDecibels = 0.0
	MaxDecibels = 120.0
)

type Reading struct {
	Value     float64   `json:"decibels"`
	Timestamp time.Time `json:"timestamp"`
}

type TimeSlot struct {
	ID    int    `json:"id" yaml:"id"`
	Start string `json:"start_time" yaml:"start_time"`
	End   string `json:"end_time" yaml:"end_time"`
	Name  string `json:"name" yaml:"name"`
}

type Thresholds struct {
	InstantDb            float64 `json:"instant_threshold_db" yaml:"instant_threshold_db"`
	AverageDb            float64 `json:"average_threshold_db" yaml:"average_threshold_db"`
	AverageWindowMinutes float64 `json:"average_time_window_minutes" yaml:"average_time_window_minutes"`
	CooldownMinutes      float64 `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Enabled              bool    `json:"enabled" yaml:"enabled"`
}

func (t Thresholds) AverageWindow() time.Duration {
	return time.Duration(t.AverageWindowMinutes * float64(time.Minute))
}

func (t Thresholds) Cooldown() time.Duration {
	return time.Duration(t.CooldownMinutes * float64(time.Minute))
}

// Zones are the traffic-light boundaries used for display and statistics.
type Zones struct {
	OrangeDb float64 `json:"orange_threshold" yaml:"orange_threshold"`
	RedDb    float64 `json:"red_threshold" yaml:"red_threshold"`
}

type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

type EmailSettings struct {
	Recipient string `json:"recipient" yaml:"recipient"`
	SMTPHost  string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int    `json:"smtp_port" yaml:"smtp_port"`
}

// Settings is the record served by the configuration service. Monitors
// re-read it on every tick.
type Settings struct {
	TimeSlots           []TimeSlot    `json:"time_slots" yaml:"time_slots"`
	Thresholds          Thresholds    `json:"email_alerts" yaml:"email_alerts"`
	Zones               Zones         `json:"thresholds" yaml:"thresholds"`
	CalibrationOffsetDb float64       `json:"calibration_offset" yaml:"calibration_offset"`
	TickIntervalMs      int           `json:"visual_update_rate" yaml:"visual_update_rate"`
	Email               EmailSettings `json:"email" yaml:"email"`
}

func (s Settings) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

type AlertKind string

const (
	AlertInstant AlertKind = "instant"
	AlertAverage AlertKind = "average"
)

func (k AlertKind) Valid() bool {
	return k == AlertInstant || k == AlertAverage
}

// AlertRequest is the wire record sent to the alert transport.
type AlertRequest struct {
	AlertType  AlertKind `json:"alert_type"`
	CurrentDb  float64   `json:"current_db"`
	AverageDb  *float64  `json:"average_db,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	TimeSlotID int       `json:"time_slot_id"`
}

// AlertResponse is the body returned by the alert endpoint for every status.
type AlertResponse struct {
	Success          bool       `json:"success"`
	Message          string     `json:"message"`
	NextAvailableAt  *time.Time `json:"next_alert_available_at,omitempty"`
	SecondsRemaining int        `json:"seconds_remaining,omitempty"`
}

type DispatchStatus string

const (
	DispatchSent             DispatchStatus = "sent"
	DispatchDisabled         DispatchStatus = "disabled"
	DispatchInCooldown       DispatchStatus = "in_cooldown"
	DispatchTransportFailure DispatchStatus = "transport_failure"
)

type DispatchOutcome struct {
	Status           DispatchStatus
	NextEligibleAt   time.Time
	SecondsRemaining int
	Detail           string
}

// LogRecord is the persistence sink payload.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Decibels  float64   `json:"decibels"`
	ClientID  string    `json:"client_id,omitempty"`
}

// SoundLog is a stored reading.
type SoundLog struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Decibels   float64   `json:"decibels"`
	TimeSlotID int       `json:"time_slot_id"`
	SlotName   string    `json:"slot_name,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
}

// Alert is a dispatched alert kept in history.
type Alert struct {
	Timestamp  time.Time `json:"timestamp"`
	AlertType  AlertKind `json:"alert_type"`
	CurrentDb  float64   `json:"current_db"`
	AverageDb  *float64  `json:"average_db,omitempty"`
	TimeSlotID int       `json:"time_slot_id"`
	SlotName   string    `json:"slot_name"`
	Recipient  string    `json:"recipient,omitempty"`
}

type Level struct {
	ClientID  string    `json:"client_id"`
	Decibels  float64   `json:"decibels"`
	Zone      Zone      `json:"zone"`
	Timestamp time.Time `json:"timestamp"`
}
