package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"soundmeter/internal/mailer"
	"soundmeter/internal/model"
	"soundmeter/internal/normalize"
	"soundmeter/internal/stats"
	"soundmeter/internal/storage"
	"soundmeter/internal/timeslot"
)

type alertBody struct {
	AlertType  *model.AlertKind `json:"alert_type"`
	CurrentDb  *float64         `json:"current_db"`
	AverageDb  *float64         `json:"average_db"`
	Timestamp  *string          `json:"timestamp"`
	TimeSlotID *int             `json:"time_slot_id"`
}

func (b alertBody) missing() string {
	switch {
	case b.AlertType == nil:
		return "alert_type"
	case b.CurrentDb == nil:
		return "current_db"
	case b.Timestamp == nil:
		return "timestamp"
	case b.TimeSlotID == nil:
		return "time_slot_id"
	}
	return ""
}

// handleEmailAlert sends at most one alert email per kind per cooldown
// period, no matter how many monitors ask.
func (s *Server) handleEmailAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	var req alertBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if field := req.missing(); field != "" {
		writeError(w, http.StatusBadRequest, "missing required field: "+field)
		return
	}
	kind := *req.AlertType
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown alert_type %q", kind))
		return
	}
	loc := s.cfg.Get().Location()
	ts, err := normalize.ParseTimestamp(*req.Timestamp, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts = ts.In(loc)

	ctx := r.Context()
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}
	if !settings.Thresholds.Enabled {
		writeResult(w, http.StatusOK, false, "Email alerts are disabled")
		return
	}

	now := s.now()
	cooldown := settings.Thresholds.Cooldown()
	claim, err := s.store.ClaimAlert(ctx, kind, now, cooldown)
	var cerr *storage.CooldownError
	if errors.As(err, &cerr) {
		s.collectors.AlertCooldown(kind)
		next := cerr.NextAvailable.In(loc)
		writeJSON(w, http.StatusTooManyRequests, model.AlertResponse{
			Success:          false,
			Message:          "Alert in cooldown period",
			NextAvailableAt:  &next,
			SecondsRemaining: int(math.Ceil(cerr.Remaining.Seconds())),
		})
		return
	}
	if err != nil {
		s.logger.Error("claim alert", "err", err, "kind", kind)
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}

	slotName := fmt.Sprintf("Time Slot %d", *req.TimeSlotID)
	if slot, ok := timeslot.Find(settings.TimeSlots, *req.TimeSlotID); ok {
		slotName = slot.Name
	}
	period, err := stats.ForSlot(ctx, s.store, *req.TimeSlotID, ts, settings.Zones)
	if err != nil {
		s.logger.Warn("period statistics", "err", err, "slot", *req.TimeSlotID)
	}
	alert := mailer.Alert{
		Kind:                 kind,
		CurrentDb:            *req.CurrentDb,
		AverageDb:            req.AverageDb,
		Timestamp:            ts,
		SlotID:               *req.TimeSlotID,
		SlotName:             slotName,
		InstantThresholdDb:   settings.Thresholds.InstantDb,
		AverageThresholdDb:   settings.Thresholds.AverageDb,
		AverageWindowMinutes: settings.Thresholds.AverageWindowMinutes,
		Stats:                period,
	}
	if err := s.sendMail(r, settings.Email, alert); err != nil {
		if rerr := s.store.ReleaseAlert(ctx, claim); rerr != nil {
			s.logger.Error("release alert claim", "err", rerr, "kind", kind)
		}
		s.collectors.AlertFailed(kind)
		s.logger.Error("alert email failed", "err", err, "kind", kind)
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}

	record := model.Alert{
		Timestamp:  ts,
		AlertType:  kind,
		CurrentDb:  *req.CurrentDb,
		AverageDb:  req.AverageDb,
		TimeSlotID: *req.TimeSlotID,
		SlotName:   slotName,
		Recipient:  settings.Email.Recipient,
	}
	s.alerts.Add(record)
	if err := s.store.SaveAlert(ctx, record); err != nil {
		s.logger.Warn("save alert history", "err", err)
	}
	s.collectors.AlertSent(kind)
	s.logger.Info("alert email sent", "kind", kind, "db", *req.CurrentDb, "slot", slotName, "recipient", settings.Email.Recipient)

	next := now.Add(cooldown).In(loc)
	writeJSON(w, http.StatusOK, model.AlertResponse{
		Success:         true,
		Message:         "Alert email sent successfully",
		NextAvailableAt: &next,
	})
}

func (s *Server) sendMail(r *http.Request, email model.EmailSettings, alert mailer.Alert) error {
	msg, err := mailer.Render(s.cfg.Get().Mail.From, email.Recipient, alert)
	if err != nil {
		return err
	}
	return s.sender.Send(r.Context(), email.SMTPHost, email.SMTPPort, msg)
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings(r.Context())
	if err != nil {
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}
	now := s.now().In(s.cfg.Get().Location())
	alert := mailer.Alert{
		Kind:                 model.AlertInstant,
		CurrentDb:            87.5,
		Timestamp:            now,
		SlotID:               1,
		SlotName:             "Test Period",
		InstantThresholdDb:   settings.Thresholds.InstantDb,
		AverageThresholdDb:   settings.Thresholds.AverageDb,
		AverageWindowMinutes: settings.Thresholds.AverageWindowMinutes,
		Stats: &stats.PeriodStatistics{
			PeakDb:        89.2,
			PeakTimestamp: now.Add(-7 * time.Minute).Format("15:04:05"),
			AverageDb:     72.3,
			GreenPercent:  45,
			YellowPercent: 38,
			RedPercent:    17,
			RecentReadings: []stats.RecentReading{
				{Timestamp: now.Format("15:04:05"), Decibels: 87.5, Zone: model.ZoneRed},
			},
		},
	}
	if err := s.sendMail(r, settings.Email, alert); err != nil {
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, "Test email sent to "+settings.Email.Recipient)
}
