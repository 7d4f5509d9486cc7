package api

import (
	"encoding/json"
	"io"
	"net/http"

	"soundmeter/internal/config"
	"soundmeter/internal/loudness"
	"soundmeter/internal/model"
)

func zoneOf(db float64, zones model.Zones) model.Zone {
	return loudness.Zone(db, zones)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings(r.Context())
	if err != nil {
		s.logger.Error("load settings", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateConfig applies a partial update. Time slots that carry only
// an id and a name rename the existing slot; otherwise the list replaces
// the configured slots.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	current, err := s.store.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var patch struct {
		TimeSlots []model.TimeSlot `json:"time_slots"`
	}
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	slots := append([]model.TimeSlot(nil), current.TimeSlots...)
	next := current
	if err := json.Unmarshal(body, &next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	next.TimeSlots = mergeSlots(slots, patch.TimeSlots)
	if err := config.ValidateSettings(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveSettings(r.Context(), next); err != nil {
		s.logger.Error("save settings", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("settings updated",
		"alerts_enabled", next.Thresholds.Enabled,
		"instant_db", next.Thresholds.InstantDb,
		"average_db", next.Thresholds.AverageDb,
		"slots", len(next.TimeSlots),
	)
	s.handleGetConfig(w, r)
}

func mergeSlots(current, patch []model.TimeSlot) []model.TimeSlot {
	if patch == nil {
		return current
	}
	for _, p := range patch {
		if p.Start != "" || p.End != "" {
			return patch
		}
	}
	for _, p := range patch {
		for i := range current {
			if current[i].ID == p.ID && p.Name != "" {
				current[i].Name = p.Name
			}
		}
	}
	return current
}
