package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"soundmeter/internal/ingest"
	"soundmeter/internal/model"
	"soundmeter/internal/normalize"
)

func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, "unreadable body")
		return
	}
	fields, err := ingest.ParseJSONBytes(body)
	if err != nil {
		s.collectors.Rejected("invalid_json")
		writeResult(w, http.StatusBadRequest, false, "invalid json")
		return
	}
	log, err := s.writer.Write(r.Context(), fields)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Log saved", "id": log.ID, "time_slot_id": log.TimeSlotID})
	case errors.Is(err, ingest.ErrDuplicate):
		writeResult(w, http.StatusOK, true, "Duplicate reading ignored")
	case errors.Is(err, ingest.ErrRejected):
		s.collectors.Rejected(rejectReason(err))
		writeResult(w, http.StatusBadRequest, false, err.Error())
	default:
		s.logger.Error("save log", "err", err)
		writeResult(w, http.StatusInternalServerError, false, err.Error())
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, normalize.ErrMissingField):
		return "missing_field"
	case errors.Is(err, normalize.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, normalize.ErrOutsideSlots):
		return "outside_slots"
	default:
		return "invalid"
	}
}

func (s *Server) logsQuery(w http.ResponseWriter, r *http.Request) (string, []model.SoundLog, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date parameter required")
		return "", nil, false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", nil, false
	}
	slots, err := parseSlotIDs(r.URL.Query().Get("slots"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	logs, err := s.store.LogsForDay(r.Context(), date, slots)
	if err != nil {
		s.logger.Error("query logs", "err", err, "date", date)
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", nil, false
	}
	return date, logs, true
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	_, logs, ok := s.logsQuery(w, r)
	if !ok {
		return
	}
	if logs == nil {
		logs = []model.SoundLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	date, logs, ok := s.logsQuery(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=soundmeter_%s.csv", date))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "decibels", "time_slot_name"})
	for _, l := range logs {
		_ = cw.Write([]string{
			l.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(l.Decibels, 'f', -1, 64),
			l.SlotName,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Warn("csv export", "err", err)
	}
}
