package api

import (
	"net/http"
	"strconv"
	"time"

	"soundmeter/internal/normalize"
	"soundmeter/internal/stats"
)

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("granularity") == "" {
		writeError(w, http.StatusBadRequest, "granularity parameter is required")
		return
	}
	g, err := stats.ParseGranularity(q.Get("granularity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var bounds [2]time.Time
	for i, name := range []string{"start_date", "end_date"} {
		v := q.Get(name)
		if v == "" {
			writeError(w, http.StatusBadRequest, name+" parameter is required")
			return
		}
		bounds[i], err = time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
			return
		}
	}
	slots, err := parseSlotIDs(q.Get("slots"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := s.store.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	trends, err := stats.BuildTrends(r.Context(), s.store, g, bounds[0], bounds[1], slots, settings.Zones)
	if err != nil {
		s.logger.Error("build trends", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slotID, err := strconv.Atoi(q.Get("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot parameter required")
		return
	}
	loc := s.cfg.Get().Location()
	at := s.now().In(loc)
	if v := q.Get("at"); v != "" {
		at, err = normalize.ParseTimestamp(v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	settings, err := s.store.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := stats.ForSlot(r.Context(), s.store, slotID, at, settings.Zones)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "no readings for this period")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
