// Package storage persists readings, settings and alert history.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"soundmeter/internal/config"
	"soundmeter/internal/model"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
	ErrCooldown          = errors.New("alert in cooldown")
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	SaveLog(ctx context.Context, log model.SoundLog) (int64, error)
	LogsForDay(ctx context.Context, day string, slotIDs []int) ([]model.SoundLog, error)
	SlotReadings(ctx context.Context, slotID int, until time.Time) ([]model.SoundLog, error)
	Aggregate(ctx context.Context, from, to string, slotIDs []int, zones model.Zones) ([]AggregateRow, error)
	ClaimAlert(ctx context.Context, kind model.AlertKind, now time.Time, cooldown time.Duration) (Claim, error)
	ReleaseAlert(ctx context.Context, claim Claim) error
	SaveAlert(ctx context.Context, alert model.Alert) error
}

// AggregateRow summarises the readings of one slot over a date range.
type AggregateRow struct {
	SlotID   int
	SlotName string
	AvgDb    float64
	PeakDb   float64
	Total    int64
	Green    int64
	Yellow   int64
	Red      int64
}

// Claim is a reserved alert send. Release it if the send fails.
type Claim struct {
	Kind     model.AlertKind
	At       time.Time
	previous string
	value    string
}

// CooldownError reports when the next alert of a kind may be sent.
type CooldownError struct {
	Kind          model.AlertKind
	NextAvailable time.Time
	Remaining     time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s alert in cooldown for %s", e.Kind, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

func NewStore(cfg config.StorageConfig, loc *time.Location) (Store, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN, loc)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, loc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

const (
	tsLayout  = "2006-01-02T15:04:05.000000Z"
	dayLayout = "2006-01-02"

	keyZones       = "thresholds"
	keyThresholds  = "email_alerts"
	keyEmail       = "email"
	keyCalibration = "calibration_offset"
	keyTickRate    = "visual_update_rate"
)

func lastSentKey(kind model.AlertKind) string {
	return "last_" + string(kind) + "_alert_sent"
}

type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
}

type sqlStore struct {
	db  *sql.DB
	d   dialect
	loc *time.Location
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return s.seed(ctx)
}

func (s *sqlStore) seed(ctx context.Context) error {
	defaults := config.DefaultSettings()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM time_slots`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		for _, slot := range defaults.TimeSlots {
			if _, err := s.db.ExecContext(ctx,
				s.q(`INSERT INTO time_slots (id, start_time, end_time, name) VALUES (?, ?, ?, ?)`),
				slot.ID, slot.Start, slot.End, slot.Name); err != nil {
				return err
			}
		}
	}
	kv, err := settingsRows(defaults)
	if err != nil {
		return err
	}
	kv[lastSentKey(model.AlertInstant)] = ""
	kv[lastSentKey(model.AlertAverage)] = ""
	for key, value := range kv {
		if _, err := s.db.ExecContext(ctx,
			s.q(`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`),
			key, value); err != nil {
			return err
		}
	}
	return nil
}

func settingsRows(st model.Settings) (map[string]string, error) {
	rows := map[string]string{
		keyCalibration: strconv.FormatFloat(st.CalibrationOffsetDb, 'f', -1, 64),
		keyTickRate:    strconv.Itoa(st.TickIntervalMs),
	}
	for key, value := range map[string]any{
		keyZones:      st.Zones,
		keyThresholds: st.Thresholds,
		keyEmail:      st.Email,
	} {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		rows[key] = string(data)
	}
	return rows, nil
}

func (s *sqlStore) LoadSettings(ctx context.Context) (model.Settings, error) {
	st := config.DefaultSettings()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return st, err
		}
		switch key {
		case keyZones:
			err = json.Unmarshal([]byte(value), &st.Zones)
		case keyThresholds:
			err = json.Unmarshal([]byte(value), &st.Thresholds)
		case keyEmail:
			err = json.Unmarshal([]byte(value), &st.Email)
		case keyCalibration:
			st.CalibrationOffsetDb, err = strconv.ParseFloat(value, 64)
		case keyTickRate:
			st.TickIntervalMs, err = strconv.Atoi(value)
		}
		if err != nil {
			return st, fmt.Errorf("config %s: %w", key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	slots, err := s.timeSlots(ctx)
	if err != nil {
		return st, err
	}
	st.TimeSlots = slots
	return st, nil
}

func (s *sqlStore) timeSlots(ctx context.Context) ([]model.TimeSlot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, start_time, end_time, name FROM time_slots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TimeSlot
	for rows.Next() {
		var slot model.TimeSlot
		if err := rows.Scan(&slot.ID, &slot.Start, &slot.End, &slot.Name); err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// SaveSettings replaces the stored settings. Callers validate first.
func (s *sqlStore) SaveSettings(ctx context.Context, st model.Settings) error {
	kv, err := settingsRows(st)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for key, value := range kv {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
			key, value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if st.TimeSlots != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_slots`); err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, slot := range st.TimeSlots {
			if _, err := tx.ExecContext(ctx,
				s.q(`INSERT INTO time_slots (id, start_time, end_time, name) VALUES (?, ?, ?, ?)`),
				slot.ID, slot.Start, slot.End, slot.Name); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqlStore) SaveLog(ctx context.Context, log model.SoundLog) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO sound_logs (ts, day, decibels, time_slot_id, client_id) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		log.Timestamp.UTC().Format(tsLayout),
		log.Timestamp.In(s.loc).Format(dayLayout),
		log.Decibels,
		log.TimeSlotID,
		log.ClientID,
	).Scan(&id)
	return id, err
}

func (s *sqlStore) LogsForDay(ctx context.Context, day string, slotIDs []int) ([]model.SoundLog, error) {
	query := `SELECT sl.id, sl.ts, sl.decibels, sl.time_slot_id, ts.name, sl.client_id
		FROM sound_logs sl
		JOIN time_slots ts ON sl.time_slot_id = ts.id
		WHERE sl.day = ?`
	args := []any{day}
	query, args = inInts(query, " AND sl.time_slot_id", slotIDs, args)
	query += ` ORDER BY sl.ts`
	return s.queryLogs(ctx, query, args...)
}

// SlotReadings returns the readings of slotID on the local day of until,
// up to and including until, oldest first.
func (s *sqlStore) SlotReadings(ctx context.Context, slotID int, until time.Time) ([]model.SoundLog, error) {
	return s.queryLogs(ctx,
		`SELECT sl.id, sl.ts, sl.decibels, sl.time_slot_id, ts.name, sl.client_id
		FROM sound_logs sl
		JOIN time_slots ts ON sl.time_slot_id = ts.id
		WHERE sl.time_slot_id = ? AND sl.day = ? AND sl.ts <= ?
		ORDER BY sl.ts`,
		slotID,
		until.In(s.loc).Format(dayLayout),
		until.UTC().Format(tsLayout),
	)
}

func (s *sqlStore) queryLogs(ctx context.Context, query string, args ...any) ([]model.SoundLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SoundLog
	for rows.Next() {
		var (
			log model.SoundLog
			ts  string
		)
		if err := rows.Scan(&log.ID, &ts, &log.Decibels, &log.TimeSlotID, &log.SlotName, &log.ClientID); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("sound log %d: %w", log.ID, err)
		}
		log.Timestamp = parsed.In(s.loc)
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *sqlStore) Aggregate(ctx context.Context, from, to string, slotIDs []int, zones model.Zones) ([]AggregateRow, error) {
	query := `SELECT sl.time_slot_id, ts.name,
			AVG(sl.decibels), MAX(sl.decibels), COUNT(*),
			SUM(CASE WHEN sl.decibels < ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN sl.decibels >= ? AND sl.decibels < ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN sl.decibels >= ? THEN 1 ELSE 0 END)
		FROM sound_logs sl
		JOIN time_slots ts ON sl.time_slot_id = ts.id
		WHERE sl.day >= ? AND sl.day <= ?`
	args := []any{zones.OrangeDb, zones.OrangeDb, zones.RedDb, zones.RedDb, from, to}
	query, args = inInts(query, " AND sl.time_slot_id", slotIDs, args)
	query += ` GROUP BY sl.time_slot_id, ts.name ORDER BY sl.time_slot_id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		if err := rows.Scan(&r.SlotID, &r.SlotName, &r.AvgDb, &r.PeakDb, &r.Total, &r.Green, &r.Yellow, &r.Red); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func inInts(query, column string, ids []int, args []any) (string, []any) {
	if len(ids) == 0 {
		return query, args
	}
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	return query + column + " IN (" + strings.Join(marks, ", ") + ")", args
}

// ClaimAlert reserves the right to send one alert of kind at now. At most
// one caller wins per cooldown period, across processes sharing the
// database. A losing caller gets a *CooldownError.
func (s *sqlStore) ClaimAlert(ctx context.Context, kind model.AlertKind, now time.Time, cooldown time.Duration) (Claim, error) {
	key := lastSentKey(kind)
	value := now.UTC().Format(tsLayout)
	for attempt := 0; attempt < 3; attempt++ {
		var prev string
		err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM config WHERE key = ?`), key).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := s.db.ExecContext(ctx,
				s.q(`INSERT INTO config (key, value) VALUES (?, '') ON CONFLICT (key) DO NOTHING`), key); err != nil {
				return Claim{}, err
			}
			continue
		}
		if err != nil {
			return Claim{}, err
		}
		if cerr := cooldownFor(kind, prev, now, cooldown); cerr != nil {
			return Claim{}, cerr
		}
		res, err := s.db.ExecContext(ctx,
			s.q(`UPDATE config SET value = ? WHERE key = ? AND value = ?`), value, key, prev)
		if err != nil {
			return Claim{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Claim{}, err
		}
		if n == 1 {
			return Claim{Kind: kind, At: now, previous: prev, value: value}, nil
		}
	}
	return Claim{}, &CooldownError{Kind: kind, NextAvailable: now.Add(cooldown), Remaining: cooldown}
}

func cooldownFor(kind model.AlertKind, prev string, now time.Time, cooldown time.Duration) error {
	if prev == "" {
		return nil
	}
	last, err := time.Parse(tsLayout, prev)
	if err != nil {
		return nil
	}
	next := last.Add(cooldown)
	if now.Before(next) {
		return &CooldownError{Kind: kind, NextAvailable: next, Remaining: next.Sub(now)}
	}
	return nil
}

// ReleaseAlert undoes a claim whose send failed, unless a later claim has
// already replaced it.
func (s *sqlStore) ReleaseAlert(ctx context.Context, claim Claim) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE config SET value = ? WHERE key = ? AND value = ?`),
		claim.previous, lastSentKey(claim.Kind), claim.value)
	return err
}

func (s *sqlStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	var avg sql.NullFloat64
	if alert.AverageDb != nil {
		avg = sql.NullFloat64{Float64: *alert.AverageDb, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO alerts (ts, alert_type, current_db, average_db, time_slot_id, slot_name, recipient)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		alert.Timestamp.UTC().Format(tsLayout),
		string(alert.AlertType),
		alert.CurrentDb,
		avg,
		alert.TimeSlotID,
		alert.SlotName,
		alert.Recipient,
	)
	return err
}
