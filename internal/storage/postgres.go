package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS time_slots (
			id INTEGER PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sound_logs (
			id BIGSERIAL PRIMARY KEY,
			ts TEXT NOT NULL,
			day TEXT NOT NULL,
			decibels DOUBLE PRECISION NOT NULL,
			time_slot_id INTEGER NOT NULL,
			client_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sound_logs_day_slot ON sound_logs(day, time_slot_id)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			current_db DOUBLE PRECISION NOT NULL,
			average_db DOUBLE PRECISION,
			time_slot_id INTEGER NOT NULL,
			slot_name TEXT NOT NULL,
			recipient TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
}

func NewPostgres(dsn string, loc *time.Location) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/soundmeter?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect, loc: loc}, nil
}
