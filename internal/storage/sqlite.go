package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS time_slots (
			id INTEGER PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sound_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			day TEXT NOT NULL,
			decibels REAL NOT NULL,
			time_slot_id INTEGER NOT NULL,
			client_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sound_logs_day_slot ON sound_logs(day, time_slot_id)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			current_db REAL NOT NULL,
			average_db REAL,
			time_slot_id INTEGER NOT NULL,
			slot_name TEXT NOT NULL,
			recipient TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
}

func NewSQLite(dsn string, loc *time.Location) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:soundmeter.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single writer connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, d: sqliteDialect, loc: loc}, nil
}
