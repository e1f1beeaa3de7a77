// Package database opens the SQLite store and applies schema migrations.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the booking engine.
type DB struct {
	*sql.DB
}

// New opens the database at path and runs migrations.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Serialized writers; the admission path relies on transactional
	// conditional inserts.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Venues
		`CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT,
			capacity INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Weekly template, one row per venue/weekday. Slots are stored as
		// a JSON array; the engine only ever reads the calendar whole.
		`CREATE TABLE IF NOT EXISTS venue_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			venue_id TEXT NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_open BOOLEAN NOT NULL DEFAULT 0,
			open_time TEXT,
			close_time TEXT,
			slots TEXT,
			UNIQUE(venue_id, day_of_week),
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,

		// Date exceptions, at most one per venue/date.
		`CREATE TABLE IF NOT EXISTS venue_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			venue_id TEXT NOT NULL,
			date TEXT NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT 0,
			reason TEXT,
			slots TEXT,
			UNIQUE(venue_id, date),
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,

		// Bookings. Dates and times are zero-padded strings so SQL string
		// comparison matches the engine's lexical comparison.
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			duration INTEGER NOT NULL DEFAULT 0,
			total_players INTEGER NOT NULL DEFAULT 0,
			booking_type TEXT NOT NULL DEFAULT 'full_venue',
			court_number TEXT,
			notes TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_id TEXT,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			base_amount INTEGER NOT NULL DEFAULT 0,
			taxes INTEGER NOT NULL DEFAULT 0,
			fees INTEGER NOT NULL DEFAULT 0,
			discounts INTEGER NOT NULL DEFAULT 0,
			total_amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'INR',
			booking_code TEXT NOT NULL,
			is_recurring BOOLEAN NOT NULL DEFAULT 0,
			parent_booking_id TEXT,
			cancellation_reason TEXT,
			cancellation_time DATETIME,
			check_in_time DATETIME,
			check_out_time DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,

		// Refunds
		`CREATE TABLE IF NOT EXISTS booking_refunds (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (booking_id) REFERENCES bookings(id)
		)`,

		// Audit trail, populated from lifecycle events. Unlike bookings,
		// audit entries are pruned after the retention window.
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id TEXT NOT NULL,
			venue_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_bookings_venue_date ON bookings(venue_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_parent ON bookings(parent_booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_code ON bookings(booking_code)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_venue_date ON venue_exceptions(venue_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
