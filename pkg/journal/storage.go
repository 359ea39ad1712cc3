// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Entry is one journaled enforcement decision.
type Entry struct {
	ID         int64
	Direction  string
	CPU        int
	Offset     int64 // nanoseconds, negative when the slot had passed
	Action     string
	Length     uint32
	RecordedAt time.Time
}

// Storage defines the interface for decision persistence
type Storage interface {
	// SaveEntries appends entries in a single transaction
	SaveEntries(entries []Entry) error

	// LoadRecent returns up to limit entries, newest first
	LoadRecent(limit int) ([]Entry, error)

	// Count returns the number of stored entries
	Count() (int, error)

	// Close closes the storage connection
	Close() error
}

// SQLiteStorage implements Storage using SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Infof("Decision journal initialized: %s", dbPath)
	return storage, nil
}

// initSchema creates the decisions table if it doesn't exist
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		direction TEXT NOT NULL,
		cpu INTEGER NOT NULL,
		offset_ns INTEGER NOT NULL,
		action TEXT NOT NULL,
		length INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_direction ON decisions(direction);
	CREATE INDEX IF NOT EXISTS idx_action ON decisions(action);
	CREATE INDEX IF NOT EXISTS idx_recorded_at ON decisions(recorded_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveEntries inserts entries in one transaction
func (s *SQLiteStorage) SaveEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
	INSERT INTO decisions (direction, cpu, offset_ns, action, length, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Direction, e.CPU, e.Offset, e.Action, e.Length, e.RecordedAt.UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save decision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decisions: %w", err)
	}

	log.Debugf("Saved %d decisions to journal", len(entries))
	return nil
}

// LoadRecent loads the newest entries
func (s *SQLiteStorage) LoadRecent(limit int) ([]Entry, error) {
	query := `
	SELECT id, direction, cpu, offset_ns, action, length, recorded_at
	FROM decisions
	ORDER BY id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID,
			&e.Direction,
			&e.CPU,
			&e.Offset,
			&e.Action,
			&e.Length,
			&e.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return entries, nil
}

// Count returns the total number of decisions in storage
func (s *SQLiteStorage) Count() (int, error) {
	query := `SELECT COUNT(*) FROM decisions`

	var count int
	err := s.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get decision count: %w", err)
	}

	return count, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ClearAll removes all decisions from storage (useful for testing)
func (s *SQLiteStorage) ClearAll() error {
	query := `DELETE FROM decisions`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to clear decisions: %w", err)
	}

	log.Info("All decisions cleared from journal")
	return nil
}

var _ Storage = (*SQLiteStorage)(nil)
