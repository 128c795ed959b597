package telemetry

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS gc_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	instance     TEXT    NOT NULL,
	cycle        INTEGER NOT NULL,
	at_unix_ns   INTEGER NOT NULL,
	bytes_before INTEGER NOT NULL,
	bytes_after  INTEGER NOT NULL,
	freed        INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS gc_events_instance ON gc_events(instance);
`

// SQLiteSink persists collection events to a SQLite database file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (creating if needed) the database at path and
// ensures the event schema exists.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening profile db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing profile db %s: %w", path, err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write persists one event.
func (s *SQLiteSink) Write(ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO gc_events (instance, cycle, at_unix_ns, bytes_before, bytes_after, freed, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Instance, ev.Cycle, ev.At.UnixNano(), ev.BytesBefore, ev.BytesAfter, ev.Freed, ev.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("writing gc event: %w", err)
	}
	return nil
}

// WriteAll persists a batch of events in one transaction.
func (s *SQLiteSink) WriteAll(events []Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning profile tx: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO gc_events (instance, cycle, at_unix_ns, bytes_before, bytes_after, freed, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing gc insert: %w", err)
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.Exec(ev.Instance, ev.Cycle, ev.At.UnixNano(),
			ev.BytesBefore, ev.BytesAfter, ev.Freed, ev.Duration.Nanoseconds()); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing gc event: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of events stored for one instance.
func (s *SQLiteSink) Count(instance string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM gc_events WHERE instance = ?`, instance).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting gc events: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
