// Package storage persists cauldron readings and transport tickets in a
// local sqlite database, along with per-endpoint fetch state used for
// time-to-live caching of upstream API calls.
//
// Detected drain intervals are deliberately not stored: they are a pure
// function of the readings and the detection parameters, and are recomputed
// on every query.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/witchbrew/cauldronwatch/internal/models"
)

// Storage provides access to the sqlite database
type Storage struct {
	db                     *sql.DB
	maxReadingsPerCauldron int
}

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	cauldron_id TEXT    NOT NULL,
	ts          INTEGER NOT NULL,
	level       REAL    NOT NULL,
	PRIMARY KEY (cauldron_id, ts)
);
CREATE TABLE IF NOT EXISTS tickets (
	ticket_id  TEXT PRIMARY KEY,
	cauldron_id TEXT    NOT NULL,
	courier_id  TEXT    NOT NULL DEFAULT '',
	date        INTEGER NOT NULL,
	amount      REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_cauldron_date ON tickets (cauldron_id, date);
CREATE TABLE IF NOT EXISTS fetch_state (
	endpoint   TEXT PRIMARY KEY,
	fetched_at INTEGER NOT NULL
);
`

// New opens (creating if necessary) the database at dbPath. Use ":memory:"
// for an ephemeral database in tests. maxReadingsPerCauldron bounds retained
// history per cauldron; see RotateReadings.
func New(dbPath string, maxReadingsPerCauldron int) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and sidesteps
	// sqlite writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{
		db:                     db,
		maxReadingsPerCauldron: maxReadingsPerCauldron,
	}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// UpsertReadings inserts readings, replacing on (cauldron_id, ts) conflicts.
// Invalid readings fail the whole batch before any write happens.
func (s *Storage) UpsertReadings(readings []models.Reading) error {
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return fmt.Errorf("invalid reading: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO readings (cauldron_id, ts, level) VALUES (?, ?, ?)
		ON CONFLICT (cauldron_id, ts) DO UPDATE SET level = excluded.level`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range readings {
		r := &readings[i]
		if _, err := stmt.Exec(r.CauldronID, r.Timestamp.UnixNano(), r.Level); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	return tx.Commit()
}

// ReadingsInRange returns one cauldron's readings with from <= ts <= to,
// sorted ascending by timestamp.
func (s *Storage) ReadingsInRange(cauldronID string, from, to time.Time) ([]models.Reading, error) {
	rows, err := s.db.Query(
		`SELECT ts, level FROM readings WHERE cauldron_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		cauldronID, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var ts int64
		var level float64
		if err := rows.Scan(&ts, &level); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, models.Reading{
			CauldronID: cauldronID,
			Timestamp:  time.Unix(0, ts).UTC(),
			Level:      level,
		})
	}
	return readings, rows.Err()
}

// Cauldrons returns the distinct cauldron IDs with stored readings, sorted.
func (s *Storage) Cauldrons() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT cauldron_id FROM readings ORDER BY cauldron_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cauldrons: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cauldron id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertTickets inserts tickets, replacing on ticket_id conflicts.
func (s *Storage) UpsertTickets(tickets []models.TransportTicket) error {
	for i := range tickets {
		if err := tickets[i].Validate(); err != nil {
			return fmt.Errorf("invalid ticket: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO tickets (ticket_id, cauldron_id, courier_id, date, amount) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id) DO UPDATE SET cauldron_id = excluded.cauldron_id,
			courier_id = excluded.courier_id, date = excluded.date, amount = excluded.amount`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range tickets {
		t := &tickets[i]
		if _, err := stmt.Exec(t.TicketID, t.CauldronID, t.CourierID, t.Date.UnixNano(), t.AmountCollected); err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
	}

	return tx.Commit()
}

// TicketsInRange returns one cauldron's tickets with from <= date <= to,
// sorted ascending by date.
func (s *Storage) TicketsInRange(cauldronID string, from, to time.Time) ([]models.TransportTicket, error) {
	rows, err := s.db.Query(
		`SELECT ticket_id, courier_id, date, amount FROM tickets
		 WHERE cauldron_id = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		cauldronID, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.TransportTicket
	for rows.Next() {
		var t models.TransportTicket
		var date int64
		if err := rows.Scan(&t.TicketID, &t.CourierID, &date, &t.AmountCollected); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		t.CauldronID = cauldronID
		t.Date = time.Unix(0, date).UTC()
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// LastFetched returns when endpoint was last successfully fetched, or the
// zero time when it never was.
func (s *Storage) LastFetched(endpoint string) (time.Time, error) {
	var fetchedAt int64
	err := s.db.QueryRow(`SELECT fetched_at FROM fetch_state WHERE endpoint = ?`, endpoint).Scan(&fetchedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query fetch state: %w", err)
	}
	return time.Unix(0, fetchedAt).UTC(), nil
}

// MarkFetched records a successful fetch of endpoint at t.
func (s *Storage) MarkFetched(endpoint string, t time.Time) error {
	_, err := s.db.Exec(`INSERT INTO fetch_state (endpoint, fetched_at) VALUES (?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET fetched_at = excluded.fetched_at`, endpoint, t.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to mark fetched: %w", err)
	}
	return nil
}

// RotateReadings deletes each cauldron's oldest readings beyond the retained
// maximum.
func (s *Storage) RotateReadings() error {
	_, err := s.db.Exec(`DELETE FROM readings WHERE (cauldron_id, ts) IN (
		SELECT cauldron_id, ts FROM (
			SELECT cauldron_id, ts,
				ROW_NUMBER() OVER (PARTITION BY cauldron_id ORDER BY ts DESC) AS rn
			FROM readings
		) WHERE rn > ?
	)`, s.maxReadingsPerCauldron)
	if err != nil {
		return fmt.Errorf("failed to rotate readings: %w", err)
	}
	return nil
}
