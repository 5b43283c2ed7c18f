package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the audit chain in a single sqlite table, ordered
// by entry index.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a sqlite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_entries (
        idx INTEGER PRIMARY KEY,
        signal_type TEXT NOT NULL,
        route TEXT NOT NULL,
        handler TEXT NOT NULL,
        outcome TEXT NOT NULL,
        signal_id TEXT NOT NULL DEFAULT '',
        signal_domain TEXT NOT NULL DEFAULT '',
        timestamp INTEGER NOT NULL,
        previous_hash TEXT NOT NULL,
        hash TEXT NOT NULL,
        extra TEXT
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts one entry. The index is the primary key, so replays of
// the same index fail rather than overwrite.
func (s *SQLiteStore) Append(entry Entry) error {
	query := `INSERT INTO audit_entries (
        idx, signal_type, route, handler, outcome, signal_id, signal_domain,
        timestamp, previous_hash, hash, extra
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(context.Background(), query,
		entry.Index, entry.SignalType, entry.Route, entry.Handler, entry.Outcome,
		entry.SignalID, entry.SignalDomain, entry.Timestamp, entry.PrevHash,
		entry.Hash, nullable(entry.Extra),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry %d: %w", entry.Index, err)
	}
	return nil
}

// LoadAll returns every persisted entry in chain order.
func (s *SQLiteStore) LoadAll() ([]Entry, error) {
	query := `
        SELECT idx, signal_type, route, handler, outcome, signal_id,
               signal_domain, timestamp, previous_hash, hash, extra
        FROM audit_entries
        ORDER BY idx ASC`
	rows, err := s.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			extra sql.NullString
		)
		if err := rows.Scan(&e.Index, &e.SignalType, &e.Route, &e.Handler,
			&e.Outcome, &e.SignalID, &e.SignalDomain, &e.Timestamp,
			&e.PrevHash, &e.Hash, &extra); err != nil {
			return nil, err
		}
		e.Extra = extra.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// TruncateFrom deletes every entry at or above index.
func (s *SQLiteStore) TruncateFrom(index int) error {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM audit_entries WHERE idx >= ?`, index)
	if err != nil {
		return fmt.Errorf("failed to truncate audit entries: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
