package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store represents the local SQLite store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetPreference returns the value stored under key. ok is false when the
// key was never set.
func (s *Store) GetPreference(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference stores value under key, replacing any previous value.
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_ns) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ns = excluded.updated_ns`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// DeletePreference removes key.
func (s *Store) DeletePreference(key string) error {
	if _, err := s.db.Exec(`DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

// ListPreferences returns all preferences ordered by key.
func (s *Store) ListPreferences() ([]Preference, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_ns FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		var updated int64
		if err := rows.Scan(&p.Key, &p.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.UpdatedAt = time.Unix(0, updated)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// RecordSave inserts a save attempt and returns its ID.
func (s *Store) RecordSave(r *SaveRecord) (int64, error) {
	if r.Path == "" {
		return 0, errors.New("record save: empty path")
	}
	if r.Outcome == "" {
		return 0, errors.New("record save: empty outcome")
	}

	var savedAt *int64
	if !r.SavedAt.IsZero() {
		ns := r.SavedAt.UnixNano()
		savedAt = &ns
	}
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}

	result, err := s.db.Exec(`
		INSERT INTO save_history (path, attempted_ns, saved_at_ns, outcome, bytes, patch, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Path, r.AttemptedAt.UnixNano(), savedAt, string(r.Outcome), r.Bytes, r.Patch, errText,
	)
	if err != nil {
		return 0, fmt.Errorf("insert save: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// ListSaves returns the most recent save attempts, newest first. An empty
// path lists every document; a limit of zero or less returns everything.
func (s *Store) ListSaves(path string, limit int) ([]SaveRecord, error) {
	query := `SELECT id, path, attempted_ns, saved_at_ns, outcome, bytes, patch, error FROM save_history`
	var args []any
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY attempted_ns DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer rows.Close()

	var records []SaveRecord
	for rows.Next() {
		var r SaveRecord
		var attempted int64
		var savedAt sql.NullInt64
		var outcome string
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Path, &attempted, &savedAt, &outcome, &r.Bytes, &r.Patch, &errText); err != nil {
			return nil, fmt.Errorf("scan save: %w", err)
		}
		r.AttemptedAt = time.Unix(0, attempted)
		if savedAt.Valid {
			r.SavedAt = time.Unix(0, savedAt.Int64)
		}
		r.Outcome = Outcome(outcome)
		r.Error = errText.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneSaves keeps the newest keep records of path and deletes the rest. It
// returns the number of deleted rows.
func (s *Store) PruneSaves(path string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.Exec(`
		DELETE FROM save_history
		WHERE path = ? AND id NOT IN (
			SELECT id FROM save_history WHERE path = ?
			ORDER BY attempted_ns DESC, id DESC LIMIT ?
		)`, path, path, keep)
	if err != nil {
		return 0, fmt.Errorf("prune saves: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
