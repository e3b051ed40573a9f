package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo

	appLog "sevcal/internal/log"
)

const (
	keyEvents    = "events"
	keyBlackouts = "blackouts"
	keySettings  = "settings"
)

// SQLiteStore keeps one row per state key in a small key/value table.
type SQLiteStore struct {
	db      *sql.DB
	tracker changeTracker
}

// NewSQLiteStore opens (or creates) the database at path and runs the
// migration. ":memory:" works for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// One connection avoids concurrent writer conflicts and keeps an
	// in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS calendar_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	appLog.Debug("sqlite store migrated")
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Payload, error) {
	p, err := s.read(ctx)
	if err != nil || p == nil {
		return p, err
	}
	s.tracker.remember(*p)
	return p, nil
}

func (s *SQLiteStore) read(ctx context.Context) (*Payload, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM calendar_kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		p     Payload
		found bool
	)
	for rows.Next() {
		var (
			key, value string
			updated    int64
		)
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return nil, err
		}
		found = true
		switch key {
		case keyEvents:
			p.Events = json.RawMessage(value)
		case keyBlackouts:
			p.Blackouts = json.RawMessage(value)
		case keySettings:
			p.Settings = json.RawMessage(value)
		}
		if t := time.UnixMilli(updated).UTC(); t.After(p.UpdatedAt) {
			p.UpdatedAt = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Save upserts every non-empty key in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, p Payload) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `
	INSERT INTO calendar_kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	for _, kv := range []struct {
		key string
		raw json.RawMessage
	}{
		{keyEvents, p.Events},
		{keyBlackouts, p.Blackouts},
		{keySettings, p.Settings},
	} {
		if len(kv.raw) == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, kv.key, string(kv.raw), now.UnixMilli()); err != nil {
			return fmt.Errorf("save %s: %w", kv.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	p.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	s.tracker.remember(p)
	return nil
}

func (s *SQLiteStore) OnExternalChange(fn func(Payload)) {
	s.tracker.subscribe(fn)
}

func (s *SQLiteStore) Poll(ctx context.Context) error {
	return s.tracker.poll(ctx, s.read)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
