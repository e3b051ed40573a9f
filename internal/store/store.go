// Package store persists the calendar as opaque JSON blobs. The calendar
// core only sees the Store interface; adapters decide where the blobs live.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"sevcal/internal/config"
	appLog "sevcal/internal/log"
)

// Payload is the persisted form of a CalendarState: one JSON blob per key.
type Payload struct {
	Events    json.RawMessage
	Blackouts json.RawMessage
	Settings  json.RawMessage

	// UpdatedAt is when the payload was last written, as reported by the
	// backend. Zero when unknown.
	UpdatedAt time.Time
}

// Store is the Storage Port.
type Store interface {
	// Load returns nil, nil when nothing has been stored yet.
	Load(ctx context.Context) (*Payload, error)
	Save(ctx context.Context, p Payload) error
	Close() error
}

// Watcher is implemented by stores that can be changed by someone else
// (another device, a synced folder). Poll checks the backend once and
// delivers a payload to the registered callbacks only when it is strictly
// newer than, and different from, the last payload this process has seen.
type Watcher interface {
	OnExternalChange(fn func(Payload))
	Poll(ctx context.Context) error
}

// Open builds the adapter selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case config.BackendFile, "":
		s, err = NewFileStore(cfg.Path)
	case config.BackendSQLite:
		s, err = NewSQLiteStore(cfg.SQLitePath)
	case config.BackendRedis:
		s, err = NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", "backend", cfg.Backend, "read_only", cfg.ReadOnly)
	if cfg.ReadOnly {
		return ReadOnly(s), nil
	}
	return s, nil
}

// changeTracker remembers the last payload seen by this process (loaded,
// saved or polled) and decides whether a polled payload is an external
// change worth delivering.
type changeTracker struct {
	mu          sync.Mutex
	lastHash    string
	lastUpdated time.Time
	callbacks   []func(Payload)
}

// payloadHash hashes the compacted blobs so formatting differences between
// backends do not look like content changes.
func payloadHash(p Payload) string {
	h := sha256.New()
	for _, raw := range []json.RawMessage{p.Events, p.Blackouts, p.Settings} {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			buf.Reset()
			buf.Write(raw)
		}
		h.Write(buf.Bytes())
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (t *changeTracker) remember(p Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHash = payloadHash(p)
	t.lastUpdated = p.UpdatedAt
}

// observe reports whether p is newer than and different from the last
// known payload. An accepted payload becomes the new last known one.
func (t *changeTracker) observe(p Payload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastUpdated.IsZero() && !p.UpdatedAt.IsZero() && !p.UpdatedAt.After(t.lastUpdated) {
		return false
	}
	hash := payloadHash(p)
	if hash == t.lastHash {
		return false
	}
	t.lastHash = hash
	t.lastUpdated = p.UpdatedAt
	return true
}

func (t *changeTracker) subscribe(fn func(Payload)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

func (t *changeTracker) dispatch(p Payload) {
	t.mu.Lock()
	cbs := slices.Clone(t.callbacks)
	t.mu.Unlock()
	for _, fn := range cbs {
		fn(p)
	}
}

// poll runs one load through the tracker.
func (t *changeTracker) poll(ctx context.Context, load func(context.Context) (*Payload, error)) error {
	p, err := load(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if !t.observe(*p) {
		appLog.Debug("store poll: no external change")
		return nil
	}
	appLog.Info("store poll: external change detected", "updated_at", p.UpdatedAt.Format(time.RFC3339))
	t.dispatch(*p)
	return nil
}

// readOnlyStore drops writes. Hosts that only display a shared calendar
// use it so they never overwrite the shared copy.
type readOnlyStore struct {
	Store
}

// ReadOnly wraps s so that Save is a no-op.
func ReadOnly(s Store) Store {
	return readOnlyStore{Store: s}
}

func (r readOnlyStore) Save(_ context.Context, _ Payload) error {
	appLog.Debug("read-only store: save skipped")
	return nil
}

// AsWatcher returns the Watcher behind s, looking through ReadOnly.
func AsWatcher(s Store) (Watcher, bool) {
	if ro, ok := s.(readOnlyStore); ok {
		s = ro.Store
	}
	w, ok := s.(Watcher)
	return w, ok
}
