package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the whole calendar in one .sevc document, the same shape
// as the export format. It also works as a Watcher so a file living in a
// synced folder picks up edits from other machines.
type FileStore struct {
	path    string
	tracker changeTracker
}

type fileDocument struct {
	Events    json.RawMessage `json:"events"`
	Blackouts json.RawMessage `json:"blackouts"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

// NewFileStore creates a store writing to path. The parent directory is
// created with 0700 permissions.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (*Payload, error) {
	p, err := s.read(ctx)
	if err != nil || p == nil {
		return p, err
	}
	s.tracker.remember(*p)
	return p, nil
}

func (s *FileStore) read(_ context.Context) (*Payload, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	p := &Payload{UpdatedAt: info.ModTime().UTC()}
	// Older files hold only the event list.
	if trimmed[0] == '[' {
		p.Events = json.RawMessage(trimmed)
		return p, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	p.Events = doc.Events
	p.Blackouts = doc.Blackouts
	p.Settings = doc.Settings
	return p, nil
}

// Save writes the document atomically: temp file in the same directory,
// fsync, chmod 0600, rename over the target.
func (s *FileStore) Save(_ context.Context, p Payload) error {
	doc := fileDocument{
		Events:    orNull(p.Events),
		Blackouts: orNull(p.Blackouts),
		Settings:  p.Settings,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sevcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}

	if info, err := os.Stat(s.path); err == nil {
		p.UpdatedAt = info.ModTime().UTC()
	}
	s.tracker.remember(p)
	return nil
}

func (s *FileStore) OnExternalChange(fn func(Payload)) {
	s.tracker.subscribe(fn)
}

func (s *FileStore) Poll(ctx context.Context) error {
	return s.tracker.poll(ctx, s.read)
}

func (s *FileStore) Close() error {
	return nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
