package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Current file format version.
const (
	VersionMajor = 3
	VersionMinor = 0
)

// KeyPrefix namespaces store files.
const KeyPrefix = "smartwater"

// Logger defines the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// fileFormat is the on-disk document.
type fileFormat struct {
	Version      int                        `json:"version"`
	MinorVersion int                        `json:"minor_version"`
	Key          string                     `json:"key"`
	Data         map[string]json.RawMessage `json:"data"`
}

// Store is one persisted document of named items.
//
// Use Registry.Open to obtain a Store; a Store created any other way is not
// shared with other users of the same key.
type Store struct {
	key         string
	path        string
	writePeriod time.Duration
	logger      Logger
	now         func() time.Time

	mu         sync.Mutex
	data       map[string]json.RawMessage
	lastRead   time.Time
	lastWrite  time.Time
	lastChange time.Time
	dirty      bool
}

func newStore(dir, storeKey string, writePeriod time.Duration, logger Logger, now func() time.Time) *Store {
	key := MakeKey(storeKey)
	return &Store{
		key:         key,
		path:        filepath.Join(dir, key),
		writePeriod: writePeriod,
		logger:      logger,
		now:         now,
		data:        make(map[string]json.RawMessage),
	}
}

// MakeKey returns the file name a store key is persisted under.
func MakeKey(storeKey string) string {
	return KeyPrefix + "." + storeKey
}

// Key returns the full store key, e.g. "smartwater.cache".
func (s *Store) Key() string { return s.key }

// Path returns the file the store is persisted in.
func (s *Store) Path() string { return s.path }

// Read loads the persisted file unless it was already read.
//
// A missing file yields an empty store. An unreadable, corrupt or too new
// file is logged and also yields an empty store. The read timestamp is set
// in all cases so the file is never read twice.
func (s *Store) Read(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastRead.IsZero() {
		return
	}
	defer func() { s.lastRead = s.now() }()

	if err := ctx.Err(); err != nil {
		s.logger.Warn("skipping read of persisted store", "key", s.key, "error", err)
		return
	}

	s.logger.Info("reading persisted store", "key", s.key)
	data, err := s.load()
	if err != nil {
		s.logger.Warn("failed to read persisted store", "key", s.key, "error", err)
		s.data = make(map[string]json.RawMessage)
		return
	}
	s.data = data
}

// load reads and migrates the file. Caller must hold mu.
func (s *Store) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if doc.Key != "" && doc.Key != s.key {
		return nil, fmt.Errorf("%w: %q", ErrKeyMismatch, doc.Key)
	}
	if doc.Version > VersionMajor {
		return nil, fmt.Errorf("%w: %d.%d", ErrVersionTooNew, doc.Version, doc.MinorVersion)
	}

	data := doc.Data
	if doc.Version < VersionMajor || doc.MinorVersion != VersionMinor {
		data = migrate(doc.Version, doc.MinorVersion, data)
		s.logger.Info("migrated persisted store", "key", s.key,
			"from", fmt.Sprintf("%d.%d", doc.Version, doc.MinorVersion),
			"to", fmt.Sprintf("%d.%d", VersionMajor, VersionMinor))
	}
	if data == nil {
		data = make(map[string]json.RawMessage)
	}
	return data, nil
}

// migrate converts data written by an older version. Items keep their
// names across all released versions, so the data is carried over as is.
func migrate(_, _ int, data map[string]json.RawMessage) map[string]json.RawMessage {
	return data
}

// Write persists the store.
//
// Without force, the write is skipped when the store is empty, nothing
// changed since the previous write, or the write period has not elapsed.
// A failed write is logged; the write timestamp is still advanced so the
// next attempt waits a full period.
func (s *Store) Write(ctx context.Context, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !force {
		if len(s.data) == 0 {
			return
		}
		if !s.dirty {
			return
		}
		if !s.lastWrite.IsZero() && now.Sub(s.lastWrite) < s.writePeriod {
			return
		}
	}
	s.lastWrite = now

	if err := ctx.Err(); err != nil {
		s.logger.Warn("skipping write of persisted store", "key", s.key, "error", err)
		return
	}

	s.logger.Info("writing persisted store", "key", s.key, "items", len(s.data), "force", force)
	if err := s.save(); err != nil {
		s.logger.Warn("failed to write persisted store", "key", s.key, "error", err)
		return
	}
	s.dirty = false
}

// save writes the document atomically via a temp file. Caller must hold mu.
func (s *Store) save() error {
	doc := fileFormat{
		Version:      VersionMajor,
		MinorVersion: VersionMinor,
		Key:          s.key,
		Data:         s.data,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, s.key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // sync error takes precedence
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Get decodes the item stored under key into dst. It returns false when
// the item is missing or cannot be decoded into dst.
func (s *Store) Get(key string, dst any) bool {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()

	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("failed to decode store item", "key", s.key, "item", key, "error", err)
		return false
	}
	return true
}

// Set stores v under key and marks the store as changed.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding store item %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	s.lastChange = s.now()
	s.dirty = true
	return nil
}

// Diagnostics describes the store state.
type Diagnostics struct {
	Version      int                        `json:"version"`
	MinorVersion int                        `json:"minor_version"`
	Key          string                     `json:"key"`
	LastRead     time.Time                  `json:"last_read"`
	LastWrite    time.Time                  `json:"last_write"`
	LastChange   time.Time                  `json:"last_change"`
	Data         map[string]json.RawMessage `json:"data"`
}

// Diagnostics returns a copy of the store state.
func (s *Store) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		data[k] = v
	}
	return Diagnostics{
		Version:      VersionMajor,
		MinorVersion: VersionMinor,
		Key:          s.key,
		LastRead:     s.lastRead,
		LastWrite:    s.lastWrite,
		LastChange:   s.lastChange,
		Data:         data,
	}
}
