package seenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PersistenceError wraps a failure to write the state file. The in-memory
// state stays authoritative until the next successful Persist.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store records which item ids were announced per stream, backed by a JSON file:
//
//	{
//	  "modtale_seen":    {"<project_uuid>": ["v1", "v2"]},
//	  "curseforge_seen": {"<project_id>": ["6075247"]}
//	}
//
// All access goes through one mutex, so Mark and Persist from concurrent
// poll loops never interleave partial writes.
type Store struct {
	path string
	log  *zap.Logger

	mu    sync.Mutex
	seen  map[models.SourceKind]map[string]models.SeenSet
	dirty bool
}

func NewSeenStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *Store {
	store := New(cfg.CacheFile, log)
	store.Load()

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if !store.Dirty() {
				return nil
			}
			if err := store.Persist(); err != nil {
				log.Sugar().Errorw("Failed to persist seen state on shutdown", "err", err)
			}
			return nil
		},
	})
	return store
}

func New(path string, log *zap.Logger) *Store {
	return &Store{
		path: path,
		log:  log,
		seen: emptyState(),
	}
}

func emptyState() map[models.SourceKind]map[string]models.SeenSet {
	state := make(map[models.SourceKind]map[string]models.SeenSet, len(models.SourceKinds))
	for _, kind := range models.SourceKinds {
		state[kind] = make(map[string]models.SeenSet)
	}
	return state
}

func fileKey(kind models.SourceKind) string {
	return string(kind) + "_seen"
}

func (s *Store) Path() string { return s.path }

// Load replaces the in-memory state with the file contents. A missing file is
// a no-op; an unreadable or malformed file is logged and yields empty state.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.log.Sugar().Warnw("Failed to read seen state; starting fresh", "path", s.path, "err", err)
		s.seen = emptyState()
		return
	}

	state, err := decode(b)
	if err != nil {
		s.log.Sugar().Warnw("Failed to decode seen state; starting fresh", "path", s.path, "err", err)
		s.seen = emptyState()
		return
	}
	s.seen = state
	s.dirty = false
}

func decode(b []byte) (map[models.SourceKind]map[string]models.SeenSet, error) {
	// Unknown top-level keys are skipped; only known kinds are decoded.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}

	state := emptyState()
	for _, kind := range models.SourceKinds {
		raw, ok := doc[fileKey(kind)]
		if !ok || string(raw) == "null" {
			continue
		}
		var streams map[string][]string
		if err := json.Unmarshal(raw, &streams); err != nil {
			return nil, fmt.Errorf("%s: %w", fileKey(kind), err)
		}
		for key, ids := range streams {
			state[kind][key] = models.NewSeenSet(ids...)
		}
	}
	return state, nil
}

func (s *Store) setLocked(stream models.Stream) models.SeenSet {
	byKey, ok := s.seen[stream.Kind]
	if !ok {
		byKey = make(map[string]models.SeenSet)
		s.seen[stream.Kind] = byKey
	}
	set, ok := byKey[stream.Key]
	if !ok {
		set = models.NewSeenSet()
		byKey[stream.Key] = set
	}
	return set
}

// SeenSet returns a copy of the stream's set, creating an empty entry on first access.
func (s *Store) SeenSet(stream models.Stream) models.SeenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(stream).Clone()
}

// Mark adds id to the stream's set. It reports whether the id was newly added.
func (s *Store) Mark(stream models.Stream, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := s.setLocked(stream).Add(id)
	if added {
		s.dirty = true
	}
	return added
}

func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Count returns the number of ids recorded across all streams of a kind.
func (s *Store) Count(kind models.SourceKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.seen[kind] {
		n += len(set)
	}
	return n
}

// Persist writes the whole state to a temp file and renames it over the
// state file, so a crash mid-write leaves the previous snapshot intact.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := make(map[string]map[string][]string, len(s.seen))
	for _, kind := range models.SourceKinds {
		streams := make(map[string][]string, len(s.seen[kind]))
		for key, set := range s.seen[kind] {
			streams[key] = set.Sorted()
		}
		doc[fileKey(kind)] = streams
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{s.path, err}
	}
	if err := writeAtomic(s.path, b); err != nil {
		return &PersistenceError{s.path, err}
	}
	s.dirty = false
	return nil
}

func writeAtomic(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
