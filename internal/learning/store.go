// Package learning implements the Learning Store (C3): a process-wide,
// single-writer map from normalized target key to the last-known-good
// selector, persisted as a single JSON document with atomic
// write-tempfile-then-rename semantics (spec §4.3, §6.2).
package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brightloop/formwright/internal/action"
	"github.com/rs/zerolog"
)

// Entry mirrors the on-disk LearnedEntry shape exactly (spec §6.2).
type Entry struct {
	Selector      string      `json:"selector"`
	Target        string      `json:"target"`
	Action        action.Kind `json:"action"`
	SuccessCount  int         `json:"success_count"`
	FirstLearned  time.Time   `json:"first_learned"`
	LastUsed      time.Time   `json:"last_used"`

	// extra preserves any fields this version of the format does not know
	// about, so a rewrite never drops unrecognized data (spec §6.2: "unknown
	// fields are preserved on rewrite").
	extra map[string]json.RawMessage
}

// MarshalJSON merges known fields with any preserved unknown ones.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range e.extra {
		out[k] = v
	}
	mustSet := func(k string, v any) {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	mustSet("selector", e.Selector)
	mustSet("target", e.Target)
	mustSet("action", e.Action)
	mustSet("success_count", e.SuccessCount)
	mustSet("first_learned", e.FirstLearned)
	mustSet("last_used", e.LastUsed)
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type known struct {
		Selector     string      `json:"selector"`
		Target       string      `json:"target"`
		Action       action.Kind `json:"action"`
		SuccessCount int         `json:"success_count"`
		FirstLearned time.Time   `json:"first_learned"`
		LastUsed     time.Time   `json:"last_used"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	for _, f := range []string{"selector", "target", "action", "success_count", "first_learned", "last_used"} {
		delete(raw, f)
	}
	e.Selector = k.Selector
	e.Target = k.Target
	e.Action = k.Action
	e.SuccessCount = k.SuccessCount
	e.FirstLearned = k.FirstLearned
	e.LastUsed = k.LastUsed
	e.extra = raw
	return nil
}

// Store is the single-writer, file-backed Learning Store. The zero value
// is not usable; construct with New.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[string]Entry
	logger zerolog.Logger
}

// New loads an existing store from path, or starts empty if the file is
// absent (spec §4.3 invariant: absence is equivalent to an empty object).
func New(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{path: path, data: map[string]Entry{}, logger: logger}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory map with the on-disk document (P12 round
// trip: reload, re-serialize, field set preserved).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = map[string]Entry{}
		return nil
	}
	if err != nil {
		return err
	}
	var loaded map[string]Entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	if loaded == nil {
		loaded = map[string]Entry{}
	}
	s.data = loaded
	return nil
}

// Lookup returns the learned entry for key, if any.
func (s *Store) Lookup(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok
}

// RecordSuccess upserts an entry for key with the given selector and
// action kind, bumping success_count/last_used, and persists atomically.
// If the entry previously recorded a different selector, it is overwritten
// (spec §4.5 step 4: "if learned and learned.selector != c: overwrites").
func (s *Store) RecordSuccess(key, selector string, target string, kind action.Kind) error {
	now := time.Now()
	s.mu.Lock()
	e, existed := s.data[key]
	if !existed {
		e = Entry{FirstLearned: now}
	}
	if e.Selector != selector && existed {
		s.logger.Debug().Str("key", key).Str("old", e.Selector).Str("new", selector).Msg("learned selector changed")
	}
	e.Selector = selector
	e.Target = target
	e.Action = kind
	e.SuccessCount++
	e.LastUsed = now
	s.data[key] = e
	snapshot := s.cloneLocked()
	s.mu.Unlock()

	return writeAtomicJSON(s.path, snapshot)
}

// Forget removes key (spec §4.3, used only on explicit clear or on
// selector-replacement policy decisions by callers).
func (s *Store) Forget(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	snapshot := s.cloneLocked()
	s.mu.Unlock()
	return writeAtomicJSON(s.path, snapshot)
}

// ClearAll empties the store and persists the empty document.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	s.data = map[string]Entry{}
	s.mu.Unlock()
	return writeAtomicJSON(s.path, map[string]Entry{})
}

// Snapshot returns a copy of the whole map for inspection/testing.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneLocked()
}

func (s *Store) cloneLocked() map[string]Entry {
	out := make(map[string]Entry, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// writeAtomicJSON writes data as JSON to path via a tempfile in the same
// directory followed by an atomic rename, so a crash mid-write never
// leaves a torn file on disk (spec P5).
func writeAtomicJSON(path string, data map[string]Entry) error {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".learning-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
