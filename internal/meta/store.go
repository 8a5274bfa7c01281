// Package meta persists the per-library install records that decide whether
// a library needs to be (re)built.
//
// Each library owns one small JSON file, ".<name>.json", under the install
// directory. Records are loaded lazily on first access and fully rewritten
// on every persist through an atomic rename, so a reader never observes a
// half-written record.
//
// The store assumes a single writer at a time. Concurrent provisioning of the
// same library from several processes must be serialized by the caller, for
// example with a file lock around the whole install.
package meta

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/starford/grandlibs/internal/storage"
)

// Well-known record keys.
const (
	KeyRevision    = "revision"
	KeyPatchset    = "patchset"
	KeyInstalledAt = "installed_at"
)

// Record is the typed view of an install record.
type Record struct {
	Library     string    `json:"library"`
	Revision    string    `json:"revision"`
	Patchset    string    `json:"patchset,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitempty"`
}

// Installed reports whether the record describes a completed install.
func (r Record) Installed() bool { return r.Revision != "" }

// Store reads and writes install records.
type Store struct {
	fs storage.Provider

	mu      sync.Mutex
	records map[string]map[string]string
}

// NewStore creates a Store keeping its records in fs.
func NewStore(fs storage.Provider) *Store {
	return &Store{fs: fs, records: make(map[string]map[string]string)}
}

// FileName returns the record file name for a library.
func FileName(library string) string {
	return "." + library + ".json"
}

// load must be called with s.mu held.
func (s *Store) load(library string) (map[string]string, error) {
	if rec, ok := s.records[library]; ok {
		return rec, nil
	}
	name := FileName(library)
	rec := make(map[string]string)
	ok, err := s.fs.Exists(name)
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	if ok {
		data, err := s.fs.Read(name)
		if err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("meta: decode %s: %w", name, err)
		}
	}
	s.records[library] = rec
	return rec, nil
}

// Get returns the value stored under key, and whether it was present.
func (s *Store) Get(library, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(library)
	if err != nil {
		return "", false, err
	}
	v, ok := rec[key]
	return v, ok, nil
}

// Set changes a value in memory. Call Persist to write it out.
func (s *Store) Set(library, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(library)
	if err != nil {
		return err
	}
	rec[key] = value
	return nil
}

// Persist rewrites the whole record of library.
func (s *Store) Persist(library string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(library)
}

func (s *Store) persist(library string) error {
	rec, err := s.load(library)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("meta: encode: %w", err)
	}
	if err := s.fs.Write(FileName(library), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("meta: persist %s: %w", library, err)
	}
	return nil
}

// SetAndPersist changes one value and persists the record.
func (s *Store) SetAndPersist(library, key, value string) error {
	return s.Update(library, map[string]string{key: value})
}

// Update changes several values and persists the record once. If the write
// fails the in-memory record is rolled back to what is on disk.
func (s *Store) Update(library string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(library)
	if err != nil {
		return err
	}
	prev := make(map[string]string, len(rec))
	for k, v := range rec {
		prev[k] = v
	}
	for k, v := range values {
		rec[k] = v
	}
	if err := s.persist(library); err != nil {
		s.records[library] = prev
		return err
	}
	return nil
}

// Record returns the typed record of library. A library that was never
// installed yields a zero Record with only Library set.
func (s *Store) Record(library string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(library)
	if err != nil {
		return Record{}, err
	}
	out := Record{
		Library:  library,
		Revision: rec[KeyRevision],
		Patchset: rec[KeyPatchset],
	}
	if ts := rec[KeyInstalledAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			out.InstalledAt = t
		}
	}
	return out, nil
}

// Invalidate drops the cached record so the next access rereads the file.
// Used after another process may have reinstalled the library.
func (s *Store) Invalidate(library string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, library)
}
