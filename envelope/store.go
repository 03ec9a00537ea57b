package envelope

import (
	"sort"
	"sync"
)

// Store is the single source of truth for envelope records consumed by UI
// surfaces. It is safe for concurrent use and holds at most one record per
// envelope id. Construct one per workflow and inject it; there is no
// package-level instance.
type Store struct {
	mu      sync.RWMutex
	records []Record
}

func NewStore() *Store {
	return &Store{}
}

// SetAll replaces the full collection, used after a bulk refresh. Records
// sharing an envelope id collapse to the first occurrence; the result is
// ordered by creation time, most recent first.
func (s *Store) SetAll(records []Record) {
	next := make([]Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.EnvelopeID == "" {
			continue
		}
		if _, dup := seen[rec.EnvelopeID]; dup {
			continue
		}
		seen[rec.EnvelopeID] = struct{}{}
		next = append(next, rec)
	}
	sortNewestFirst(next)

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

// Add inserts a record, replacing any existing record with the same
// envelope id, and keeps the collection ordered newest first.
func (s *Store) Add(rec Record) {
	if rec.EnvelopeID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].EnvelopeID == rec.EnvelopeID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			break
		}
	}
	s.records = append(s.records, rec)
	sortNewestFirst(s.records)
}

// UpsertStatus merges a status update into the matching record. An unknown
// envelope id is a no-op.
func (s *Store) UpsertStatus(envelopeID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].EnvelopeID == envelopeID {
			s.records[i].Status = status
			return true
		}
	}
	return false
}

// Remove deletes the record with the given envelope id, if present.
func (s *Store) Remove(envelopeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].EnvelopeID == envelopeID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the record for the envelope id.
func (s *Store) Get(envelopeID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.records {
		if s.records[i].EnvelopeID == envelopeID {
			return s.records[i], true
		}
	}
	return Record{}, false
}

// List returns a copy of the collection, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
