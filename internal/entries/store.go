package entries

import (
	"sort"
	"sync"
)

// Store holds the in-memory entry collection for one active user session.
// It owns the ordering invariant: entries are listed by date descending,
// ties broken by identifier descending so repeated calls observe the same
// order regardless of insertion history.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Reset discards the current contents and seeds the store with the given
// entries, typically the result of a persistence load.
func (s *Store) Reset(seed []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]Entry, 0, len(seed))
	for _, entry := range seed {
		s.entries = append(s.entries, entry.clone())
	}
	sortEntries(s.entries)
}

// List returns the entries ordered by date descending. The returned slice is
// a copy; mutating it does not affect the store.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listed := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		listed = append(listed, entry.clone())
	}
	return listed
}

// Get returns the entry with the given identifier when present.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return entry.clone(), true
		}
	}
	return Entry{}, false
}

// Len reports the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Upsert replaces the entry carrying the same identifier or appends the
// entry when the identifier is new. The store is re-sorted after every
// mutation.
func (s *Store) Upsert(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for index := range s.entries {
		if s.entries[index].ID == entry.ID {
			s.entries[index] = entry.clone()
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry.clone())
	}
	sortEntries(s.entries)
}

// Remove deletes the entry with the given identifier. Removing an absent
// identifier is a no-op, not an error.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.entries {
		if s.entries[index].ID == id {
			s.entries = append(s.entries[:index], s.entries[index+1:]...)
			return
		}
	}
}

// Merge inserts the candidates whose identifiers are not already present and
// reports how many were added. Existing entries are never overwritten:
// merge is additive-only, which is what distinguishes it from Upsert and
// keeps stale backup rows from clobbering newer local edits.
func (s *Store) Merge(candidates []Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(s.entries))
	for _, entry := range s.entries {
		known[entry.ID] = struct{}{}
	}

	inserted := 0
	for _, candidate := range candidates {
		if _, exists := known[candidate.ID]; exists {
			continue
		}
		known[candidate.ID] = struct{}{}
		s.entries = append(s.entries, candidate.clone())
		inserted++
	}

	if inserted > 0 {
		sortEntries(s.entries)
	}
	return inserted
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(left, right int) bool {
		if !list[left].Date.Equal(list[right].Date) {
			return list[left].Date.After(list[right].Date)
		}
		return list[left].ID > list[right].ID
	})
}
