package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
	seq  []string
}

// NewMemory creates a concurrency-safe in-memory document store, used in unit
// tests and as the development fallback when Postgres is not configured.
func NewMemory() Store {
	return &memoryStore{recs: make(map[string]Record)}
}

func (s *memoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok || rec.Deleted {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) Put(_ context.Context, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.recs[rec.ID]
	if ok && existing.Rev != rec.Rev {
		return "", ErrConflict
	}
	if !ok {
		if rec.Rev != "" {
			return "", ErrConflict
		}
		s.seq = append(s.seq, rec.ID)
	}
	rec.Rev = uuid.NewString()
	s.recs[rec.ID] = rec
	return rec.Rev, nil
}

func (s *memoryStore) Find(_ context.Context, sel Selector, limit int, order Sort) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Record, 0, limit)
	for _, id := range s.seq {
		rec := s.recs[id]
		if rec.Deleted || !matchesSelector(rec, sel) {
			continue
		}
		matches = append(matches, rec)
	}

	if order == SortTSDesc {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].TS > matches[j].TS
		})
	}

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *memoryStore) SoftDelete(_ context.Context, id, rev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok || rec.Deleted {
		return ErrNotFound
	}
	if rev != "" && rec.Rev != rev {
		return ErrConflict
	}
	rec.Deleted = true
	rec.Rev = uuid.NewString()
	s.recs[id] = rec
	return nil
}

func matchesSelector(rec Record, sel Selector) bool {
	if sel.Kind != "" && rec.Kind != sel.Kind {
		return false
	}
	if sel.DoorID != "" && rec.DoorID != sel.DoorID {
		return false
	}
	if sel.PersonID != "" && rec.PersonID != sel.PersonID {
		return false
	}
	if sel.Referrer != "" && rec.Referrer != sel.Referrer {
		return false
	}
	if sel.TSAfter != 0 && rec.TS <= sel.TSAfter {
		return false
	}
	return true
}
