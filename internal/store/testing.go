package store

// SeedRecord is a test helper that places a record directly into the in-memory
// store, bypassing revision checks.
func SeedRecord(s Store, rec Record) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if _, exists := mem.recs[rec.ID]; !exists {
			mem.seq = append(mem.seq, rec.ID)
		}
		if rec.Rev == "" {
			rec.Rev = "seed"
		}
		mem.recs[rec.ID] = rec
	}
}
