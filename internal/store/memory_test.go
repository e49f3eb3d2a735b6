package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryPutGetRoundtrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rev, err := s.Put(ctx, Record{ID: "door:alice", Kind: KindIdentity, DoorID: "door", PersonID: "alice", Phone: "+3249953"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rev == "" {
		t.Fatal("expected a revision token")
	}

	rec, err := s.Get(ctx, "door:alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Rev != rev || rec.Phone != "+3249953" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemory()
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPutRevisionConflict(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rev, err := s.Put(ctx, Record{ID: "doc", Kind: KindIdentity, DoorID: "door"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Stale revision must be rejected.
	if _, err := s.Put(ctx, Record{ID: "doc", Rev: "stale", Kind: KindIdentity, DoorID: "door"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Inserting over an existing id without a revision must be rejected too.
	if _, err := s.Put(ctx, Record{ID: "doc", Kind: KindIdentity, DoorID: "door"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := s.Put(ctx, Record{ID: "doc", Rev: rev, Kind: KindIdentity, DoorID: "door", Name: "updated"}); err != nil {
		t.Fatalf("put with current rev: %v", err)
	}
}

func TestMemorySoftDeleteHidesRecord(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rev, err := s.Put(ctx, Record{ID: "inv1", Kind: KindInvitation, DoorID: "door", Referrer: "alice", TS: 10})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.SoftDelete(ctx, "inv1", rev); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := s.Get(ctx, "inv1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted record to be hidden, got %v", err)
	}
	recs, err := s.Find(ctx, Selector{Kind: KindInvitation, DoorID: "door"}, 10, SortNone)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no live invitations, got %d", len(recs))
	}
	if err := s.SoftDelete(ctx, "inv1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report ErrNotFound, got %v", err)
	}
}

func TestMemoryFindSelectorAndOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	SeedRecord(s, Record{ID: "l1", Kind: KindUsageLog, DoorID: "door", PersonID: "alice", TS: 100})
	SeedRecord(s, Record{ID: "l2", Kind: KindUsageLog, DoorID: "door", PersonID: "alice", TS: 300})
	SeedRecord(s, Record{ID: "l3", Kind: KindUsageLog, DoorID: "door", PersonID: "bob", TS: 200})
	SeedRecord(s, Record{ID: "i1", Kind: KindInvitation, DoorID: "door", Referrer: "alice", TS: 250})

	recs, err := s.Find(ctx, Selector{Kind: KindUsageLog, DoorID: "door", PersonID: "alice", TSAfter: 100}, 10, SortTSDesc)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "l2" {
		t.Fatalf("expected only l2 (ts > 100), got %+v", recs)
	}

	recs, err = s.Find(ctx, Selector{Kind: KindUsageLog, DoorID: "door"}, 2, SortTSDesc)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "l2" || recs[1].ID != "l3" {
		t.Fatalf("expected [l2 l3] by ts desc, got %+v", recs)
	}
}
