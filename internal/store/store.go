package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound occurs when no live record exists for the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates the revision token supplied with a write no longer
	// matches the stored record, so the write was rejected.
	ErrConflict = errors.New("revision conflict")
)

const (
	// KindIdentity tags phone identity records.
	KindIdentity = "remote"
	// KindInvitation tags single-use referral credits.
	KindInvitation = "invitation"
	// KindUsageLog tags append-only door usage entries.
	KindUsageLog = "log"
)

// Record is a document in the shared collection. Which fields are populated
// depends on Kind; the zero value of an unused field is omitted on the wire.
type Record struct {
	ID        string `json:"_id"`
	Rev       string `json:"_rev,omitempty"`
	Kind      string `json:"type"`
	DoorID    string `json:"uuid"`
	PersonID  string `json:"pid,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CanLock   bool   `json:"canLock,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	TS        int64  `json:"ts,omitempty"`
	Deleted   bool   `json:"_deleted,omitempty"`
}

// Selector filters records in Find. Zero-valued fields are not matched.
// TSAfter is an exclusive lower bound on the record timestamp.
type Selector struct {
	Kind     string
	DoorID   string
	PersonID string
	Referrer string
	TSAfter  int64
}

// Sort orders Find results.
type Sort int

const (
	// SortNone returns records in storage order.
	SortNone Sort = iota
	// SortTSDesc returns the most recent records first.
	SortTSDesc
)

// Store is the document store boundary. Every query is bounded by an explicit
// limit; soft-deleted records never match Get or Find. Callers must not assume
// atomicity across calls beyond the revision token passed to Put.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, rec Record) (string, error)
	Find(ctx context.Context, sel Selector, limit int, sort Sort) ([]Record, error)
	SoftDelete(ctx context.Context, id, rev string) error
}
