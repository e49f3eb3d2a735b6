package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doorlink/doorlink/internal/store"
)

const invitationsPageSize = 10

// Service is the identity data layer: typed operations over the document
// store with a read-through cache in front of every lookup.
type Service struct {
	store store.Store
	cache *Cache
	now   func() time.Time
}

// NewService builds the identity service.
func NewService(st store.Store, cache *Cache) *Service {
	return &Service{store: st, cache: cache, now: time.Now}
}

// RegisterInput carries a registerPid request.
type RegisterInput struct {
	DoorID       string
	PersonID     string
	Name         string
	Phone        string
	InvitationID string
}

// Lookup returns the identity for (doorID, personID), or nil when none is
// registered. Concurrent lookups for the same key share one store read.
func (s *Service) Lookup(ctx context.Context, doorID, personID string) (*PhoneIdentity, error) {
	key := FullID(doorID, personID)
	return s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*PhoneIdentity, error) {
		rec, err := s.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ident := identityFromRecord(rec)
		return &ident, nil
	})
}

// Register creates or updates a phone identity. A resolvable invitation id
// confirms the identity and consumes the invitation; an unresolvable one is
// ignored. Once an identity is confirmed its stored phone number survives
// re-registration, though the display name may still change.
func (s *Service) Register(ctx context.Context, in RegisterInput) (PhoneIdentity, error) {
	key := FullID(in.DoorID, in.PersonID)

	var invitation *store.Record
	if in.InvitationID != "" {
		if rec, err := s.store.Get(ctx, in.InvitationID); err == nil && rec.Kind == store.KindInvitation {
			invitation = &rec
		}
	}

	phone := in.Phone
	var prevRev string
	var prevCanLock bool
	prev, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		prevRev = prev.Rev
		prevCanLock = prev.CanLock
		if prev.Confirmed {
			phone = prev.Phone
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return PhoneIdentity{}, fmt.Errorf("load identity %s: %w", key, err)
	}

	ident := PhoneIdentity{
		ID:        key,
		Rev:       prevRev,
		DoorID:    in.DoorID,
		PersonID:  in.PersonID,
		Name:      in.Name,
		Phone:     phone,
		CanLock:   prevCanLock,
		Confirmed: invitation != nil,
	}

	rev, err := s.store.Put(ctx, recordFromIdentity(ident))
	if err != nil {
		return PhoneIdentity{}, fmt.Errorf("save identity %s: %w", key, err)
	}
	ident.Rev = rev
	s.cache.Set(key, &ident)

	if invitation != nil {
		if err := s.store.SoftDelete(ctx, invitation.ID, invitation.Rev); err != nil {
			return PhoneIdentity{}, fmt.Errorf("consume invitation %s: %w", invitation.ID, err)
		}
	}
	return ident, nil
}

// Confirm sets the confirmation flag on an existing identity. Confirming an
// identity also mints one invitation credited to the confirmed person.
func (s *Service) Confirm(ctx context.Context, doorID, personID string, confirmed bool) (PhoneIdentity, error) {
	key := FullID(doorID, personID)
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return PhoneIdentity{}, fmt.Errorf("load identity %s: %w", key, err)
	}

	rec.Confirmed = confirmed
	rev, err := s.store.Put(ctx, rec)
	if err != nil {
		return PhoneIdentity{}, fmt.Errorf("save identity %s: %w", key, err)
	}
	rec.Rev = rev
	ident := identityFromRecord(rec)
	s.cache.Set(key, &ident)

	if confirmed {
		inv := InvitationRecord(uuid.NewString(), doorID, personID, s.now().UnixMilli())
		if _, err := s.store.Put(ctx, inv); err != nil {
			return PhoneIdentity{}, fmt.Errorf("mint invitation: %w", err)
		}
	}
	return ident, nil
}

// Invitations returns up to 10 pending invitations referred by personID for
// the given door.
func (s *Service) Invitations(ctx context.Context, doorID, personID string) ([]Invitation, error) {
	recs, err := s.store.Find(ctx, store.Selector{
		Kind:     store.KindInvitation,
		DoorID:   doorID,
		Referrer: personID,
	}, invitationsPageSize, store.SortNone)
	if err != nil {
		return nil, fmt.Errorf("find invitations: %w", err)
	}

	invitations := make([]Invitation, 0, len(recs))
	for _, rec := range recs {
		invitations = append(invitations, invitationFromRecord(rec))
	}
	return invitations, nil
}

// CanLock reports whether the identity holds the lock-open right. Missing
// identities simply lack the right.
func (s *Service) CanLock(ctx context.Context, doorID, personID string) (bool, error) {
	ident, err := s.Lookup(ctx, doorID, personID)
	if err != nil {
		return false, err
	}
	return ident != nil && ident.CanLock, nil
}
