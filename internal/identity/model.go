package identity

import (
	"strings"

	"github.com/doorlink/doorlink/internal/store"
)

// PhoneIdentity is a phone registered against one door. The record key is
// FullID(doorID, personID); once Confirmed is set the phone number may no
// longer be changed by re-registration.
type PhoneIdentity struct {
	ID        string `json:"_id"`
	Rev       string `json:"_rev,omitempty"`
	DoorID    string `json:"uuid"`
	PersonID  string `json:"pid"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	CanLock   bool   `json:"canLock"`
	Confirmed bool   `json:"confirmed"`
}

// Invitation is one unredeemed referral credit.
type Invitation struct {
	ID       string `json:"_id"`
	DoorID   string `json:"uuid"`
	Referrer string `json:"referrer"`
	TS       int64  `json:"ts"`
}

// FullID builds the identity record key. Both parts are restricted to hex
// digits and dashes before concatenation so a crafted id cannot collide with
// another door's keyspace.
func FullID(doorID, personID string) string {
	return sanitizeID(doorID) + ":" + sanitizeID(personID)
}

func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func identityFromRecord(rec store.Record) PhoneIdentity {
	return PhoneIdentity{
		ID:        rec.ID,
		Rev:       rec.Rev,
		DoorID:    rec.DoorID,
		PersonID:  rec.PersonID,
		Name:      rec.Name,
		Phone:     rec.Phone,
		CanLock:   rec.CanLock,
		Confirmed: rec.Confirmed,
	}
}

func recordFromIdentity(ident PhoneIdentity) store.Record {
	return store.Record{
		ID:        ident.ID,
		Rev:       ident.Rev,
		Kind:      store.KindIdentity,
		DoorID:    ident.DoorID,
		PersonID:  ident.PersonID,
		Name:      ident.Name,
		Phone:     ident.Phone,
		CanLock:   ident.CanLock,
		Confirmed: ident.Confirmed,
	}
}

func invitationFromRecord(rec store.Record) Invitation {
	return Invitation{
		ID:       rec.ID,
		DoorID:   rec.DoorID,
		Referrer: rec.Referrer,
		TS:       rec.TS,
	}
}

// InvitationRecord builds the store document for a freshly minted invitation.
func InvitationRecord(id, doorID, referrer string, ts int64) store.Record {
	return store.Record{
		ID:       id,
		Kind:     store.KindInvitation,
		DoorID:   doorID,
		Referrer: referrer,
		TS:       ts,
	}
}

// UsageLogRecord builds the store document for one door-open log entry.
func UsageLogRecord(id, doorID, personID string, ts int64) store.Record {
	return store.Record{
		ID:       id,
		Kind:     store.KindUsageLog,
		DoorID:   doorID,
		PersonID: personID,
		TS:       ts,
	}
}
