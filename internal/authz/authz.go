package authz

import (
	"context"
	"crypto/subtle"

	"github.com/doorlink/doorlink/internal/identity"
)

// Condition is an extra predicate applied on top of the confirmation check,
// e.g. requiring the lock-open right.
type Condition func(identity.PhoneIdentity) bool

// Authorizer validates presented tokens against the configured shared secrets
// and identities against their stored confirmation state.
type Authorizer struct {
	general    string
	device     string
	super      string
	identities *identity.Service
}

// New builds an authorizer over the three configured secrets.
func New(general, device, super string, identities *identity.Service) *Authorizer {
	return &Authorizer{general: general, device: device, super: super, identities: identities}
}

// IsGeneralToken is the broadest check: any of the three secrets passes.
func (a *Authorizer) IsGeneralToken(token string) bool {
	return secretEqual(token, a.general) || secretEqual(token, a.device) || secretEqual(token, a.super)
}

// IsDeviceToken accepts only the device secret.
func (a *Authorizer) IsDeviceToken(token string) bool {
	return secretEqual(token, a.device)
}

// IsSuperToken accepts only the superuser secret.
func (a *Authorizer) IsSuperToken(token string) bool {
	return secretEqual(token, a.super)
}

// IsAuthorizedIdentity reports whether a confirmed identity exists for
// (doorID, personID) and, when cond is non-nil, satisfies it. Lookup failures
// count as unauthorized rather than propagating.
func (a *Authorizer) IsAuthorizedIdentity(ctx context.Context, doorID, personID string, cond Condition) bool {
	ident, err := a.identities.Lookup(ctx, doorID, personID)
	if err != nil || ident == nil || !ident.Confirmed {
		return false
	}
	if cond != nil && !cond(*ident) {
		return false
	}
	return true
}

func secretEqual(token, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
