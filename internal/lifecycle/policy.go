// Package lifecycle holds the rules for key validity: how a draft becomes a
// stamped record and how a record is classified at a given instant.
package lifecycle

import (
	"time"

	"github.com/keydropio/keydrop/internal/model"
)

const (
	// DefaultValidity is the window between creation and expiry.
	DefaultValidity = 24 * time.Hour
	// DefaultMaxUses applies when a draft leaves MaxUses unset.
	DefaultMaxUses = 1
)

// Clock returns the current time.
type Clock func() time.Time

// Policy stamps new keys with a fixed validity window. Callers never choose
// the window; it is an operator setting.
type Policy struct {
	validity time.Duration
	now      Clock
}

// New returns a Policy. A non-positive validity selects DefaultValidity and a
// nil clock selects time.Now.
func New(validity time.Duration, now Clock) *Policy {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{validity: validity, now: now}
}

// Validity returns the configured validity window.
func (p *Policy) Validity() time.Duration { return p.validity }

// Now returns the policy clock's current time truncated to the millisecond,
// the resolution every store persists.
func (p *Policy) Now() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

// Stamp turns a draft into a record ready for the store. ID is left zero for
// the store to assign.
func (p *Policy) Stamp(d model.Draft) model.Key {
	now := p.Now()
	maxUses := d.MaxUses
	if maxUses <= 0 {
		maxUses = DefaultMaxUses
	}
	return model.Key{
		Name:      d.Name,
		Token:     d.Token,
		Format:    d.Format,
		Length:    len(d.Token),
		CreatedAt: now,
		ExpiresAt: now.Add(p.validity),
		UsedCount: 0,
		MaxUses:   maxUses,
	}
}

// Classify reports the status of k at now. A nil key is NotFound. Expiry is
// checked before exhaustion, so a key that is both reports Expired.
func Classify(k *model.Key, now time.Time) model.Status {
	switch {
	case k == nil:
		return model.StatusNotFound
	case k.IsExpiredAt(now):
		return model.StatusExpired
	case k.IsExhausted():
		return model.StatusExhausted
	default:
		return model.StatusValid
	}
}
