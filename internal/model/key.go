package model

import "time"

// Format identifies how a key's token string was generated. It only affects
// display; validation never looks at it.
type Format string

const (
	// FormatBash produces segmented hex tokens such as FREE-9f2d7c1a3e-bd4f7a29.
	FormatBash Format = "bash"
	// FormatUUID produces an opaque random UUID (version 4).
	FormatUUID Format = "uuid"
	// FormatHex produces lowercase hexadecimal tokens of the requested length.
	FormatHex Format = "hex"
	// FormatAlphanumeric produces [A-Za-z0-9] tokens of the requested length.
	FormatAlphanumeric Format = "alphanumeric"
	// FormatCustom produces alphanumeric tokens at an explicit caller length.
	FormatCustom Format = "custom"
)

// Formats lists every supported format in display order.
var Formats = []Format{FormatBash, FormatUUID, FormatHex, FormatAlphanumeric, FormatCustom}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// Key is a short-lived access token record. Token is the externally visible
// secret; it is unique across the store and never changes after creation.
// UsedCount is the only field that mutates, and only through an atomic
// consume in the key store.
type Key struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"key"`
	Format    Format    `json:"type"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
	UsedCount int       `json:"used"`
	MaxUses   int       `json:"maxUses"`
}

// IsExpiredAt reports whether the key's validity window has closed at now.
// A key is still valid at any instant strictly before ExpiresAt.
func (k *Key) IsExpiredAt(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// IsExhausted reports whether every allowed use has been consumed.
func (k *Key) IsExhausted() bool {
	return k.UsedCount >= k.MaxUses
}

// IsLiveAt reports whether the key is neither expired nor exhausted at now.
func (k *Key) IsLiveAt(now time.Time) bool {
	return !k.IsExpiredAt(now) && !k.IsExhausted()
}

// UsesRemaining returns how many more successful consumes the key allows.
func (k *Key) UsesRemaining() int {
	if n := k.MaxUses - k.UsedCount; n > 0 {
		return n
	}
	return 0
}

// PublicData returns the metadata that may be shown to whoever presented the
// token. It never includes the token itself.
func (k *Key) PublicData() KeyData {
	return KeyData{
		Name:          k.Name,
		Type:          k.Format,
		Created:       k.CreatedAt,
		Expires:       k.ExpiresAt,
		UsesRemaining: k.UsesRemaining(),
	}
}

// KeyData is the public view of a key returned from check and validate calls.
type KeyData struct {
	Name          string    `json:"name"`
	Type          Format    `json:"type"`
	Created       time.Time `json:"created"`
	Expires       time.Time `json:"expires"`
	UsesRemaining int       `json:"usesRemaining"`
}

// Draft carries the caller-controlled fields of a key that has not been
// stamped with timestamps yet.
type Draft struct {
	Name    string
	Token   string
	Format  Format
	MaxUses int
}
