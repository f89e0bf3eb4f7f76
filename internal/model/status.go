package model

import "time"

// Status is the classification of a presented token.
type Status string

const (
	StatusValid     Status = "valid"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
	StatusNotFound  Status = "not_found"
)

// Message returns the human-readable text shown alongside a status.
func (s Status) Message() string {
	switch s {
	case StatusValid:
		return "Key is valid"
	case StatusExpired:
		return "Key has expired"
	case StatusExhausted:
		return "Key has already been used"
	case StatusNotFound:
		return "Key not found"
	default:
		return "Unknown key status"
	}
}

// Snapshot is the read-only view of live keys used by presentation layers.
type Snapshot struct {
	Keys     []Key        `json:"keys"`
	Metadata SnapshotMeta `json:"metadata"`
}

// SnapshotMeta summarises a Snapshot. LastGenerated is nil when no key is live.
type SnapshotMeta struct {
	TotalKeys     int        `json:"total_keys"`
	LastGenerated *time.Time `json:"last_generated"`
}
