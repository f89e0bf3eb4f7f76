// Package store defines the key store contract shared by every backend.
//
// A Store exclusively owns key persistence. It is the only component allowed
// to mutate a key's use count or delete keys, and each operation is atomic
// with respect to concurrent callers. Time is passed in by the caller so the
// lifecycle clock stays injectable.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/keydropio/keydrop/internal/model"
)

// Filter selects which keys List returns.
type Filter int

const (
	// FilterAll returns every stored key, including exhausted and expired
	// keys that have not been swept yet.
	FilterAll Filter = iota
	// FilterLive returns only keys that are neither expired nor exhausted
	// at the instant passed to List.
	FilterLive
)

// String returns the filter name used in logs and CLI flags.
func (f Filter) String() string {
	if f == FilterLive {
		return "live"
	}
	return "all"
}

// Store is the key store capability interface.
type Store interface {
	// Create persists k and sets k.ID. It returns ErrDuplicateToken when
	// k.Token is already taken; nothing is written in that case.
	Create(ctx context.Context, k *model.Key) error

	// Get returns the key for token or ErrNotFound.
	Get(ctx context.Context, token string) (*model.Key, error)

	// Consume atomically checks that the key is live at now and increments
	// its use count. On success it returns the key after the increment. When
	// the key exists but cannot be consumed it returns the unchanged key
	// together with ErrExpired or ErrExhausted. Unknown tokens return
	// ErrNotFound.
	Consume(ctx context.Context, token string, now time.Time) (*model.Key, error)

	// List returns keys most recent first.
	List(ctx context.Context, filter Filter, now time.Time) ([]model.Key, error)

	// Search returns up to limit live keys whose name or token contains
	// query, most recent first. Only ASCII letters fold case (see FoldASCII).
	// A limit <= 0 means no limit.
	Search(ctx context.Context, query string, limit int, now time.Time) ([]model.Key, error)

	// SweepExpired deletes every key whose expiry is at or before now and
	// reports how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// Clear deletes every key.
	Clear(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// SortRecentFirst orders keys by creation time descending, breaking ties on
// the higher ID. Backends that cannot sort server-side use it.
func SortRecentFirst(keys []model.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID > keys[j].ID
	})
}
