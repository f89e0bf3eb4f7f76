// Package memstore is an in-process key store backed by a mutex-guarded map.
// It is meant for tests and throwaway deployments; nothing survives a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	keys   map[string]model.Key // keyed by token
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]model.Key)}
}

func (s *Store) Create(_ context.Context, k *model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.Token]; ok {
		return store.ErrDuplicateToken
	}
	s.nextID++
	k.ID = s.nextID
	s.keys[k.Token] = *k
	return nil
}

func (s *Store) Get(_ context.Context, token string) (*model.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &k, nil
}

func (s *Store) Consume(_ context.Context, token string, now time.Time) (*model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	if k.IsExpiredAt(now) {
		return &k, store.ErrExpired
	}
	if k.IsExhausted() {
		return &k, store.ErrExhausted
	}
	k.UsedCount++
	s.keys[token] = k
	return &k, nil
}

func (s *Store) List(_ context.Context, filter store.Filter, now time.Time) ([]model.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Key, 0, len(s.keys))
	for _, k := range s.keys {
		if filter == store.FilterLive && !k.IsLiveAt(now) {
			continue
		}
		out = append(out, k)
	}
	store.SortRecentFirst(out)
	return out, nil
}

func (s *Store) Search(_ context.Context, query string, limit int, now time.Time) ([]model.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Key
	for _, k := range s.keys {
		if k.IsLiveAt(now) && store.Matches(&k, query) {
			out = append(out, k)
		}
	}
	store.SortRecentFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, k := range s.keys {
		if k.IsExpiredAt(now) {
			delete(s.keys, token)
			n++
		}
	}
	return n, nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]model.Key)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
