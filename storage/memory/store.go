// Package memory provides an in-memory implementation of the fieldsync store.
// It is the best-effort fallback when the durable SQLite backend cannot be
// opened: the user's actions are kept for the life of the process rather than
// lost, and the degradation is logged loudly at the call site.
package memory

import (
	"context"
	"sort"
	stdSync "sync"

	"github.com/siamtech/fieldsync/mutation"
	"github.com/siamtech/fieldsync/storage"
)

// Store is a goroutine-safe in-memory store.
type Store struct {
	mu        stdSync.RWMutex
	mutations map[string]*mutation.PendingMutation
	assets    map[string]*mutation.OfflineAsset
	closed    bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		mutations: make(map[string]*mutation.PendingMutation),
		assets:    make(map[string]*mutation.OfflineAsset),
	}
}

func key(kind mutation.Kind, targetID string) string {
	return string(kind) + "\x00" + targetID
}

func (s *Store) Put(ctx context.Context, m *mutation.PendingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	cp := *m
	s.mutations[key(m.Kind, m.TargetID)] = &cp
	return nil
}

func (s *Store) GetAll(ctx context.Context, kind mutation.Kind) ([]*mutation.PendingMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	var result []*mutation.PendingMutation
	for _, m := range s.mutations {
		if m.Kind == kind {
			cp := *m
			result = append(result, &cp)
		}
	}
	// ULIDs sort lexicographically by creation time.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) Update(ctx context.Context, m *mutation.PendingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	k := key(m.Kind, m.TargetID)
	if _, ok := s.mutations[k]; !ok {
		return storage.ErrNotFound
	}
	cp := *m
	s.mutations[k] = &cp
	return nil
}

func (s *Store) Remove(ctx context.Context, kind mutation.Kind, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	delete(s.mutations, key(kind, targetID))
	return nil
}

func (s *Store) Count(ctx context.Context, kind mutation.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrStoreClosed
	}
	n := 0
	for _, m := range s.mutations {
		if m.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrStoreClosed
	}
	return len(s.mutations), nil
}

func (s *Store) PutAsset(ctx context.Context, a *mutation.OfflineAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	cp := *a
	cp.Data = append([]byte(nil), a.Data...)
	s.assets[a.SyntheticID] = &cp
	return nil
}

func (s *Store) GetAsset(ctx context.Context, syntheticID string) (*mutation.OfflineAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}
	a, ok := s.assets[syntheticID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	cp.Data = append([]byte(nil), a.Data...)
	return &cp, nil
}

func (s *Store) DeleteAsset(ctx context.Context, syntheticID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	delete(s.assets, syntheticID)
	return nil
}

func (s *Store) ListAssets(ctx context.Context, ownerSurveyID string) ([]*mutation.OfflineAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	var result []*mutation.OfflineAsset
	for _, a := range s.assets {
		if a.OwnerSurveyID == ownerSurveyID {
			cp := *a
			cp.Data = append([]byte(nil), a.Data...)
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ storage.Store = (*Store)(nil)
