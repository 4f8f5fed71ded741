// Package memory provides an in-memory Store used for development setups
// and tests. Records are deep-copied on the way in and out, so callers
// never share state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/armature-dev/armature/store"
)

// Store holds collections in process memory. Find returns records in
// insertion order unless the query sorts.
type Store struct {
	mu    sync.RWMutex
	data  map[string]map[string]store.Record
	order map[string][]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:  make(map[string]map[string]store.Record),
		order: make(map[string][]string),
	}
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.Clone(rec), nil
}

// Find returns the records matching the query.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	s.mu.RLock()
	recs := make([]store.Record, 0, len(s.order[collection]))
	for _, id := range s.order[collection] {
		recs = append(recs, s.data[collection][id])
	}
	s.mu.RUnlock()

	matched := store.Apply(recs, q)
	out := make([]store.Record, len(matched))
	for i, rec := range matched {
		out[i] = store.Clone(rec)
	}
	return out, nil
}

// Count returns the number of records matching the filter.
func (s *Store) Count(ctx context.Context, collection string, f store.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.data[collection] {
		if store.Match(rec, f) {
			n++
		}
	}
	return n, nil
}

// Insert stores a new record under its id.
func (s *Store) Insert(ctx context.Context, collection string, rec store.Record) error {
	id, _ := rec[store.IDField].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[collection] == nil {
		s.data[collection] = make(map[string]store.Record)
	}
	if _, exists := s.data[collection][id]; exists {
		return store.ErrDuplicateID
	}
	s.data[collection][id] = store.Clone(rec)
	s.order[collection] = append(s.order[collection], id)
	return nil
}

// Update applies changes to an existing record and returns the result.
// A nil change value removes the attribute.
func (s *Store) Update(ctx context.Context, collection, id string, changes store.Record) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for k, v := range changes {
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
	return store.Clone(rec), nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[collection][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.data[collection], id)

	ids := s.order[collection]
	for i, existing := range ids {
		if existing == id {
			s.order[collection] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Close releases all held collections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[string]store.Record)
	s.order = make(map[string][]string)
	return nil
}
