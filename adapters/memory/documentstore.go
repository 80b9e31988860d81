// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/artpar/faunagate/ports"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = fmt.Errorf("record %w", ports.ErrNotFound)

// DocumentStore is an in-memory implementation of ports.DocumentStore.
type DocumentStore struct {
	mu      sync.RWMutex
	records map[string]map[string]ports.Record // collection -> id -> record
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		records: make(map[string]map[string]ports.Record),
	}
}

// Get retrieves a record.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (ports.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[collection][id]
	if !ok {
		return ports.Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Put inserts or replaces a record.
func (s *DocumentStore) Put(ctx context.Context, rec ports.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.records[rec.Collection]
	if !ok {
		coll = make(map[string]ports.Record)
		s.records[rec.Collection] = coll
	}
	coll[rec.ID] = cloneRecord(rec)
	return nil
}

// Delete removes a record.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.records[collection]
	if _, ok := coll[id]; !ok {
		return ErrNotFound
	}
	delete(coll, id)
	if len(coll) == 0 {
		delete(s.records, collection)
	}
	return nil
}

// Scan returns every record of a collection ordered by id.
func (s *DocumentStore) Scan(ctx context.Context, collection string) ([]ports.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.records[collection]
	out := make([]ports.Record, 0, len(coll))
	for _, rec := range coll {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Collections returns the names of collections holding records.
func (s *DocumentStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for name := range s.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Reset removes every record.
func (s *DocumentStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]map[string]ports.Record)
	return nil
}

// Count returns the number of records in a collection (for testing).
func (s *DocumentStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[collection])
}

// Records are copied on the way in and out so callers never share maps
// with the store.
func cloneRecord(rec ports.Record) ports.Record {
	out := rec
	out.Doc = cloneValue(rec.Doc).(map[string]any)
	if rec.Credentials != nil {
		out.Credentials = append([]byte(nil), rec.Credentials...)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case time.Time:
		return x
	}
	return v
}

// Ensure interface compliance.
var _ ports.DocumentStore = (*DocumentStore)(nil)
