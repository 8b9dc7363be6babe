package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process. Documents are stored encoded so
// that reads never alias caller maps and behave like the Postgres store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte), now: time.Now}
}

// WithClock overrides the server timestamp source.
func (m *MemoryStore) WithClock(fn func() time.Time) *MemoryStore {
	m.now = fn
	return m
}

func (m *MemoryStore) Put(ctx context.Context, collection, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(collection, id); err != nil {
		return err
	}
	raw, err := EncodeDocument(doc, m.now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.data[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.data[collection] = coll
	}
	coll[id] = raw
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	raw, ok := m.data[collection][id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: id, Data: doc}, nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make([][]byte, len(filters))
	for i, f := range filters {
		if err := CheckField(f.Field); err != nil {
			return nil, err
		}
		v, err := EncodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		want[i] = v
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for id, raw := range m.data[collection] {
		doc, err := DecodeDocument(raw)
		if err != nil {
			return nil, err
		}
		if matches(doc, filters, want) {
			out = append(out, Snapshot{ID: id, Data: doc})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return err
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := EncodeDocument(doc, m.now())
	if err != nil {
		return err
	}
	m.data[collection][id] = merged
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.data[collection], id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Count returns the number of documents in collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

func matches(doc Document, filters []Filter, want [][]byte) bool {
	for i, f := range filters {
		v, ok := doc[f.Field]
		if !ok {
			return false
		}
		got, err := json.Marshal(v)
		if err != nil || !bytes.Equal(got, want[i]) {
			return false
		}
	}
	return true
}
