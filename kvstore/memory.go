package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process ordered key-value store, used in tests and by
// callers who do not need durability across process restarts.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Iterator(_ context.Context, prefix string) (Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: append([]byte(nil), m.data[k]...)})
	}

	return &memoryIterator{entries: entries, idx: -1}, nil
}

type memoryIterator struct {
	entries []Entry
	idx     int
}

func (mi *memoryIterator) Next() bool {
	mi.idx++
	return mi.idx < len(mi.entries)
}

func (mi *memoryIterator) Entry() Entry { return mi.entries[mi.idx] }
func (mi *memoryIterator) Err() error   { return nil }
func (mi *memoryIterator) Close() error { return nil }
