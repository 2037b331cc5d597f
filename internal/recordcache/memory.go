package recordcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/avmeta/harvester/pkg/types"
)

const defaultMaxEntries = 1024

type memoryEntry struct {
	key       string
	record    *types.MergedRecord
	expiresAt time.Time
}

// Memory is an LRU cache with per-entry TTL. Records are stored as-is;
// callers must not mutate what Get returns.
type Memory struct {
	maxEntries int
	ttl        time.Duration

	mu      sync.Mutex
	order   *list.List // front = most recent
	entries map[string]*list.Element

	now func() time.Time
}

func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, number string) (*types.MergedRecord, error) {
	key := Key(number)

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.order.Remove(elem)
		delete(m.entries, key)
		return nil, nil
	}
	m.order.MoveToFront(elem)
	return entry.record, nil
}

func (m *Memory) Set(_ context.Context, number string, record *types.MergedRecord) error {
	key := Key(number)
	expiresAt := m.now().Add(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.record = record
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, record: record, expiresAt: expiresAt})
	for len(m.entries) > m.maxEntries {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the live entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
