package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a thread-safe in-memory document store implementing
// DocumentStore. It is intended for tests and prototyping and deliberately
// keeps the implementation simple.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ DocumentStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func docKey(collection, docID string) string {
	return collection + "/" + docID
}

func (m *Memory) Get(_ context.Context, collection, docID string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[docKey(collection, docID)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, collection, docID string, data json.RawMessage) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docKey(collection, docID)] = stored
	return nil
}
