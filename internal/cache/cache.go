package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Key computes a content key from inputs (e.g., file path + source bytes).
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Memo is a concurrency-safe in-memory cache. A nil *Memo is valid and
// caches nothing.
type Memo[V any] struct {
	mu     sync.Mutex
	items  map[string]V
	hits   int
	misses int
}

func NewMemo[V any]() *Memo[V] {
	return &Memo[V]{items: map[string]V{}}
}

func (m *Memo[V]) Load(key string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

func (m *Memo[V]) Store(key string, v V) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = v
}

// Stats returns hit and miss counts since creation.
func (m *Memo[V]) Stats() (hits, misses int) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

func (m *Memo[V]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
