package types

import (
	"strings"
	"sync"
)

// Arena interns immutable values keyed by their canonical byte encoding, so
// equal values collapse onto the same index and compare by identity after
// the first encounter. Ordering between two distinct interned values
// compares their encodings lexicographically on every Compare call; the
// result is not cached.
type Arena struct {
	mu    sync.Mutex
	keys  []string
	index map[string]int32
}

// NewArena returns an empty interning arena. One arena is created per
// attribute type (Origin has its own, Product has its own, and so on).
func NewArena() *Arena {
	return &Arena{index: make(map[string]int32)}
}

// Intern returns the stable index for key, creating a new slot the first
// time key is seen.
func (a *Arena) Intern(key string) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.index[key]; ok {
		return idx
	}
	idx := int32(len(a.keys))
	a.keys = append(a.keys, key)
	a.index[key] = idx
	return idx
}

// Compare orders two interned indices by their canonical encodings.
func (a *Arena) Compare(i, j int32) int {
	if i == j {
		return 0
	}
	a.mu.Lock()
	ki, kj := a.keys[i], a.keys[j]
	a.mu.Unlock()
	return strings.Compare(ki, kj)
}

// Key returns the canonical encoding an interned index was created from.
func (a *Arena) Key(i int32) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys[i]
}

// Len reports how many distinct values this arena has interned so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}
