package tracer

import (
	"strings"
	"sync"
)

// Interner canonicalizes address and transaction identifiers to a single
// lowercase string instance, so the visited sets, metadata map, and adjacency
// all key on the same value regardless of caller casing.
type Interner struct {
	mu      sync.Mutex
	strings map[string]string
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{strings: make(map[string]string)}
}

// Intern returns the canonical lowercase instance of s.
func (i *Interner) Intern(s string) string {
	lower := strings.ToLower(s)
	i.mu.Lock()
	defer i.mu.Unlock()
	if canonical, ok := i.strings[lower]; ok {
		return canonical
	}
	i.strings[lower] = lower
	return lower
}

// Len reports how many distinct strings are interned.
func (i *Interner) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.strings)
}
