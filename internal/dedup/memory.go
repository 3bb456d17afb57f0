// Package dedup tracks URLs already admitted during a run.
package dedup

import (
	"context"
	"sync"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Memory is an in-process seen set.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ research.SeenSet = (*Memory)(nil)

// NewMemory returns an empty set.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// MarkIfNew records key and reports whether it was absent.
func (m *Memory) MarkIfNew(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

// Len returns the number of keys recorded.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
