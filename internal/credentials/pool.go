// Package credentials rotates provider secrets in fair round-robin order.
package credentials

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

type entry struct {
	secret string
	uses   int64
}

// rotation owns the secrets and cursor for one provider.
type rotation struct {
	mu      sync.Mutex
	entries []*entry
	cursor  int
}

func (r *rotation) next(provider string) (research.Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return research.Credential{}, false
	}
	e := r.entries[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.entries)
	e.uses++
	return research.Credential{ProviderID: provider, Secret: e.secret, UseCount: e.uses}, true
}

// Pool holds an independent rotation per provider.
type Pool struct {
	mu        sync.RWMutex
	rotations map[string]*rotation
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{rotations: make(map[string]*rotation)}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// Add appends secrets to a provider's rotation. Blank and duplicate secrets are ignored.
func (p *Pool) Add(provider string, secrets ...string) error {
	id := normalizeProvider(provider)
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	p.mu.Lock()
	rot, ok := p.rotations[id]
	if !ok {
		rot = &rotation{}
		p.rotations[id] = rot
	}
	p.mu.Unlock()

	rot.mu.Lock()
	defer rot.mu.Unlock()
	for _, raw := range secrets {
		secret := strings.TrimSpace(raw)
		if secret == "" || rot.contains(secret) {
			continue
		}
		rot.entries = append(rot.entries, &entry{secret: secret})
	}
	return nil
}

func (r *rotation) contains(secret string) bool {
	for _, e := range r.entries {
		if e.secret == secret {
			return true
		}
	}
	return false
}

// Next returns the provider's next credential in cyclic order and bumps its
// use count. The second return is false when the provider has no credentials,
// which callers treat as a disabled capability.
func (p *Pool) Next(provider string) (research.Credential, bool) {
	if p == nil {
		return research.Credential{}, false
	}
	id := normalizeProvider(provider)
	p.mu.RLock()
	rot, ok := p.rotations[id]
	p.mu.RUnlock()
	if !ok {
		return research.Credential{}, false
	}
	return rot.next(id)
}

// Has reports whether provider has at least one credential.
func (p *Pool) Has(provider string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	rot, ok := p.rotations[normalizeProvider(provider)]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	rot.mu.Lock()
	defer rot.mu.Unlock()
	return len(rot.entries) > 0
}

// Reset zeroes use counters and rewinds the cursor for provider.
func (p *Pool) Reset(provider string) {
	if p == nil {
		return
	}
	p.mu.RLock()
	rot, ok := p.rotations[normalizeProvider(provider)]
	p.mu.RUnlock()
	if !ok {
		return
	}
	rot.reset()
}

// ResetAll resets every provider.
func (p *Pool) ResetAll() {
	if p == nil {
		return
	}
	p.mu.RLock()
	rots := make([]*rotation, 0, len(p.rotations))
	for _, rot := range p.rotations {
		rots = append(rots, rot)
	}
	p.mu.RUnlock()
	for _, rot := range rots {
		rot.reset()
	}
}

func (r *rotation) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
	for _, e := range r.entries {
		e.uses = 0
	}
}

// Providers lists providers with at least one credential, sorted.
func (p *Pool) Providers() []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.rotations))
	for id, rot := range p.rotations {
		rot.mu.Lock()
		n := len(rot.entries)
		rot.mu.Unlock()
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
