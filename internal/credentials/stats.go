package credentials

import "strings"

// KeyStats describes one credential without exposing its secret.
type KeyStats struct {
	Masked string `json:"key"`
	Uses   int64  `json:"uses"`
}

// ProviderStats summarizes a provider's rotation.
type ProviderStats struct {
	Provider  string     `json:"provider"`
	Keys      int        `json:"keys"`
	TotalUses int64      `json:"total_uses"`
	PerKey    []KeyStats `json:"per_key"`
}

// Stats returns a snapshot for every configured provider.
func (p *Pool) Stats() []ProviderStats {
	if p == nil {
		return nil
	}
	ids := p.Providers()
	out := make([]ProviderStats, 0, len(ids))
	for _, id := range ids {
		p.mu.RLock()
		rot := p.rotations[id]
		p.mu.RUnlock()

		rot.mu.Lock()
		stats := ProviderStats{Provider: id, Keys: len(rot.entries)}
		for _, e := range rot.entries {
			stats.TotalUses += e.uses
			stats.PerKey = append(stats.PerKey, KeyStats{Masked: mask(e.secret), Uses: e.uses})
		}
		rot.mu.Unlock()
		out = append(out, stats)
	}
	return out
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 4) + secret[len(secret)-4:]
}
