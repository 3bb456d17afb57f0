// Package virality scores social and video items by platform-weighted engagement.
package virality

import (
	"math"
	"sort"
	"strings"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// MaxScore caps every virality score.
const MaxScore = 10.0

// Categories by score.
const (
	CategoryMegaViral = "MEGA_VIRAL"
	CategoryViral     = "VIRAL"
	CategoryTrending  = "TRENDING"
	CategoryPopular   = "POPULAR"
)

// DefaultPlatform keys the fallback weights.
const DefaultPlatform = "default"

// Weights is one row of the platform table.
type Weights struct {
	Views    float64 `mapstructure:"views"`
	Likes    float64 `mapstructure:"likes"`
	Comments float64 `mapstructure:"comments"`
	Shares   float64 `mapstructure:"shares"`
	Divisor  float64 `mapstructure:"divisor"`
}

// DefaultWeights returns the stock platform table.
func DefaultWeights() map[string]Weights {
	social := Weights{Likes: 1, Comments: 5, Shares: 10, Divisor: 10000}
	twitter := Weights{Likes: 2, Comments: 5, Shares: 10, Divisor: 5000}
	return map[string]Weights{
		"youtube":       {Views: 1, Likes: 10, Comments: 20, Divisor: 100000},
		"instagram":     social,
		"facebook":      social,
		"tiktok":        social,
		"linkedin":      social,
		"twitter":       twitter,
		"x":             twitter,
		DefaultPlatform: {Views: 1, Likes: 1, Comments: 5, Shares: 10, Divisor: 10000},
	}
}

// Ranker is pure and safe for concurrent use once built.
type Ranker struct {
	weights map[string]Weights
}

// New builds a Ranker. Entries in table override the defaults per platform.
func New(table map[string]Weights) *Ranker {
	weights := DefaultWeights()
	for platform, w := range table {
		if w.Divisor <= 0 {
			continue
		}
		weights[strings.ToLower(platform)] = w
	}
	return &Ranker{weights: weights}
}

// Score returns the candidate's virality in [0, 10]. Negative counters count as zero.
func (r *Ranker) Score(c research.ViralCandidate) float64 {
	w, ok := r.weights[strings.ToLower(strings.TrimSpace(c.Platform))]
	if !ok {
		w = r.weights[DefaultPlatform]
	}
	m := c.Metrics
	raw := w.Views*nonNegative(m.Views) +
		w.Likes*nonNegative(m.Likes) +
		w.Comments*nonNegative(m.Comments) +
		w.Shares*nonNegative(m.Shares)
	score := raw / w.Divisor
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Min(score, MaxScore)
}

// Category buckets a score.
func Category(score float64) string {
	switch {
	case score >= 9:
		return CategoryMegaViral
	case score >= 7:
		return CategoryViral
	case score >= 5:
		return CategoryTrending
	default:
		return CategoryPopular
	}
}

// Rank scores candidates, drops repeated URLs, and returns the top k by score.
// Ties keep input order. k <= 0 returns every unique candidate.
func (r *Ranker) Rank(candidates []research.ViralCandidate, k int) []research.ViralCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]research.ViralCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := c.URL
		if normalized, err := research.NormalizeURL(c.URL); err == nil {
			key = normalized
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.ViralityScore = r.Score(c)
		c.Category = Category(c.ViralityScore)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ViralityScore > out[j].ViralityScore
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func nonNegative(v int64) float64 {
	if v < 0 {
		return 0
	}
	return float64(v)
}
