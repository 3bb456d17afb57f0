package extract

import (
	"sync"
	"time"
)

// StrategyStats aggregates attempts for one strategy.
type StrategyStats struct {
	ID           string        `json:"id"`
	Attempts     int64         `json:"attempts"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	TotalElapsed time.Duration `json:"total_elapsed"`
}

// StatsSnapshot is a point-in-time copy of extraction counters.
type StatsSnapshot struct {
	Strategies  []StrategyStats `json:"strategies"`
	Attempts    int64           `json:"attempts"`
	Successes   int64           `json:"successes"`
	Failures    int64           `json:"failures"`
	SuccessRate float64         `json:"success_rate"`
}

type stats struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*StrategyStats
}

func newStats(ids []string) *stats {
	s := &stats{order: append([]string(nil), ids...)}
	s.reset()
	return s
}

func (s *stats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*StrategyStats, len(s.order))
	for _, id := range s.order {
		s.byID[id] = &StrategyStats{ID: id}
	}
}

func (s *stats) observe(id string, ok bool, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.byID[id]
	if !found {
		st = &StrategyStats{ID: id}
		s.byID[id] = st
		s.order = append(s.order, id)
	}
	st.Attempts++
	st.TotalElapsed += elapsed
	if ok {
		st.Successes++
	} else {
		st.Failures++
	}
}

func (s *stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := StatsSnapshot{Strategies: make([]StrategyStats, 0, len(s.order))}
	for _, id := range s.order {
		st := *s.byID[id]
		out.Strategies = append(out.Strategies, st)
		out.Attempts += st.Attempts
		out.Successes += st.Successes
		out.Failures += st.Failures
	}
	if out.Attempts > 0 {
		out.SuccessRate = float64(out.Successes) / float64(out.Attempts)
	}
	return out
}
