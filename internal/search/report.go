package search

import "time"

// Outcome classifies one provider call.
type Outcome string

// Provider call outcomes.
const (
	OutcomeOK       Outcome = "ok"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeDisabled Outcome = "disabled"
)

// ProviderReport is the result of one provider call.
type ProviderReport struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Results  int           `json:"results"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// Report summarizes a fanout.
type Report struct {
	Query      string           `json:"query"`
	Providers  []ProviderReport `json:"providers"`
	RawResults int              `json:"raw_results"`
	Duplicates int              `json:"duplicates"`
	Blocked    int              `json:"blocked"`
	Irrelevant int              `json:"irrelevant"`
	Candidates int              `json:"candidates"`
	Duration   time.Duration    `json:"duration"`
}

// Calls returns the number of provider calls that reached the provider.
func (r Report) Calls() int {
	n := 0
	for _, p := range r.Providers {
		if p.Outcome != OutcomeDisabled {
			n++
		}
	}
	return n
}
