package progress

import (
	"errors"
	"time"
)

// Well-known event categories.
const (
	CategoryRun        = "run"
	CategorySearch     = "search"
	CategoryExtraction = "extraction"
	CategoryDeepLink   = "deeplink"
	CategorySnapshot   = "snapshot"
)

// Run lifecycle event names.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Event is one recorded pipeline step.
type Event struct {
	// RunID scopes the event to a research run. Empty for process-level events.
	RunID string `json:"run_id,omitempty"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Name identifies the step, e.g. "provider_call" or "extraction_attempt".
	Name string `json:"name"`
	// Category groups related names for sinks.
	Category string `json:"category"`
	// Payload carries flat, JSON-serializable details.
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Name == "" {
		return errors.New("event name is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// String reads a string payload field.
func (e Event) String(key string) string {
	v, _ := e.Payload[key].(string)
	return v
}

// Duration reads a duration payload field. Durations may be recorded either
// as time.Duration or as float seconds.
func (e Event) Duration(key string) time.Duration {
	switch v := e.Payload[key].(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v * float64(time.Second))
	case int64:
		return time.Duration(v)
	default:
		return 0
	}
}

// Int reads an integer payload field recorded as any Go integer or float kind.
func (e Event) Int(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
