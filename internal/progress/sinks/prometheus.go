package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/web-research-pipeline/internal/progress"
)

// PrometheusSink exports pipeline progress via Prometheus. It owns the run
// lifecycle collectors plus a few event-derived histograms.
type PrometheusSink struct {
	events *prometheus.CounterVec

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	providerLatency *prometheus.HistogramVec
	extractedChars  prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_events_total",
			Help: "Recorded pipeline events partitioned by category and name.",
		}, []string{"category", "name"}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Total research runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_runs_completed_total",
			Help: "Total research runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "research_runs_running",
			Help: "Current number of running research runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_provider_latency_seconds",
			Help:    "Search provider call latency partitioned by provider and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"provider", "outcome"}),
		extractedChars: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "research_extracted_chars",
			Help:    "Characters per accepted document.",
			Buckets: prometheus.ExponentialBuckets(250, 2, 9),
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.providerLatency,
		s.extractedChars,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	category := evt.Category
	if category == "" {
		category = "none"
	}
	s.events.WithLabelValues(category, evt.Name).Inc()

	switch evt.Name {
	case progress.EventRunStarted, progress.EventRunCompleted, progress.EventRunFailed:
		s.handleRunEvent(evt)
	case "provider_call":
		provider := evt.String("provider")
		if provider == "" {
			provider = "unknown"
		}
		latency := time.Duration(evt.Int("latency_ms")) * time.Millisecond
		s.providerLatency.WithLabelValues(provider, evt.String("outcome")).Observe(latency.Seconds())
	case "extraction_succeeded":
		if chars := evt.Int("char_length"); chars > 0 {
			s.extractedChars.Observe(float64(chars))
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Name {
	case progress.EventRunStarted:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.EventRunCompleted:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.EventRunFailed:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if ms := evt.Int("elapsed_ms"); ms > 0 {
		s.runDuration.WithLabelValues(label).Observe((time.Duration(ms) * time.Millisecond).Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
