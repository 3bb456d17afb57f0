package progress

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Config controls buffering and batching for the Hub. Zero values fall back
// to the defaults below.
type Config struct {
	// BufferSize bounds the queue between Emit and the batching goroutine.
	BufferSize int `mapstructure:"buffer_size"`
	// MaxBatchEvents flushes a batch as soon as it reaches this size.
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	// MaxBatchWait is the longest the first event of a batch waits for delivery.
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`

	BaseContext context.Context `mapstructure:"-"`
	Clock       research.Clock  `mapstructure:"-"`
	Logger      *zap.Logger     `mapstructure:"-"`
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub buffers recorded events and delivers them in batches to every sink.
// Emit and Record never block: when the buffer is full the event is counted
// as dropped. A Hub records process-level events; ForRun scopes it to a run.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	dropWarn  rate.Sometimes
	dropped   atomic.Int64
	dropTotal atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
	stopCh    chan struct{}
	doneCh    chan struct{}
}

var _ research.Recorder = (*Hub)(nil)

// NewHub starts the batching goroutine and returns a Hub ready for events.
// Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		events:   make(chan Event, cfg.BufferSize),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Record implements research.Recorder for events outside any run.
func (h *Hub) Record(name string, payload map[string]any, category string) {
	h.record("", name, payload, category)
}

// ForRun returns a Recorder that stamps every event with runID.
func (h *Hub) ForRun(runID string) research.Recorder {
	return runRecorder{hub: h, runID: runID}
}

type runRecorder struct {
	hub   *Hub
	runID string
}

func (r runRecorder) Record(name string, payload map[string]any, category string) {
	r.hub.record(r.runID, name, payload, category)
}

func (h *Hub) record(runID, name string, payload map[string]any, category string) {
	if h == nil {
		return
	}
	var now time.Time
	if h.cfg.Clock != nil {
		now = h.cfg.Clock.Now()
	} else {
		now = time.Now()
	}
	h.Emit(Event{
		RunID:    runID,
		TS:       now.UTC(),
		Name:     name,
		Category: category,
		Payload:  maps.Clone(payload),
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropTotal.Load()
}

// Emit queues evt for the next batch. Invalid events and events emitted after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("name", evt.Name), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	h.dropTotal.Add(1)
	h.dropWarn.Do(func() {
		h.logger.Warn("progress buffer full, events dropped",
			zap.Int64("dropped", h.dropped.Swap(0)),
			zap.Int("buffer_size", cap(h.events)),
		)
	})
}

// Close stops intake, delivers whatever is buffered, closes every sink and
// waits for the batching goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// loop owns the pending batch. The flush deadline is armed by the first event
// of a batch, so a steady trickle cannot postpone delivery indefinitely.
func (h *Hub) loop() {
	defer close(h.doneCh)

	var (
		pending  []Event
		deadline *time.Timer
		due      <-chan time.Time
	)
	disarm := func() {
		if deadline != nil {
			deadline.Stop()
		}
		deadline, due = nil, nil
	}
	flush := func() {
		disarm()
		if len(pending) > 0 {
			h.deliver(pending)
			pending = nil
		}
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				flush()
			} else if deadline == nil {
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				due = deadline.C
			}
		case <-due:
			flush()
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					pending = append(pending, evt)
					if len(pending) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

// deliver hands batch to all sinks in parallel, each under its own timeout.
// A failing sink is logged and does not affect the others.
func (h *Hub) deliver(batch []Event) {
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, batch); err != nil {
				h.logger.Warn("progress sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(batch)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
