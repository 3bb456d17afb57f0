// Package dispatcher fans extraction work out over a bounded worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/queue/memory"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/worker"
)

// Config sizes the pool.
type Config struct {
	Workers   int `mapstructure:"concurrency"`
	QueueSize int `mapstructure:"queue_size"`
}

// Dispatcher runs one worker pool per batch over a shared bounded queue.
type Dispatcher struct {
	cfg       Config
	extractor worker.Extractor
	clock     research.Clock
	logger    *zap.Logger
}

// New creates a Dispatcher. Workers defaults to 5 and QueueSize to twice the
// worker count.
func New(cfg Config, extractor worker.Extractor, clock research.Clock, logger *zap.Logger) (*Dispatcher, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, extractor: extractor, clock: clock, logger: logger}, nil
}

// Workers is the configured pool size.
func (d *Dispatcher) Workers() int { return d.cfg.Workers }

// Process extracts every candidate and returns one Result per processed
// candidate, ordered by input position. Candidates not yet dequeued when ctx
// ends are omitted.
func (d *Dispatcher) Process(ctx context.Context, pass research.Pass, candidates []research.CandidateURL) []worker.Result {
	if len(candidates) == 0 {
		return nil
	}
	queue := memory.NewQueue[worker.Job](d.cfg.QueueSize)
	results := make(chan worker.Result, len(candidates))

	workers := d.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := worker.New(i+1, queue, d.extractor, results, d.clock, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	go func() {
		defer queue.Close()
		for i, c := range candidates {
			if err := d.enqueue(ctx, queue, worker.Job{Index: i, Candidate: c, Pass: pass}); err != nil {
				d.logger.Warn("stop enqueueing", zap.Int("remaining", len(candidates)-i), zap.Error(err))
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	out := make([]worker.Result, 0, len(candidates))
	for res := range results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Index < out[j].Job.Index })
	return out
}

func (d *Dispatcher) enqueue(ctx context.Context, queue *memory.Queue[worker.Job], job worker.Job) error {
	if err := queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
