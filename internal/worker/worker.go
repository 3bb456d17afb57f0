// Package worker runs content extraction for queued candidate URLs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/clock/system"
	"github.com/JakeFAU/web-research-pipeline/internal/extract"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/queue/memory"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Job is one candidate URL queued for extraction. Index is the candidate's
// position in the batch and orders the results.
type Job struct {
	Index     int
	Candidate research.CandidateURL
	Pass      research.Pass
}

// Result is the terminal state of one Job.
type Result struct {
	Job      Job
	Document research.ExtractedDocument
	Outcome  extract.Outcome
	Elapsed  time.Duration
}

// Source yields queued jobs.
type Source interface {
	Dequeue(ctx context.Context) (Job, error)
}

// Extractor turns a candidate into a document.
type Extractor interface {
	Extract(ctx context.Context, candidate research.CandidateURL) (research.ExtractedDocument, extract.Outcome)
}

// Worker consumes queue items and executes the extraction pipeline.
type Worker struct {
	id        int
	queue     Source
	extractor Extractor
	results   chan<- Result
	clock     research.Clock
	logger    *zap.Logger
}

// New constructs a Worker. Results are sent on results, which the caller
// must drain.
func New(id int, queue Source, extractor Extractor, results chan<- Result, clock research.Clock, logger *zap.Logger) *Worker {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		extractor: extractor,
		results:   results,
		clock:     clock,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the queue is closed and drained or
// the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued candidate", zap.String("url", job.Candidate.URL), zap.Int("index", job.Index))
		res := w.process(ctx, job)
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// process isolates a single URL. A panic escaping the extractor is recorded
// as a fetch failure for that URL only.
func (w *Worker) process(ctx context.Context, job Job) (res Result) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	res = Result{Job: job, Outcome: extract.OutcomeFetchFailed}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("extraction panicked",
				zap.String("url", job.Candidate.URL),
				zap.String("panic", fmt.Sprint(r)),
			)
			res = Result{Job: job, Outcome: extract.OutcomeFetchFailed}
		}
		res.Elapsed = w.clock.Now().Sub(start)
		metrics.ObserveDocument(string(job.Pass), string(res.Outcome))
	}()

	doc, outcome := w.extractor.Extract(ctx, job.Candidate)
	if outcome == extract.OutcomeExtracted {
		doc.Pass = job.Pass
	}
	res.Document = doc
	res.Outcome = outcome
	return res
}
