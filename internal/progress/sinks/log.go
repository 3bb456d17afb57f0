package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface. Events are logged at
// debug level except run lifecycle events, which are logged at info.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := make([]zap.Field, 0, len(evt.Payload)+3)
		fields = append(fields,
			zap.String("run_id", evt.RunID),
			zap.String("category", evt.Category),
			zap.Time("ts", evt.TS),
		)
		for k, v := range evt.Payload {
			fields = append(fields, zap.Any(k, v))
		}
		if evt.Category == progress.CategoryRun {
			s.logger.Info(evt.Name, fields...)
			continue
		}
		s.logger.Debug(evt.Name, fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
