package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/progress"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// PublishSink forwards events to a downstream topic as an audit trail.
// Categories limits forwarding when non-empty.
type PublishSink struct {
	publisher  research.Publisher
	topic      string
	categories map[string]struct{}
	logger     *zap.Logger
}

// NewPublishSink constructs a PublishSink for topic.
func NewPublishSink(pub research.Publisher, topic string, categories []string, logger *zap.Logger) (*PublishSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var allowed map[string]struct{}
	if len(categories) > 0 {
		allowed = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			allowed[c] = struct{}{}
		}
	}
	return &PublishSink{publisher: pub, topic: topic, categories: allowed, logger: logger}, nil
}

// Consume publishes each matching event. Publishing stops at the first error,
// which is returned to the hub for logging.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil {
		return nil
	}
	sent := 0
	for _, evt := range batch {
		if s.categories != nil {
			if _, ok := s.categories[evt.Category]; !ok {
				continue
			}
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish event %s: %w", evt.Name, err)
		}
		sent++
	}
	if sent > 0 {
		s.logger.Debug("events published", zap.String("topic", s.topic), zap.Int("count", sent))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
