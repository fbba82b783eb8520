package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	"github.com/missatjuhvdk1/snapbot/internal/events"
)

// PublisherSink forwards terminal job results to a message publisher so
// downstream consumers learn about completions without polling the store.
// Deferrals and pool errors stay local.
type PublisherSink struct {
	publisher autopost.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for the provided publisher.
func NewPublisherSink(publisher autopost.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// resultMessage is the wire form pushed per terminal job.
type resultMessage struct {
	JobID      string    `json:"job_id"`
	AccountID  string    `json:"account_id"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Consume publishes a message for terminal events and ignores the rest. It
// respects ctx deadlines and returns publish errors verbatim.
func (s *PublisherSink) Consume(ctx context.Context, evt events.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	if evt.Stage != events.StageCompleted && evt.Stage != events.StageFailed {
		return nil
	}
	msg := resultMessage{
		JobID:      evt.JobID,
		AccountID:  evt.AccountID,
		Success:    evt.Stage == events.StageCompleted,
		Error:      evt.Note,
		DurationMS: evt.Dur.Milliseconds(),
		OccurredAt: evt.TS,
	}
	if _, err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		return fmt.Errorf("publish job result: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
