package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/events"
)

// LogSink emits structured logs for debugging job lifecycle streams. It is
// useful during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt events.Event) error {
	s.logger.Info("job lifecycle event",
		zap.String("job_id", evt.JobID),
		zap.String("account_id", evt.AccountID),
		zap.String("stage", string(evt.Stage)),
		zap.Duration("dur", evt.Dur),
		zap.String("note", evt.Note),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
