package events

import "context"

// Sink consumes lifecycle events one at a time. Implementations must be safe
// for repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// pool can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}
