package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSink struct {
	mu       sync.Mutex
	consumed []Event
	closed   bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = append(s.consumed, evt)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Consumed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.consumed))
	copy(out, s.consumed)
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		JobID:     "job-1",
		AccountID: "acct-1",
		TS:        time.Now().UTC(),
		Stage:     stage,
	}
}

// TestHubDeliversToAllSinks verifies each emitted event reaches every sink.
func TestHubDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	first := newStubSink()
	second := newStubSink()
	hub := NewHub(Config{BufferSize: 8}, first, second)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageCompleted))
	hub.Emit(sampleEvent(StageFailed))
	require.Eventually(t, func() bool {
		return len(first.Consumed()) == 2 && len(second.Consumed()) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, StageCompleted, first.Consumed()[0].Stage)
	require.Equal(t, StageFailed, first.Consumed()[1].Stage)
}

// TestHubDiscardsInvalidEvents asserts events failing validation never reach sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageCompleted, TS: time.Now()}) // missing job id
	hub.Emit(Event{JobID: "job-1", Stage: "bogus", TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Consumed())
}

// TestHubCloseDrainsAndClosesSinks asserts Close delivers buffered events and closes every sink.
func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 64}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(sampleEvent(StageCompleted))
	}
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Consumed(), 5)
	require.True(t, sink.closed)

	// Emit after close is a no-op.
	hub.Emit(sampleEvent(StageCompleted))
}

// TestEventValidate covers the stage-specific validation rules.
func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Event{}.Validate())
	require.Error(t, Event{TS: time.Now(), Stage: StageCompleted}.Validate())
	require.NoError(t, Event{TS: time.Now(), Stage: StagePoolError}.Validate())
	require.NoError(t, sampleEvent(StageFailed).Validate())
}
