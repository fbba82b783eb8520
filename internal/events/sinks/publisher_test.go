package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/missatjuhvdk1/snapbot/internal/events"
	memorypublisher "github.com/missatjuhvdk1/snapbot/internal/publisher/memory"
)

// TestPublisherSinkForwardsTerminalEvents asserts only completed and failed
// jobs produce messages.
func TestPublisherSinkForwardsTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink := NewPublisherSink(pub, "post-results", nil)

	now := time.Now().UTC()
	for _, evt := range []events.Event{
		{JobID: "job-1", AccountID: "acct-1", TS: now, Stage: events.StageCompleted, Dur: 3 * time.Second},
		{JobID: "job-2", AccountID: "acct-2", TS: now, Stage: events.StageDeferred},
		{JobID: "job-3", AccountID: "acct-3", TS: now, Stage: events.StageFailed, Note: "upload surface not found", Dur: time.Second},
		{TS: now, Stage: events.StagePoolError},
	} {
		require.NoError(t, sink.Consume(context.Background(), evt))
	}

	messages := pub.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "post-results", messages[0].Topic)

	var first resultMessage
	raw, err := json.Marshal(messages[0].Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &first))
	require.Equal(t, "job-1", first.JobID)
	require.True(t, first.Success)
	require.Equal(t, int64(3000), first.DurationMS)
}
