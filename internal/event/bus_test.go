package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func publish(b Bus, t Type, pipelineID, executionID int64) {
	b.Publish(Event{
		Type:        t,
		PipelineID:  pipelineID,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
	})
}

func TestSubscribeFiltersByPipelineAndType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New()

	ch, err := b.Subscribe(ctx, Filter{
		PipelineID: 1,
		Types:      []Type{TypeStatusChanged},
	})
	require.NoError(t, err)

	publish(b, TypeLogDelta, 1, 10)      // wrong type
	publish(b, TypeStatusChanged, 2, 20) // wrong pipeline
	publish(b, TypeStatusChanged, 1, 10) // match

	select {
	case e := <-ch:
		require.Equal(t, TypeStatusChanged, e.Type)
		require.Equal(t, int64(10), e.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("expected a matching event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e.Type)
	default:
	}
}

func TestSubscribeChannelClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	b := New()
	ch, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// publishing after unsubscribe must not panic
	publish(b, TypeLogDelta, 1, 1)
}
