package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, events <-chan Event) Event {
	select {
	case event, ok := <-events:
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestInMemoryBusRoutesByDataset(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d1, d2 := uuid.New(), uuid.New()
	events1, err := bus.Subscribe(ctx, d1)
	require.NoError(t, err)
	events2, err := bus.Subscribe(ctx, d2)
	require.NoError(t, err)

	runId := uuid.New()
	require.NoError(t, bus.Publish(ctx, Event{Type: PreprocessRunStatus, DatasetId: d1, RecordId: runId, Status: "running"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: ProfileSaved, DatasetId: d2, RecordId: uuid.New()}))

	got := receive(t, events1)
	assert.Equal(t, runId, got.RecordId)
	assert.Equal(t, "running", got.Status)

	assert.Equal(t, ProfileSaved, receive(t, events2).Type)

	select {
	case event := <-events1:
		t.Fatalf("unexpected event %+v", event)
	default:
	}
}

func TestInMemoryBusClosesOnCancel(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestInMemoryBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	datasetId := uuid.New()
	events, err := bus.Subscribe(context.Background(), datasetId)
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: ModelSaved, DatasetId: datasetId}))
	}

	assert.Len(t, events, subscriberBuffer)
}
