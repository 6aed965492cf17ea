package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	datasetId uuid.UUID
	events    chan Event
}

type InMemoryBus struct {
	mu     sync.Mutex
	nextId uint64
	subs   map[uint64]*subscription
	closed bool
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[uint64]*subscription)}
}

func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.datasetId != event.DatasetId {
			continue
		}
		select {
		case sub.events <- event:
		default:
			slog.Warn("dropping event for slow subscriber", "dataset_id", event.DatasetId, "type", event.Type)
		}
	}
	return nil
}

func (b *InMemoryBus) Subscribe(ctx context.Context, datasetId uuid.UUID) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make(chan Event, subscriberBuffer)
	if b.closed {
		close(events)
		return events, nil
	}

	id := b.nextId
	b.nextId++
	b.subs[id] = &subscription{datasetId: datasetId, events: events}

	go func() {
		<-ctx.Done()
		b.remove(id)
	}()

	return events, nil
}

func (b *InMemoryBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.events)
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.events)
	}
	b.closed = true
}
