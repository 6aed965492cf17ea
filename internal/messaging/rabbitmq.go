package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareExchange(channel *amqp.Channel) error {
	return channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
}

// RabbitMQBus publishes events to a topic exchange keyed by dataset id. Each
// subscriber gets its own auto-deleted queue bound to its dataset.
type RabbitMQBus struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	stop       chan struct{}
	destructor sync.Once
}

func NewRabbitMQBus(rabbitMQURL string) (*RabbitMQBus, error) {
	b := &RabbitMQBus{url: rabbitMQURL, stop: make(chan struct{})}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RabbitMQBus) connect() error {
	conn, err := connectToRabbitMQ(b.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareExchange(channel); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", EventsExchange, err)
	}

	b.conn, b.channel = conn, channel
	slog.Info("rabbitmq channel opened and exchange declared", "exchange", EventsExchange)

	go b.handleReconnect(channel)

	return nil
}

func (b *RabbitMQBus) handleReconnect(channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq channel closed")
			return
		}

		slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

		b.connLock.Lock()
		defer b.connLock.Unlock()

		b.channel = nil
		b.conn = nil
		for {
			select {
			case <-b.stop:
				return
			default:
			}
			if b.connect() == nil {
				slog.Info("successfully reconnected to rabbitmq")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-b.stop:
		return
	}
}

func (b *RabbitMQBus) Publish(ctx context.Context, event Event) error {
	b.connLock.RLock()
	defer b.connLock.RUnlock()

	if b.channel == nil || b.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	err = b.channel.PublishWithContext(ctx,
		EventsExchange,
		event.DatasetId.String(),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Type:        event.Type,
			Timestamp:   event.Time,
			Body:        body,
		})
	if err != nil {
		slog.Error("failed to publish event, potential connection issue", "type", event.Type, "error", err)
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	return nil
}

func (b *RabbitMQBus) openSubscription(datasetId uuid.UUID) (*amqp.Channel, <-chan amqp.Delivery, error) {
	b.connLock.RLock()
	defer b.connLock.RUnlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil, nil, fmt.Errorf("rabbitmq connection is closed")
	}

	channel, err := b.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		channel.Close()
		return nil, nil, fmt.Errorf("failed to declare subscriber queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, datasetId.String(), EventsExchange, false, nil); err != nil {
		channel.Close()
		return nil, nil, fmt.Errorf("failed to bind subscriber queue: %w", err)
	}

	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, nil, fmt.Errorf("failed to consume from subscriber queue: %w", err)
	}

	return channel, deliveries, nil
}

// Subscribe ends the subscription when the connection drops; callers
// resubscribe after a reconnect.
func (b *RabbitMQBus) Subscribe(ctx context.Context, datasetId uuid.UUID) (<-chan Event, error) {
	channel, deliveries, err := b.openSubscription(datasetId)
	if err != nil {
		slog.Error("failed to subscribe to events", "dataset_id", datasetId, "error", err)
		return nil, err
	}

	events := make(chan Event, subscriberBuffer)

	go func() {
		defer close(events)
		defer channel.Close() // nolint:errcheck

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(d.Body, &event); err != nil {
					slog.Error("error parsing event", "dataset_id", datasetId, "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (b *RabbitMQBus) Close() {
	b.destructor.Do(func() {
		close(b.stop)

		b.connLock.RLock()
		defer b.connLock.RUnlock()
		if b.conn != nil {
			if err := b.conn.Close(); err != nil {
				slog.Error("error closing rabbitmq connection", "error", err)
			}
		}
	})
}
