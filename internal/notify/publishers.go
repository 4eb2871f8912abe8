package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mbd888/rekberpay/internal/circuitbreaker"
	"github.com/mbd888/rekberpay/internal/realtime"
	"github.com/mbd888/rekberpay/internal/retry"
)

// HubPublisher pushes notifications to the recipient's live WebSocket connections.
type HubPublisher struct {
	hub *realtime.Hub
}

// NewHubPublisher creates a publisher over hub.
func NewHubPublisher(hub *realtime.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Name() string { return "websocket" }

func (p *HubPublisher) Publish(_ context.Context, n *Notification) error {
	if !p.hub.Connected(n.UserID) {
		return nil
	}
	return p.hub.Send(n.UserID, &realtime.Event{
		Type:      n.Type,
		Timestamp: n.CreatedAt,
		Data:      n,
	})
}

// DefaultTopic is the Kafka topic for notification events.
const DefaultTopic = "rekberpay.notifications"

// ErrBrokerUnavailable is returned while the broker circuit is open.
var ErrBrokerUnavailable = errors.New("notification broker unavailable")

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications as JSON events keyed by recipient, so
// every event for one user lands on the same partition in order.
type KafkaPublisher struct {
	writer  MessageWriter
	topic   string
	breaker *circuitbreaker.Breaker
	retry   retry.Policy
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, topic)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		breaker: circuitbreaker.New(5, 30*time.Second),
		retry:   retry.Policy{Op: "kafka_publish", Attempts: 3, Base: 100 * time.Millisecond, Max: time.Second},
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// event is the wire shape on the notifications topic.
type event struct {
	ID                string    `json:"id"`
	UserID            int64     `json:"userId"`
	Type              string    `json:"type"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	RelatedEntityType string    `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string    `json:"relatedEntityId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, n *Notification) error {
	value, err := json.Marshal(event{
		ID:                n.ID,
		UserID:            n.UserID,
		Type:              n.Type,
		Title:             n.Title,
		Message:           n.Message,
		RelatedEntityType: n.RelatedEntityType,
		RelatedEntityID:   n.RelatedEntityID,
		CreatedAt:         n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(n.UserID, 10)),
		Value: value,
		Time:  n.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}

	err = p.breaker.Do(p.topic, func() error {
		return retry.Do(ctx, p.retry, func(ctx context.Context) error {
			return p.writer.WriteMessages(ctx, msg)
		})
	}, nil)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrBrokerUnavailable
	}
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
