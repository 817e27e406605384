package events

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Publisher mirrors realtime tracking events onto a Kafka topic for
// downstream collaborators (monitoring, push notification fan-out).
// Delivery is best-effort: failures are logged and swallowed so the
// realtime pipeline never stalls on the feed.
type Publisher struct {
	writer *kafka.Writer
}

type feedEvent struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					slog.Warn("Kafka publish failed", "messages", len(messages), "error", err)
				}
			},
		},
	}
}

// Publish enqueues one event keyed by its type. Never blocks beyond the
// writer's internal batching.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) {
	data, err := json.Marshal(feedEvent{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		slog.Warn("Failed to marshal feed event", "type", eventType, "error", err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: data,
	})
	if err != nil {
		slog.Warn("Failed to enqueue feed event", "type", eventType, "error", err)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
