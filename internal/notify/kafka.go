package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"escrow-sync-go/internal/models"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes agreement events keyed by agreement address, so every
// change to one agreement lands on the same partition in order.
type Kafka struct {
	writer *kafka.Writer
	topic  string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, ev models.AgreementEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode agreement event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(strings.ToLower(ev.Agreement.Address)),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
