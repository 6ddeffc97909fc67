// Package notify forwards accepted attendance events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by person id so a
// person's events stay ordered within a partition.
type KafkaPublisher struct {
	w   messageWriter
	log *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log: log.With(slog.String("component", "kafka-publisher")),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event schema.AttendanceEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(event.PersonID), Value: value}); err != nil {
		return err
	}
	p.log.Debug("event_published", "event", event.ID, "person", event.PersonID)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
