package notify

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// messageWriter — часть *kafka.Writer, используемая KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в топик Kafka. Ключ сообщения — ID фотографии,
// события одной фотографии попадают в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher создаёт writer для брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish реализует Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.PhotoID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
		Time: e.At,
	})
	if err != nil {
		return fmt.Errorf("запись в Kafka: %w", err)
	}
	return nil
}

// Close закрывает writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
