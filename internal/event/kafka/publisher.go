package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher публикует wire-события заказов в Kafka.
// Ключ сообщения — aggregateId: Hash balancer кладёт все события одного
// заказа в одну партицию, что гарантирует порядок per-aggregate на read-стороне.
type EventPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewEventPublisher создаёт новый Kafka publisher для событий заказов
func NewEventPublisher(logger *zap.Logger, brokers []string, topic string) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	return &EventPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Publish отправляет одно сообщение в топик событий
func (p *EventPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	message := kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("key", key),
		)
		return err
	}
	return nil
}

// Close закрывает Kafka writer
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
