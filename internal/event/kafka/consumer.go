package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/projection"
	"github.com/shestoi/order-platform/internal/repository"
)

// ProjectionConsumer читает топик событий заказов и сворачивает их
// в read model. Партиционирование по aggregateId гарантирует порядок
// событий одного заказа; exactly-once применение обеспечивается
// checkpoint-версией в строке read model.
type ProjectionConsumer struct {
	logger     *zap.Logger
	reader     *kafka.Reader
	readModels repository.ReadModelStore
	indexer    projection.Indexer
}

// NewProjectionConsumer создаёт новый consumer read-стороны
func NewProjectionConsumer(
	logger *zap.Logger,
	brokers []string,
	groupID, topic string,
	readModels repository.ReadModelStore,
	indexer projection.Indexer,
) *ProjectionConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &ProjectionConsumer{
		logger:     logger,
		reader:     reader,
		readModels: readModels,
		indexer:    indexer,
	}
}

// Start запускает consumer и блокируется до отмены контекста.
// At-least-once: FetchMessage + CommitMessages после успешного применения;
// повторная доставка уже применённого события отфильтровывается по версии.
func (c *ProjectionConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting projection consumer",
		zap.String("topic", c.reader.Config().Topic),
		zap.String("group_id", c.reader.Config().GroupID),
	)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("projection consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message from kafka", zap.Error(err))
			continue
		}

		if c.processMessage(ctx, m) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to commit message offset",
					zap.Error(err),
					zap.Int("partition", m.Partition),
					zap.Int64("offset", m.Offset),
				)
			}
		}
	}
}

// processMessage применяет одно событие к read model.
// Возвращает true, если offset можно коммитить.
func (c *ProjectionConsumer) processMessage(ctx context.Context, m kafka.Message) bool {
	var env event.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.logger.Error("failed to unmarshal event envelope",
			zap.Error(err),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		// poison pill коммитим, чтобы не зациклиться
		return true
	}

	if err := c.Handle(ctx, env); err != nil {
		if errors.Is(err, projection.ErrUnknownEventType) {
			c.logger.Warn("skipping event of unknown type",
				zap.String("event_type", env.EventType),
				zap.String("aggregate_id", env.AggregateID),
			)
			return true
		}
		c.logger.Error("failed to apply event to read model",
			zap.Error(err),
			zap.String("event_type", env.EventType),
			zap.String("aggregate_id", env.AggregateID),
			zap.Int64("version", env.Version),
		)
		// не коммитим: Kafka повторит доставку
		return false
	}
	return true
}

// Handle сворачивает одно событие в read model и переиндексирует её.
// Событие с версией не выше checkpoint-а уже применено и пропускается.
func (c *ProjectionConsumer) Handle(ctx context.Context, env event.Envelope) error {
	var model *projection.OrderReadModel

	record, err := c.readModels.Find(ctx, env.AggregateID)
	switch {
	case err == nil:
		if env.Version <= record.Version {
			c.logger.Debug("event already applied, skipping",
				zap.String("aggregate_id", env.AggregateID),
				zap.Int64("version", env.Version),
				zap.Int64("checkpoint", record.Version),
			)
			return nil
		}
		model = &projection.OrderReadModel{}
		if err := json.Unmarshal(record.Model, model); err != nil {
			return fmt.Errorf("decode read model for %s: %w", env.AggregateID, err)
		}
	case errors.Is(err, repository.ErrNotFound):
		// модели ещё нет, fold стартует с nil
	default:
		return fmt.Errorf("find read model for %s: %w", env.AggregateID, err)
	}

	next, err := projection.Apply(model, env)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode read model for %s: %w", env.AggregateID, err)
	}
	if err := c.readModels.Save(ctx, repository.ReadModelRecord{
		OrderID:   next.OrderID,
		Model:     encoded,
		Version:   next.Version,
		UpdatedAt: next.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("save read model for %s: %w", env.AggregateID, err)
	}

	c.logger.Debug("read model updated",
		zap.String("order_id", next.OrderID),
		zap.String("status", next.Status),
		zap.Int64("version", next.Version),
	)

	// индексация — fire-and-forget с точки зрения fold-а
	if c.indexer != nil {
		if err := c.indexer.IndexOrder(ctx, *next); err != nil {
			c.logger.Error("failed to index read model",
				zap.Error(err),
				zap.String("order_id", next.OrderID),
				zap.Int64("version", next.Version),
			)
		}
	}
	return nil
}

// Close закрывает Kafka reader
func (c *ProjectionConsumer) Close() error {
	c.logger.Info("closing projection consumer")
	return c.reader.Close()
}
