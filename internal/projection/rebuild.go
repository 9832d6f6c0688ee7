package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/repository"
)

// Indexer пробрасывает обновлённые read model в поисковый движок
type Indexer interface {
	IndexOrder(ctx context.Context, model OrderReadModel) error
}

// Rebuilder перестраивает read model с нуля из event log,
// минуя брокер. Используется maintenance-утилитой при восстановлении
// или после изменения формата модели; query-трафик на это время
// отклоняется maintenance-флагом.
type Rebuilder struct {
	logger     *zap.Logger
	events     repository.EventStore
	readModels repository.ReadModelStore
	indexer    Indexer
}

// NewRebuilder создаёт rebuilder; indexer может быть nil,
// тогда переиндексация пропускается
func NewRebuilder(
	logger *zap.Logger,
	events repository.EventStore,
	readModels repository.ReadModelStore,
	indexer Indexer,
) *Rebuilder {
	return &Rebuilder{
		logger:     logger,
		events:     events,
		readModels: readModels,
		indexer:    indexer,
	}
}

// Rebuild очищает read model и переигрывает события журнала за период
// в порядке occurredAt. Replay обязан дать байт-в-байт те же модели,
// что и живое потребление того же потока.
func (r *Rebuilder) Rebuild(ctx context.Context, from, to time.Time) error {
	r.logger.Info("rebuilding read models",
		zap.Time("from", from),
		zap.Time("to", to),
	)

	if err := r.readModels.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset read models: %w", err)
	}

	records, err := r.events.FindByOccurredAtRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("scan event log: %w", err)
	}

	models := make(map[string]*OrderReadModel)
	for _, record := range records {
		env := event.Envelope{
			EventID:     record.EventID.String(),
			AggregateID: record.AggregateID.String(),
			EventType:   record.EventType,
			Version:     record.Version,
			OccurredAt:  record.OccurredAt,
			Actor:       record.Actor,
			TraceID:     record.TraceID,
			Payload:     record.Payload,
		}

		next, err := Apply(models[env.AggregateID], env)
		if err != nil {
			if errors.Is(err, ErrUnknownEventType) {
				r.logger.Warn("skipping event of unknown type",
					zap.String("event_type", env.EventType),
					zap.String("aggregate_id", env.AggregateID),
				)
				continue
			}
			return fmt.Errorf("apply event v%d for %s: %w", env.Version, env.AggregateID, err)
		}
		models[env.AggregateID] = next
	}

	for _, model := range models {
		encoded, err := json.Marshal(model)
		if err != nil {
			return fmt.Errorf("encode read model %s: %w", model.OrderID, err)
		}
		if err := r.readModels.Save(ctx, repository.ReadModelRecord{
			OrderID:   model.OrderID,
			Model:     encoded,
			Version:   model.Version,
			UpdatedAt: model.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("save read model %s: %w", model.OrderID, err)
		}

		if r.indexer != nil {
			if err := r.indexer.IndexOrder(ctx, *model); err != nil {
				return fmt.Errorf("index read model %s: %w", model.OrderID, err)
			}
		}
	}

	r.logger.Info("read models rebuilt",
		zap.Int("events_replayed", len(records)),
		zap.Int("orders", len(models)),
	)
	return nil
}
