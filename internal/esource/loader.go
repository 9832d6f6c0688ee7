package esource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/repository"
)

// DefaultSnapshotInterval — снимок пишется на каждой кратной версии
const DefaultSnapshotInterval = 50

// AggregateType хранится в строке снимка
const AggregateType = "Order"

// Loader восстанавливает текущее состояние агрегата из снимка и хвоста
// событий. Снимок — только ускорение: полный replay с версии 1 обязан
// давать идентичное состояние.
type Loader struct {
	logger    *zap.Logger
	events    repository.EventStore
	snapshots repository.SnapshotStore
	interval  int64
}

// NewLoader создаёт loader; interval <= 0 заменяется дефолтом
func NewLoader(logger *zap.Logger, events repository.EventStore, snapshots repository.SnapshotStore, interval int64) *Loader {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Loader{
		logger:    logger,
		events:    events,
		snapshots: snapshots,
		interval:  interval,
	}
}

// Load восстанавливает агрегат: снимок (если есть) плюс события после него.
// domain.ErrNotFound — только когда нет ни снимка, ни событий.
func (l *Loader) Load(ctx context.Context, aggregateID uuid.UUID) (domain.Order, error) {
	var order domain.Order
	startVersion := int64(1)
	hasSnapshot := false

	snapshot, err := l.snapshots.Find(ctx, aggregateID)
	switch {
	case err == nil:
		order, err = decodeState(snapshot.State)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode snapshot for %s: %w", aggregateID, err)
		}
		startVersion = snapshot.Version + 1
		hasSnapshot = true
		l.logger.Debug("loaded snapshot",
			zap.String("aggregate_id", aggregateID.String()),
			zap.Int64("version", snapshot.Version),
		)
	case errors.Is(err, repository.ErrNotFound):
		// снимка нет, replay с нуля
	default:
		return domain.Order{}, fmt.Errorf("find snapshot for %s: %w", aggregateID, err)
	}

	records, err := l.events.FindByAggregate(ctx, aggregateID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("find events for %s: %w", aggregateID, err)
	}

	replayed := 0
	for _, record := range records {
		if record.Version < startVersion {
			continue
		}
		domainEvent, err := decodeRecord(record)
		if err != nil {
			return domain.Order{}, err
		}
		order, err = order.Apply(domainEvent)
		if err != nil {
			return domain.Order{}, fmt.Errorf("apply event v%d for %s: %w", record.Version, aggregateID, err)
		}
		replayed++
	}

	if replayed == 0 && !hasSnapshot {
		return domain.Order{}, domain.ErrNotFound
	}

	l.logger.Debug("loaded aggregate",
		zap.String("aggregate_id", aggregateID.String()),
		zap.Int("events_replayed", replayed),
		zap.Int64("version", order.Version),
	)
	return order, nil
}

// SnapshotIfDue возвращает снимок для коммита, если версия кратна интервалу,
// иначе nil. Запись снимка — last-writer-wins и никогда не условие корректности.
func (l *Loader) SnapshotIfDue(order domain.Order, now time.Time) (*repository.SnapshotRecord, error) {
	if order.Version%l.interval != 0 {
		return nil, nil
	}
	return l.buildSnapshot(order, now)
}

func (l *Loader) buildSnapshot(order domain.Order, now time.Time) (*repository.SnapshotRecord, error) {
	state, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for %s: %w", order.ID, err)
	}
	return &repository.SnapshotRecord{
		AggregateID:   order.ID,
		AggregateType: AggregateType,
		Version:       order.Version,
		State:         state,
		CreatedAt:     now.UTC(),
	}, nil
}

// Rebuild удаляет снимок и переигрывает все события агрегата с нуля,
// записывая снимки на каждой кратной интервалу версии.
// Используется для восстановления и после миграции формата снимка.
func (l *Loader) Rebuild(ctx context.Context, aggregateID uuid.UUID) error {
	l.logger.Info("rebuilding snapshots", zap.String("aggregate_id", aggregateID.String()))

	if err := l.snapshots.Delete(ctx, aggregateID); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", aggregateID, err)
	}

	records, err := l.events.FindByAggregate(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("find events for %s: %w", aggregateID, err)
	}
	if len(records) == 0 {
		l.logger.Warn("no events found for aggregate", zap.String("aggregate_id", aggregateID.String()))
		return nil
	}

	var order domain.Order
	for _, record := range records {
		domainEvent, err := decodeRecord(record)
		if err != nil {
			return err
		}
		order, err = order.Apply(domainEvent)
		if err != nil {
			return fmt.Errorf("apply event v%d for %s: %w", record.Version, aggregateID, err)
		}

		if order.Version%l.interval == 0 {
			snapshot, err := l.buildSnapshot(order, time.Now())
			if err != nil {
				return err
			}
			if err := l.snapshots.Save(ctx, *snapshot); err != nil {
				return fmt.Errorf("save snapshot for %s: %w", aggregateID, err)
			}
			l.logger.Debug("created snapshot", zap.Int64("version", order.Version))
		}
	}

	l.logger.Info("completed rebuilding snapshots",
		zap.String("aggregate_id", aggregateID.String()),
		zap.Int64("final_version", order.Version),
	)
	return nil
}

// decodeState восстанавливает состояние агрегата из JSON снимка
func decodeState(state []byte) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(state, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// decodeRecord восстанавливает доменное событие из строки event log
func decodeRecord(record repository.EventRecord) (domain.Event, error) {
	env := event.Envelope{
		EventID:     record.EventID.String(),
		AggregateID: record.AggregateID.String(),
		EventType:   record.EventType,
		Version:     record.Version,
		OccurredAt:  record.OccurredAt,
		Payload:     record.Payload,
	}
	domainEvent, err := event.Decode(env)
	if err != nil {
		return nil, fmt.Errorf("decode event v%d for %s: %w", record.Version, record.AggregateID, err)
	}
	return domainEvent, nil
}
