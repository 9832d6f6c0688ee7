package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shestoi/order-platform/internal/repository"
)

// Store реализует все контракты хранилища в памяти.
// Используется в тестах и для локальной разработки без PostgreSQL.
// Commit атомарен: сначала валидация конфликтов, потом применение всех записей.
type Store struct {
	mu         sync.RWMutex
	events     map[uuid.UUID][]repository.EventRecord // по агрегату, отсортированы по версии
	snapshots  map[uuid.UUID]repository.SnapshotRecord
	outbox     []repository.OutboxRecord
	dedup      map[string]repository.DedupRecord
	readModels map[string]repository.ReadModelRecord
}

// NewStore создаёт пустой in-memory store
func NewStore() *Store {
	return &Store{
		events:     make(map[uuid.UUID][]repository.EventRecord),
		snapshots:  make(map[uuid.UUID]repository.SnapshotRecord),
		dedup:      make(map[string]repository.DedupRecord),
		readModels: make(map[string]repository.ReadModelRecord),
	}
}

// Append сохраняет событие; пара (aggregateId, version) уникальна
func (s *Store) Append(ctx context.Context, record repository.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(record)
}

func (s *Store) appendLocked(record repository.EventRecord) error {
	for _, existing := range s.events[record.AggregateID] {
		if existing.Version == record.Version {
			return repository.ErrConcurrencyConflict
		}
	}
	events := append(s.events[record.AggregateID], record)
	sort.Slice(events, func(i, j int) bool { return events[i].Version < events[j].Version })
	s.events[record.AggregateID] = events
	return nil
}

// FindByAggregate возвращает события агрегата по возрастанию версии
func (s *Store) FindByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]repository.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]repository.EventRecord(nil), s.events[aggregateID]...), nil
}

// FindByOccurredAtRange возвращает события всех агрегатов в диапазоне времени,
// отсортированные по occurred_at
func (s *Store) FindByOccurredAtRange(ctx context.Context, from, to time.Time) ([]repository.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []repository.EventRecord
	for _, events := range s.events {
		for _, record := range events {
			if !record.OccurredAt.Before(from) && !record.OccurredAt.After(to) {
				result = append(result, record)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].Version < result[j].Version
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// Save перезаписывает снимок агрегата
func (s *Store) Save(ctx context.Context, record repository.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[record.AggregateID] = record
	return nil
}

// Find возвращает последний снимок или ErrNotFound
func (s *Store) Find(ctx context.Context, aggregateID uuid.UUID) (repository.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return repository.SnapshotRecord{}, repository.ErrNotFound
	}
	return snapshot, nil
}

// Delete удаляет снимок агрегата
func (s *Store) Delete(ctx context.Context, aggregateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, aggregateID)
	return nil
}

// Commit применяет атомарную единицу команды целиком либо никак
func (s *Store) Commit(ctx context.Context, commit repository.CommandCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Валидация до любых изменений
	for _, existing := range s.events[commit.Event.AggregateID] {
		if existing.Version == commit.Event.Version {
			return repository.ErrConcurrencyConflict
		}
	}
	if commit.Dedup != nil {
		if _, exists := s.dedup[commit.Dedup.IdempotencyKey]; exists {
			return repository.ErrDuplicateKey
		}
	}

	if err := s.appendLocked(commit.Event); err != nil {
		return err
	}
	if commit.Snapshot != nil {
		s.snapshots[commit.Snapshot.AggregateID] = *commit.Snapshot
	}
	s.outbox = append(s.outbox, commit.Outbox)
	if commit.Dedup != nil {
		s.dedup[commit.Dedup.IdempotencyKey] = *commit.Dedup
	}
	return nil
}

// FindPending возвращает до limit PENDING строк outbox по возрастанию created_at
func (s *Store) FindPending(ctx context.Context, limit int) ([]repository.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []repository.OutboxRecord
	for _, record := range s.outbox {
		if record.Status == repository.OutboxStatusPending {
			pending = append(pending, record)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkPublished помечает строку outbox опубликованной
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].Status = repository.OutboxStatusPublished
			s.outbox[i].PublishedAt = &publishedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

// MarkFailed помечает строку outbox FAILED с текстом ошибки
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].Status = repository.OutboxStatusFailed
			s.outbox[i].LastError = &lastError
			return nil
		}
	}
	return repository.ErrNotFound
}

// FindByKey возвращает запись дедупликации по ключу или ErrNotFound
func (s *Store) FindByKey(ctx context.Context, idempotencyKey string) (repository.DedupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.dedup[idempotencyKey]
	if !ok {
		return repository.DedupRecord{}, repository.ErrNotFound
	}
	return record, nil
}

// Outbox возвращает копию всех строк outbox (для проверок в тестах)
func (s *Store) Outbox() []repository.OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]repository.OutboxRecord(nil), s.outbox...)
}

// ReadModels реализует repository.ReadModelStore поверх того же Store
type ReadModels struct {
	store *Store
}

// NewReadModels создаёт доступ к read model части store
func NewReadModels(store *Store) *ReadModels {
	return &ReadModels{store: store}
}

// Find возвращает модель по orderId или ErrNotFound
func (r *ReadModels) Find(ctx context.Context, orderID string) (repository.ReadModelRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.readModels[orderID]
	if !ok {
		return repository.ReadModelRecord{}, repository.ErrNotFound
	}
	return record, nil
}

// Save перезаписывает модель вместе с checkpoint-версией
func (r *ReadModels) Save(ctx context.Context, record repository.ReadModelRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.readModels[record.OrderID] = record
	return nil
}

// Delete удаляет модель
func (r *ReadModels) Delete(ctx context.Context, orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	delete(r.store.readModels, orderID)
	return nil
}

// ResetAll очищает read model целиком
func (r *ReadModels) ResetAll(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.readModels = make(map[string]repository.ReadModelRecord)
	return nil
}
