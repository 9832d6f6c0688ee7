package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Статусы записи в outbox
const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusPublished = "PUBLISHED"
	OutboxStatusFailed    = "FAILED"
)

// ErrNotFound возвращается, когда запись не найдена в хранилище
var ErrNotFound = errors.New("record not found")

// ErrConcurrencyConflict возвращается при optimistic-конфликте версий:
// между load и append другой writer уже записал событие с той же версией.
// Вызывающая сторона обязана перечитать агрегат и повторить команду целиком.
// Реальный примитив сериализации — уникальный констрейнт (aggregate_id, version).
var ErrConcurrencyConflict = errors.New("concurrent modification of aggregate")

// ErrDuplicateKey возвращается при конфликте по idempotency key:
// параллельная команда с тем же ключом уже закоммитила свой результат.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// EventRecord — строка event log. Payload содержит JSON
// типо-специфичных полей события, Metadata — опциональный служебный JSON.
type EventRecord struct {
	EventID     uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Version     int64
	Payload     []byte
	Metadata    []byte
	OccurredAt  time.Time
	TraceID     *string
	Actor       *string
}

// SnapshotRecord — последний снимок состояния агрегата.
// Один живой снимок на агрегат; предыдущий перезаписывается, история не хранится.
type SnapshotRecord struct {
	AggregateID   uuid.UUID
	AggregateType string
	Version       int64
	State         []byte
	CreatedAt     time.Time
}

// OutboxRecord — строка transactional outbox. Payload — полный wire envelope,
// готовый к публикации в брокер. Создаётся только в одной транзакции
// с породившим его событием.
type OutboxRecord struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Status      string
	LastError   *string
}

// DedupRecord — запись дедупликации команд по idempotency key.
// Создаётся при первом успешном выполнении команды с ключом, далее read-only.
type DedupRecord struct {
	IdempotencyKey string
	AggregateID    uuid.UUID
	CommandType    string
	Response       []byte
	ProcessedAt    time.Time
}

// ReadModelRecord — строка read model с checkpoint-версией последнего
// применённого события (для exactly-once применения в fold).
type ReadModelRecord struct {
	OrderID   string
	Model     []byte
	Version   int64
	UpdatedAt time.Time
}

// EventStore — append-only журнал доменных событий.
// Update и delete отсутствуют принципиально.
type EventStore interface {
	// Append сохраняет событие по ключу (aggregateId, version).
	// Возвращает ErrConcurrencyConflict, если пара уже существует —
	// молчаливая перезапись запрещена.
	Append(ctx context.Context, record EventRecord) error

	// FindByAggregate возвращает все события агрегата по возрастанию версии
	FindByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]EventRecord, error)

	// FindByOccurredAtRange — глобальный скан по времени для audit/rebuild
	FindByOccurredAtRange(ctx context.Context, from, to time.Time) ([]EventRecord, error)
}

// SnapshotStore — кэш последнего состояния агрегата
type SnapshotStore interface {
	// Save перезаписывает предыдущий снимок агрегата
	Save(ctx context.Context, record SnapshotRecord) error

	// Find возвращает последний снимок или ErrNotFound
	Find(ctx context.Context, aggregateID uuid.UUID) (SnapshotRecord, error)

	// Delete удаляет снимок (используется только rebuild-ом)
	Delete(ctx context.Context, aggregateID uuid.UUID) error
}

// CommandCommit — атомарная единица записи одной команды:
// событие, снимок (опционально), outbox строка и dedup запись (опционально).
// Либо применяется целиком, либо не применяется вовсе.
type CommandCommit struct {
	Event    EventRecord
	Snapshot *SnapshotRecord
	Outbox   OutboxRecord
	Dedup    *DedupRecord
}

// CommandStore выполняет атомарный коммит результата команды
type CommandStore interface {
	Commit(ctx context.Context, commit CommandCommit) error
}

// OutboxStore — доступ relay-я к outbox
type OutboxStore interface {
	// FindPending возвращает до limit PENDING строк по возрастанию created_at
	FindPending(ctx context.Context, limit int) ([]OutboxRecord, error)

	// MarkPublished помечает строку опубликованной с таймстемпом публикации
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error

	// MarkFailed помечает строку FAILED с текстом ошибки; строка ждёт
	// операторского вмешательства
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// DedupStore — чтение записей дедупликации (вставка только через CommandStore.Commit)
type DedupStore interface {
	// FindByKey возвращает запись по ключу или ErrNotFound
	FindByKey(ctx context.Context, idempotencyKey string) (DedupRecord, error)
}

// ReadModelStore — durable keyed состояние projection fold.
// Save обязан атомарно писать модель вместе с checkpoint-версией.
type ReadModelStore interface {
	// Find возвращает текущую модель по orderId или ErrNotFound
	Find(ctx context.Context, orderID string) (ReadModelRecord, error)

	// Save перезаписывает модель и версию последнего применённого события
	Save(ctx context.Context, record ReadModelRecord) error

	// Delete удаляет модель
	Delete(ctx context.Context, orderID string) error

	// ResetAll очищает read model целиком (используется rebuild-ом)
	ResetAll(ctx context.Context) error
}
