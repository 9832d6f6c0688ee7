package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/order-platform/internal/repository"
)

// Store реализует command-side контракты хранилища поверх PostgreSQL:
// EventStore, SnapshotStore, CommandStore, OutboxStore, DedupStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore создаёт новый PostgreSQL store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// uniqueViolation — код ошибки PostgreSQL для нарушения уникального констрейнта
const uniqueViolation = "23505"

// mapInsertErr переводит нарушение уникальности в доменные ошибки хранилища.
// Констрейнт (aggregate_id, version) на events — это и есть optimistic lock.
func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "command_deduplication") {
			return repository.ErrDuplicateKey
		}
		return repository.ErrConcurrencyConflict
	}
	return err
}

// Append сохраняет одно событие вне командной транзакции.
// Командный путь использует Commit; Append нужен инструментам обслуживания.
func (s *Store) Append(ctx context.Context, record repository.EventRecord) error {
	_, err := s.pool.Exec(ctx, insertEventSQL,
		record.EventID, record.AggregateID, record.EventType, record.Version,
		record.Payload, record.Metadata, record.OccurredAt, record.TraceID, record.Actor)
	if err != nil {
		return mapInsertErr(err)
	}
	return nil
}

const insertEventSQL = `
	INSERT INTO events (event_id, aggregate_id, event_type, version, payload, metadata, occurred_at, trace_id, actor)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectEventColumns = `
	SELECT event_id, aggregate_id, event_type, version, payload, metadata, occurred_at, trace_id, actor
	FROM events`

// FindByAggregate возвращает все события агрегата по возрастанию версии
func (s *Store) FindByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]repository.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		selectEventColumns+` WHERE aggregate_id = $1 ORDER BY version ASC`,
		aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// FindByOccurredAtRange — глобальный скан по времени для audit/rebuild
func (s *Store) FindByOccurredAtRange(ctx context.Context, from, to time.Time) ([]repository.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		selectEventColumns+` WHERE occurred_at >= $1 AND occurred_at <= $2 ORDER BY occurred_at ASC, version ASC`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]repository.EventRecord, error) {
	records := make([]repository.EventRecord, 0)
	for rows.Next() {
		var record repository.EventRecord
		if err := rows.Scan(
			&record.EventID, &record.AggregateID, &record.EventType, &record.Version,
			&record.Payload, &record.Metadata, &record.OccurredAt, &record.TraceID, &record.Actor,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Save перезаписывает снимок агрегата (upsert по aggregate_id)
func (s *Store) Save(ctx context.Context, record repository.SnapshotRecord) error {
	_, err := s.pool.Exec(ctx, upsertSnapshotSQL,
		record.AggregateID, record.AggregateType, record.Version, record.State, record.CreatedAt)
	return err
}

const upsertSnapshotSQL = `
	INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (aggregate_id) DO UPDATE SET
	  aggregate_type = EXCLUDED.aggregate_type,
	  version = EXCLUDED.version,
	  state = EXCLUDED.state,
	  created_at = EXCLUDED.created_at`

// Find возвращает последний снимок или ErrNotFound
func (s *Store) Find(ctx context.Context, aggregateID uuid.UUID) (repository.SnapshotRecord, error) {
	var record repository.SnapshotRecord
	err := s.pool.QueryRow(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots WHERE aggregate_id = $1`,
		aggregateID).Scan(
		&record.AggregateID, &record.AggregateType, &record.Version, &record.State, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.SnapshotRecord{}, repository.ErrNotFound
		}
		return repository.SnapshotRecord{}, err
	}
	return record, nil
}

// Delete удаляет снимок агрегата
func (s *Store) Delete(ctx context.Context, aggregateID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID)
	return err
}

// Commit записывает результат команды одной транзакцией:
// событие, снимок (если есть), outbox строку и dedup запись (если есть).
// Частичное применение не наблюдаемо: либо всё, либо откат.
func (s *Store) Commit(ctx context.Context, commit repository.CommandCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertEventSQL,
		commit.Event.EventID, commit.Event.AggregateID, commit.Event.EventType, commit.Event.Version,
		commit.Event.Payload, commit.Event.Metadata, commit.Event.OccurredAt, commit.Event.TraceID, commit.Event.Actor,
	); err != nil {
		return mapInsertErr(err)
	}

	if commit.Snapshot != nil {
		if _, err := tx.Exec(ctx, upsertSnapshotSQL,
			commit.Snapshot.AggregateID, commit.Snapshot.AggregateType,
			commit.Snapshot.Version, commit.Snapshot.State, commit.Snapshot.CreatedAt,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (id, aggregate_id, event_type, payload, created_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		commit.Outbox.ID, commit.Outbox.AggregateID, commit.Outbox.EventType,
		commit.Outbox.Payload, commit.Outbox.CreatedAt, commit.Outbox.Status,
	); err != nil {
		return err
	}

	if commit.Dedup != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO command_deduplication (idempotency_key, aggregate_id, command_type, response, processed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			commit.Dedup.IdempotencyKey, commit.Dedup.AggregateID, commit.Dedup.CommandType,
			commit.Dedup.Response, commit.Dedup.ProcessedAt,
		); err != nil {
			return mapInsertErr(err)
		}
	}

	return tx.Commit(ctx)
}

// FindPending возвращает до limit PENDING строк outbox по возрастанию created_at.
// Выборка и смена статуса не атомарны: при нескольких relay-инстансах возможна
// повторная публикация, итоговая гарантия доставки — at-least-once.
func (s *Store) FindPending(ctx context.Context, limit int) ([]repository.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at, published_at, status, last_error
		 FROM outbox
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		repository.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]repository.OutboxRecord, 0)
	for rows.Next() {
		var record repository.OutboxRecord
		if err := rows.Scan(
			&record.ID, &record.AggregateID, &record.EventType, &record.Payload,
			&record.CreatedAt, &record.PublishedAt, &record.Status, &record.LastError,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// MarkPublished помечает строку outbox опубликованной
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3`,
		repository.OutboxStatusPublished, publishedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkFailed помечает строку outbox FAILED с текстом последней ошибки
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = $1, last_error = $2 WHERE id = $3`,
		repository.OutboxStatusFailed, lastError, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindByKey возвращает запись дедупликации по ключу или ErrNotFound
func (s *Store) FindByKey(ctx context.Context, idempotencyKey string) (repository.DedupRecord, error) {
	var record repository.DedupRecord
	err := s.pool.QueryRow(ctx,
		`SELECT idempotency_key, aggregate_id, command_type, response, processed_at
		 FROM command_deduplication WHERE idempotency_key = $1`,
		idempotencyKey).Scan(
		&record.IdempotencyKey, &record.AggregateID, &record.CommandType,
		&record.Response, &record.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.DedupRecord{}, repository.ErrNotFound
		}
		return repository.DedupRecord{}, err
	}
	return record, nil
}
