//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/shestoi/order-platform/internal/repository"
)

// setupStore поднимает PostgreSQL в контейнере, накатывает миграции
// и возвращает готовый Store. Используется всеми интеграционными тестами файла.
func setupStore(t *testing.T, ctx context.Context) (*Store, *ReadModels) {
	t.Helper()

	postgresContainer, err := tcpostgres.RunContainer(ctx, //поднимаем контейнер
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("order_user"),
		tcpostgres.WithPassword("order_password"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, postgresContainer.Terminate(ctx)) //останавливаем контейнер и удаляем его
	})

	// ConnectionString(...) собирает правильный DSN (включая реальный порт, который может быть не 5432)
	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Открываем *sql.DB через pgx stdlib для goose миграций
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	// Вычисляем путь к migrations относительно текущего файла
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get current file path")

	// Текущий файл: internal/repository/postgres/repository_integration_test.go
	// Нужно получить: migrations в корне модуля
	testDir := filepath.Dir(filename)    // internal/repository/postgres
	repoDir := filepath.Dir(testDir)     // internal/repository
	internalDir := filepath.Dir(repoDir) // internal
	rootDir := filepath.Dir(internalDir)
	migrationsDir := filepath.Join(rootDir, "migrations")

	// Накатываем миграции через goose
	err = goose.UpContext(ctx, db, migrationsDir)
	require.NoError(t, err, "Failed to run migrations")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewStore(pool), NewReadModels(pool)
}

// eventRecord собирает валидную запись события для теста
func eventRecord(aggregateID uuid.UUID, version int64, eventType string, occurredAt time.Time) repository.EventRecord {
	return repository.EventRecord{
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Version:     version,
		Payload:     []byte(`{"orderId":"` + aggregateID.String() + `"}`),
		OccurredAt:  occurredAt,
	}
}

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	store, readModels := setupStore(t, ctx)
	now := time.Now().UTC().Truncate(time.Microsecond) //postgres хранит микросекунды

	t.Run("Append and FindByAggregate", func(t *testing.T) {
		aggregateID := uuid.New()

		require.NoError(t, store.Append(ctx, eventRecord(aggregateID, 1, "OrderCreated", now)))
		require.NoError(t, store.Append(ctx, eventRecord(aggregateID, 2, "OrderApproved", now.Add(time.Second))))

		records, err := store.FindByAggregate(ctx, aggregateID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, int64(1), records[0].Version)
		require.Equal(t, int64(2), records[1].Version)
		require.Equal(t, "OrderApproved", records[1].EventType)
	})

	t.Run("Append version conflict", func(t *testing.T) {
		aggregateID := uuid.New()

		require.NoError(t, store.Append(ctx, eventRecord(aggregateID, 1, "OrderCreated", now)))

		// вторая запись той же версии нарушает уникальность (aggregate_id, version)
		err := store.Append(ctx, eventRecord(aggregateID, 1, "OrderCanceled", now))
		require.ErrorIs(t, err, repository.ErrConcurrencyConflict)
	})

	t.Run("FindByOccurredAtRange", func(t *testing.T) {
		aggregateID := uuid.New()
		base := now.Add(24 * time.Hour) //отдельное окно, чтобы не цеплять события других подтестов

		require.NoError(t, store.Append(ctx, eventRecord(aggregateID, 1, "OrderCreated", base)))
		require.NoError(t, store.Append(ctx, eventRecord(aggregateID, 2, "OrderApproved", base.Add(time.Hour))))

		records, err := store.FindByOccurredAtRange(ctx, base.Add(-time.Minute), base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "OrderCreated", records[0].EventType)
	})

	t.Run("Snapshot save overwrites and delete", func(t *testing.T) {
		aggregateID := uuid.New()

		_, err := store.Find(ctx, aggregateID)
		require.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, store.Save(ctx, repository.SnapshotRecord{
			AggregateID:   aggregateID,
			AggregateType: "Order",
			Version:       50,
			State:         []byte(`{"version":50}`),
			CreatedAt:     now,
		}))

		// повторный Save перезаписывает снимок, истории нет
		require.NoError(t, store.Save(ctx, repository.SnapshotRecord{
			AggregateID:   aggregateID,
			AggregateType: "Order",
			Version:       100,
			State:         []byte(`{"version":100}`),
			CreatedAt:     now.Add(time.Minute),
		}))

		snapshot, err := store.Find(ctx, aggregateID)
		require.NoError(t, err)
		require.Equal(t, int64(100), snapshot.Version)
		require.JSONEq(t, `{"version":100}`, string(snapshot.State))

		require.NoError(t, store.Delete(ctx, aggregateID))
		_, err = store.Find(ctx, aggregateID)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("Commit writes event outbox and dedup atomically", func(t *testing.T) {
		aggregateID := uuid.New()
		key := "commit-key-1"

		commit := repository.CommandCommit{
			Event: eventRecord(aggregateID, 1, "OrderCreated", now),
			Outbox: repository.OutboxRecord{
				ID:          uuid.New(),
				AggregateID: aggregateID,
				EventType:   "OrderCreated",
				Payload:     []byte(`{"eventType":"OrderCreated"}`),
				CreatedAt:   now,
				Status:      repository.OutboxStatusPending,
			},
			Dedup: &repository.DedupRecord{
				IdempotencyKey: key,
				AggregateID:    aggregateID,
				CommandType:    "CreateOrder",
				Response:       []byte(`{"orderId":"` + aggregateID.String() + `"}`),
				ProcessedAt:    now,
			},
		}
		require.NoError(t, store.Commit(ctx, commit))

		records, err := store.FindByAggregate(ctx, aggregateID)
		require.NoError(t, err)
		require.Len(t, records, 1)

		pending, err := store.FindPending(ctx, 100)
		require.NoError(t, err)
		require.NotEmpty(t, pending)

		dedup, err := store.FindByKey(ctx, key)
		require.NoError(t, err)
		require.Equal(t, "CreateOrder", dedup.CommandType)
	})

	t.Run("Commit rolls back on version conflict", func(t *testing.T) {
		aggregateID := uuid.New()

		first := repository.CommandCommit{
			Event: eventRecord(aggregateID, 1, "OrderCreated", now),
			Outbox: repository.OutboxRecord{
				ID:          uuid.New(),
				AggregateID: aggregateID,
				EventType:   "OrderCreated",
				Payload:     []byte(`{}`),
				CreatedAt:   now,
				Status:      repository.OutboxStatusPending,
			},
		}
		require.NoError(t, store.Commit(ctx, first))

		conflictOutboxID := uuid.New()
		conflict := repository.CommandCommit{
			Event: eventRecord(aggregateID, 1, "OrderApproved", now),
			Outbox: repository.OutboxRecord{
				ID:          conflictOutboxID,
				AggregateID: aggregateID,
				EventType:   "OrderApproved",
				Payload:     []byte(`{}`),
				CreatedAt:   now,
				Status:      repository.OutboxStatusPending,
			},
		}
		err := store.Commit(ctx, conflict)
		require.ErrorIs(t, err, repository.ErrConcurrencyConflict)

		// outbox строка конфликтного коммита не должна пережить rollback
		pending, err := store.FindPending(ctx, 1000)
		require.NoError(t, err)
		for _, record := range pending {
			require.NotEqual(t, conflictOutboxID, record.ID)
		}
	})

	t.Run("Commit rolls back on duplicate idempotency key", func(t *testing.T) {
		aggregateID := uuid.New()
		key := "commit-key-dup"

		makeCommit := func(version int64) repository.CommandCommit {
			return repository.CommandCommit{
				Event: eventRecord(aggregateID, version, "OrderCreated", now),
				Outbox: repository.OutboxRecord{
					ID:          uuid.New(),
					AggregateID: aggregateID,
					EventType:   "OrderCreated",
					Payload:     []byte(`{}`),
					CreatedAt:   now,
					Status:      repository.OutboxStatusPending,
				},
				Dedup: &repository.DedupRecord{
					IdempotencyKey: key,
					AggregateID:    aggregateID,
					CommandType:    "CreateOrder",
					Response:       []byte(`{}`),
					ProcessedAt:    now,
				},
			}
		}

		require.NoError(t, store.Commit(ctx, makeCommit(1)))

		err := store.Commit(ctx, makeCommit(2))
		require.ErrorIs(t, err, repository.ErrDuplicateKey)

		// событие версии 2 не должно было записаться
		records, err := store.FindByAggregate(ctx, aggregateID)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("Outbox mark published and failed", func(t *testing.T) {
		aggregateID := uuid.New()
		publishedID := uuid.New()
		failedID := uuid.New()

		for _, id := range []uuid.UUID{publishedID, failedID} {
			require.NoError(t, store.Commit(ctx, repository.CommandCommit{
				Event: eventRecord(uuid.New(), 1, "OrderCreated", now),
				Outbox: repository.OutboxRecord{
					ID:          id,
					AggregateID: aggregateID,
					EventType:   "OrderCreated",
					Payload:     []byte(`{}`),
					CreatedAt:   now,
					Status:      repository.OutboxStatusPending,
				},
			}))
		}

		require.NoError(t, store.MarkPublished(ctx, publishedID, now))
		require.NoError(t, store.MarkFailed(ctx, failedID, "broker unavailable"))

		// обе строки вышли из PENDING и больше не попадают в выборку relay-я
		pending, err := store.FindPending(ctx, 1000)
		require.NoError(t, err)
		for _, record := range pending {
			require.NotEqual(t, publishedID, record.ID)
			require.NotEqual(t, failedID, record.ID)
		}
	})

	t.Run("FindByKey not found", func(t *testing.T) {
		_, err := store.FindByKey(ctx, "no-such-key")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ReadModels upsert and reset", func(t *testing.T) {
		orderID := uuid.New().String()

		require.NoError(t, readModels.Save(ctx, repository.ReadModelRecord{
			OrderID:   orderID,
			Model:     []byte(`{"status":"CREATED"}`),
			Version:   1,
			UpdatedAt: now,
		}))

		// Save по тому же orderId — upsert, версия двигается вперёд
		require.NoError(t, readModels.Save(ctx, repository.ReadModelRecord{
			OrderID:   orderID,
			Model:     []byte(`{"status":"APPROVED"}`),
			Version:   2,
			UpdatedAt: now.Add(time.Second),
		}))

		record, err := readModels.Find(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, int64(2), record.Version)
		require.JSONEq(t, `{"status":"APPROVED"}`, string(record.Model))

		require.NoError(t, readModels.ResetAll(ctx))
		_, err = readModels.Find(ctx, orderID)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}
