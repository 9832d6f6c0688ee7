package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/repository"
	"github.com/shestoi/order-platform/internal/repository/memory"
)

type captureIndexer struct {
	indexed []OrderReadModel
}

func (c *captureIndexer) IndexOrder(ctx context.Context, model OrderReadModel) error {
	c.indexed = append(c.indexed, model)
	return nil
}

func appendEnvelope(t *testing.T, store *memory.Store, e domain.Event) event.Envelope {
	t.Helper()

	env := encode(t, e)
	meta := e.Meta()
	require.NoError(t, store.Append(context.Background(), repository.EventRecord{
		EventID:     meta.EventID,
		AggregateID: meta.AggregateID,
		EventType:   e.EventType(),
		Version:     meta.Version,
		Payload:     env.Payload,
		OccurredAt:  meta.OccurredAt,
	}))
	return env
}

func TestRebuilder_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	readModels := memory.NewReadModels(store)

	// два заказа с разными жизненными циклами
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	firstOrder, firstCreated, err := domain.CreateOrder(
		uuid.New(), uuid.New(),
		[]domain.OrderItem{testItem(t, "SKU-1", "10.00", 1)}, "USD", now)
	require.NoError(t, err)
	appendEnvelope(t, store, firstCreated)

	var e domain.Event
	firstOrder, e, err = firstOrder.Approve(uuid.New(), "ok", now.Add(time.Minute))
	require.NoError(t, err)
	appendEnvelope(t, store, e)

	secondOrder, secondCreated, err := domain.CreateOrder(
		uuid.New(), uuid.New(),
		[]domain.OrderItem{testItem(t, "SKU-2", "4.00", 3)}, "USD", now.Add(2*time.Minute))
	require.NoError(t, err)
	appendEnvelope(t, store, secondCreated)

	_, e, err = secondOrder.Reject(uuid.New(), "fraud check failed", now.Add(3*time.Minute))
	require.NoError(t, err)
	appendEnvelope(t, store, e)

	// мусорная запись, имитирующая старую версию read model
	require.NoError(t, readModels.Save(ctx, repository.ReadModelRecord{
		OrderID: "stale-order",
		Model:   []byte(`{}`),
		Version: 99,
	}))

	indexer := &captureIndexer{}
	rebuilder := NewRebuilder(zap.NewNop(), store, readModels, indexer)
	require.NoError(t, rebuilder.Rebuild(ctx, time.Time{}, now.Add(time.Hour)))

	// старая запись снесена ResetAll-ом
	_, err = readModels.Find(ctx, "stale-order")
	require.ErrorIs(t, err, repository.ErrNotFound)

	firstRecord, err := readModels.Find(ctx, firstOrder.ID.String())
	require.NoError(t, err)
	require.Equal(t, int64(2), firstRecord.Version)

	var firstModel OrderReadModel
	require.NoError(t, json.Unmarshal(firstRecord.Model, &firstModel))
	require.Equal(t, string(domain.StatusApproved), firstModel.Status)

	secondRecord, err := readModels.Find(ctx, secondOrder.ID.String())
	require.NoError(t, err)

	var secondModel OrderReadModel
	require.NoError(t, json.Unmarshal(secondRecord.Model, &secondModel))
	require.Equal(t, string(domain.StatusRejected), secondModel.Status)
	require.NotNil(t, secondModel.RejectionReason)

	require.Len(t, indexer.indexed, 2)
}

func recordFromEnvelope(t *testing.T, env event.Envelope) repository.EventRecord {
	t.Helper()

	return repository.EventRecord{
		EventID:     uuid.MustParse(env.EventID),
		AggregateID: uuid.MustParse(env.AggregateID),
		EventType:   env.EventType,
		Version:     env.Version,
		Payload:     env.Payload,
		OccurredAt:  env.OccurredAt,
	}
}

func TestRebuilder_MatchesIncrementalFold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	readModels := memory.NewReadModels(store)

	envelopes, _ := orderHistory(t)
	var live *OrderReadModel
	var err error
	for _, env := range envelopes {
		// событие попадает и в журнал, и в живой fold
		record := recordFromEnvelope(t, env)
		require.NoError(t, store.Append(ctx, record))
		live, err = Apply(live, env)
		require.NoError(t, err)
	}

	rebuilder := NewRebuilder(zap.NewNop(), store, readModels, nil)
	require.NoError(t, rebuilder.Rebuild(ctx, time.Time{}, time.Now().UTC()))

	rebuilt, err := readModels.Find(ctx, live.OrderID)
	require.NoError(t, err)

	liveJSON, err := json.Marshal(live)
	require.NoError(t, err)
	require.Equal(t, string(liveJSON), string(rebuilt.Model))
}

func TestRebuilder_WindowFiltersEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	readModels := memory.NewReadModels(store)

	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	order, created, err := domain.CreateOrder(uuid.New(), uuid.New(),
		[]domain.OrderItem{testItem(t, "SKU-1", "10.00", 1)}, "USD", now)
	require.NoError(t, err)
	appendEnvelope(t, store, created)

	var e domain.Event
	_, e, err = order.Approve(uuid.New(), "late", now.Add(time.Hour))
	require.NoError(t, err)
	appendEnvelope(t, store, e)

	// окно покрывает только создание
	rebuilder := NewRebuilder(zap.NewNop(), store, readModels, nil)
	require.NoError(t, rebuilder.Rebuild(ctx, now.Add(-time.Minute), now.Add(time.Minute)))

	record, err := readModels.Find(ctx, order.ID.String())
	require.NoError(t, err)
	require.Equal(t, int64(1), record.Version)
}
