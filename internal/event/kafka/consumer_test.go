package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/projection"
	"github.com/shestoi/order-platform/internal/repository/memory"
)

// fakeIndexer запоминает проиндексированные модели и умеет падать
type fakeIndexer struct {
	indexed []projection.OrderReadModel
	fail    bool
}

func (f *fakeIndexer) IndexOrder(ctx context.Context, model projection.OrderReadModel) error {
	if f.fail {
		return errors.New("search engine unavailable")
	}
	f.indexed = append(f.indexed, model)
	return nil
}

func newTestConsumer(store *memory.Store, indexer projection.Indexer) *ProjectionConsumer {
	return &ProjectionConsumer{
		logger:     zap.NewNop(),
		readModels: memory.NewReadModels(store),
		indexer:    indexer,
	}
}

func orderEnvelopes(t *testing.T) []event.Envelope {
	t.Helper()

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	unit, err := domain.NewMoney(decimal.RequireFromString("7.00"), "USD")
	require.NoError(t, err)
	line, err := unit.Mul(2)
	require.NoError(t, err)
	item, err := domain.NewOrderItem("SKU-1", "Widget", 2, unit, line)
	require.NoError(t, err)

	order, created, err := domain.CreateOrder(uuid.New(), uuid.New(), []domain.OrderItem{item}, "USD", now)
	require.NoError(t, err)

	var approved, shipped domain.Event
	order, approved, err = order.Approve(uuid.New(), "ok", now.Add(time.Minute))
	require.NoError(t, err)
	_, shipped, err = order.Ship("TRACK-9", "UPS", now.Add(2*time.Minute))
	require.NoError(t, err)

	var envelopes []event.Envelope
	for _, e := range []domain.Event{created, approved, shipped} {
		env, err := event.Encode(e, "", "")
		require.NoError(t, err)
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func TestProjectionConsumer_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("folds events and indexes each update", func(t *testing.T) {
		store := memory.NewStore()
		indexer := &fakeIndexer{}
		consumer := newTestConsumer(store, indexer)

		envelopes := orderEnvelopes(t)
		for _, env := range envelopes {
			require.NoError(t, consumer.Handle(ctx, env))
		}

		record, err := memory.NewReadModels(store).Find(ctx, envelopes[0].AggregateID)
		require.NoError(t, err)
		require.Equal(t, int64(3), record.Version)

		var model projection.OrderReadModel
		require.NoError(t, json.Unmarshal(record.Model, &model))
		require.Equal(t, string(domain.StatusShipped), model.Status)

		require.Len(t, indexer.indexed, 3)
		require.Equal(t, string(domain.StatusShipped), indexer.indexed[2].Status)
	})

	t.Run("redelivered event is skipped by checkpoint", func(t *testing.T) {
		store := memory.NewStore()
		indexer := &fakeIndexer{}
		consumer := newTestConsumer(store, indexer)

		envelopes := orderEnvelopes(t)
		require.NoError(t, consumer.Handle(ctx, envelopes[0]))
		require.NoError(t, consumer.Handle(ctx, envelopes[1]))

		// at-least-once доставка: то же событие приходит повторно
		require.NoError(t, consumer.Handle(ctx, envelopes[1]))
		require.NoError(t, consumer.Handle(ctx, envelopes[0]))

		record, err := memory.NewReadModels(store).Find(ctx, envelopes[0].AggregateID)
		require.NoError(t, err)
		require.Equal(t, int64(2), record.Version)
		require.Len(t, indexer.indexed, 2)
	})

	t.Run("index failure does not roll back the fold", func(t *testing.T) {
		store := memory.NewStore()
		consumer := newTestConsumer(store, &fakeIndexer{fail: true})

		envelopes := orderEnvelopes(t)
		require.NoError(t, consumer.Handle(ctx, envelopes[0]))

		_, err := memory.NewReadModels(store).Find(ctx, envelopes[0].AggregateID)
		require.NoError(t, err)
	})

	t.Run("unknown event type surfaces sentinel", func(t *testing.T) {
		store := memory.NewStore()
		consumer := newTestConsumer(store, &fakeIndexer{})

		envelopes := orderEnvelopes(t)
		require.NoError(t, consumer.Handle(ctx, envelopes[0]))

		unknown := envelopes[1]
		unknown.EventType = "OrderVaporized"
		err := consumer.Handle(ctx, unknown)
		require.ErrorIs(t, err, projection.ErrUnknownEventType)
	})

	t.Run("unknown event type before first event is still skippable", func(t *testing.T) {
		store := memory.NewStore()
		consumer := newTestConsumer(store, &fakeIndexer{})

		// read model ещё не существует: sentinel всё равно обязан вернуться,
		// иначе сообщение никогда не закоммитится и заблокирует партицию
		unknown := orderEnvelopes(t)[0]
		unknown.EventType = "OrderVaporized"
		err := consumer.Handle(ctx, unknown)
		require.ErrorIs(t, err, projection.ErrUnknownEventType)
	})

	t.Run("replay from scratch matches live consumption", func(t *testing.T) {
		liveStore := memory.NewStore()
		live := newTestConsumer(liveStore, nil)
		envelopes := orderEnvelopes(t)
		for _, env := range envelopes {
			require.NoError(t, live.Handle(ctx, env))
		}

		replayStore := memory.NewStore()
		replayed := newTestConsumer(replayStore, nil)
		for _, env := range envelopes {
			require.NoError(t, replayed.Handle(ctx, env))
		}

		liveRecord, err := memory.NewReadModels(liveStore).Find(ctx, envelopes[0].AggregateID)
		require.NoError(t, err)
		replayRecord, err := memory.NewReadModels(replayStore).Find(ctx, envelopes[0].AggregateID)
		require.NoError(t, err)
		require.Equal(t, liveRecord.Model, replayRecord.Model)
	})
}
