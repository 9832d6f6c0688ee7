package projection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/event"
)

func testItem(t *testing.T, sku, price string, qty int) domain.OrderItem {
	t.Helper()

	unit, err := domain.NewMoney(decimal.RequireFromString(price), "USD")
	require.NoError(t, err)
	line, err := unit.Mul(qty)
	require.NoError(t, err)
	item, err := domain.NewOrderItem(sku, "Item "+sku, qty, unit, line)
	require.NoError(t, err)
	return item
}

func encode(t *testing.T, e domain.Event) event.Envelope {
	t.Helper()

	env, err := event.Encode(e, "tester", "")
	require.NoError(t, err)
	return env
}

// orderHistory строит полный жизненный цикл заказа и возвращает envelope-ы
// в порядке версий вместе с финальным состоянием агрегата
func orderHistory(t *testing.T) ([]event.Envelope, domain.Order) {
	t.Helper()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	order, created, err := domain.CreateOrder(uuid.New(), uuid.New(),
		[]domain.OrderItem{testItem(t, "SKU-1", "12.50", 2)}, "USD", now)
	require.NoError(t, err)
	envelopes := []event.Envelope{encode(t, created)}

	var e domain.Event
	order, e, err = order.AddItem(testItem(t, "SKU-2", "3.00", 1), now.Add(time.Minute))
	require.NoError(t, err)
	envelopes = append(envelopes, encode(t, e))

	order, e, err = order.RemoveItem("SKU-1", now.Add(2*time.Minute))
	require.NoError(t, err)
	envelopes = append(envelopes, encode(t, e))

	order, e, err = order.Approve(uuid.New(), "approved", now.Add(3*time.Minute))
	require.NoError(t, err)
	envelopes = append(envelopes, encode(t, e))

	order, e, err = order.Ship("TRACK-42", "DHL", now.Add(4*time.Minute))
	require.NoError(t, err)
	envelopes = append(envelopes, encode(t, e))

	return envelopes, order
}

func TestApply_Lifecycle(t *testing.T) {
	envelopes, order := orderHistory(t)

	var model *OrderReadModel
	var err error
	for _, env := range envelopes {
		model, err = Apply(model, env)
		require.NoError(t, err)
	}

	require.Equal(t, order.ID.String(), model.OrderID)
	require.Equal(t, string(domain.StatusShipped), model.Status)
	require.Equal(t, order.Version, model.Version)
	require.Len(t, model.Items, 1)
	require.Equal(t, "SKU-2", model.Items[0].SKU)
	require.True(t, model.TotalAmount.Equal(decimal.RequireFromString("3.00")))
	require.NotNil(t, model.ApprovedBy)
	require.NotNil(t, model.TrackingNumber)
	require.Equal(t, "TRACK-42", *model.TrackingNumber)
	require.Equal(t, "DHL", *model.Carrier)
	require.Nil(t, model.RejectionReason)
	require.Nil(t, model.CanceledBy)
}

func TestApply_DerivedFields(t *testing.T) {
	now := time.Now().UTC()

	t.Run("rejected sets rejection reason", func(t *testing.T) {
		order, created, err := domain.CreateOrder(uuid.New(), uuid.New(),
			[]domain.OrderItem{testItem(t, "SKU-1", "10.00", 1)}, "USD", now)
		require.NoError(t, err)
		_, rejected, err := order.Reject(uuid.New(), "out of stock", now)
		require.NoError(t, err)

		model, err := Apply(nil, encode(t, created))
		require.NoError(t, err)
		model, err = Apply(model, encode(t, rejected))
		require.NoError(t, err)
		require.Equal(t, string(domain.StatusRejected), model.Status)
		require.NotNil(t, model.RejectionReason)
		require.Equal(t, "out of stock", *model.RejectionReason)
	})

	t.Run("canceled sets canceled by", func(t *testing.T) {
		order, created, err := domain.CreateOrder(uuid.New(), uuid.New(),
			[]domain.OrderItem{testItem(t, "SKU-1", "10.00", 1)}, "USD", now)
		require.NoError(t, err)
		canceler := uuid.New()
		_, canceled, err := order.Cancel(canceler, "changed my mind", now)
		require.NoError(t, err)

		model, err := Apply(nil, encode(t, created))
		require.NoError(t, err)
		model, err = Apply(model, encode(t, canceled))
		require.NoError(t, err)
		require.Equal(t, string(domain.StatusCanceled), model.Status)
		require.NotNil(t, model.CanceledBy)
		require.Equal(t, canceler.String(), *model.CanceledBy)
	})
}

func TestApply_FoldIsPure(t *testing.T) {
	envelopes, _ := orderHistory(t)

	model, err := Apply(nil, envelopes[0])
	require.NoError(t, err)
	before, err := json.Marshal(model)
	require.NoError(t, err)

	// применение следующего события не трогает предыдущую модель
	_, err = Apply(model, envelopes[1])
	require.NoError(t, err)
	after, err := json.Marshal(model)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestApply_ReplayMatchesLive(t *testing.T) {
	envelopes, _ := orderHistory(t)

	var live *OrderReadModel
	var err error
	for _, env := range envelopes {
		live, err = Apply(live, env)
		require.NoError(t, err)
	}

	// replay с нуля обязан дать байт-в-байт ту же модель
	var replayed *OrderReadModel
	for _, env := range envelopes {
		replayed, err = Apply(replayed, env)
		require.NoError(t, err)
	}

	liveJSON, err := json.Marshal(live)
	require.NoError(t, err)
	replayedJSON, err := json.Marshal(replayed)
	require.NoError(t, err)
	require.Equal(t, string(liveJSON), string(replayedJSON))
}

func TestApply_Errors(t *testing.T) {
	envelopes, _ := orderHistory(t)

	t.Run("unknown event type", func(t *testing.T) {
		model, err := Apply(nil, envelopes[0])
		require.NoError(t, err)

		env := envelopes[1]
		env.EventType = "OrderTeleported"
		_, err = Apply(model, env)
		require.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("unknown event type without model", func(t *testing.T) {
		// sentinel обязан вернуться и когда модели для ключа ещё нет,
		// иначе consumer примет событие за retryable и заклинит партицию
		env := envelopes[1]
		env.EventType = "OrderTeleported"
		_, err := Apply(nil, env)
		require.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("non-create event without model", func(t *testing.T) {
		_, err := Apply(nil, envelopes[3])
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown order")
	})

	t.Run("malformed payload", func(t *testing.T) {
		env := envelopes[0]
		env.Payload = json.RawMessage(`{"items": "not-a-list"}`)
		_, err := Apply(nil, env)
		require.Error(t, err)
	})
}

func TestApply_RemoveUnknownSKULeavesItems(t *testing.T) {
	envelopes, _ := orderHistory(t)
	model, err := Apply(nil, envelopes[0])
	require.NoError(t, err)

	payload, err := json.Marshal(event.ItemRemovedPayload{SKU: "SKU-NOPE"})
	require.NoError(t, err)
	env := event.Envelope{
		EventID:     uuid.NewString(),
		AggregateID: model.OrderID,
		EventType:   domain.EventTypeItemRemoved,
		Version:     model.Version + 1,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}

	next, err := Apply(model, env)
	require.NoError(t, err)
	require.Len(t, next.Items, len(model.Items))
	require.True(t, next.TotalAmount.Equal(model.TotalAmount))
}
