package domain

import (
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий заказа. Дискриминатор хранится в event log,
// в outbox payload и в wire-событии Kafka.
const (
	EventTypeOrderCreated  = "OrderCreated"
	EventTypeOrderApproved = "OrderApproved"
	EventTypeOrderRejected = "OrderRejected"
	EventTypeOrderCanceled = "OrderCanceled"
	EventTypeOrderShipped  = "OrderShipped"
	EventTypeItemAdded     = "ItemAdded"
	EventTypeItemRemoved   = "ItemRemoved"
)

// EventMeta — общие поля каждого доменного события.
// Version строго равен current+1 на момент создания события,
// значения version одного агрегата уникальны и непрерывны начиная с 1.
type EventMeta struct {
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Version     int64
	OccurredAt  time.Time
}

// Meta возвращает общие поля события
func (m EventMeta) Meta() EventMeta { return m }

// Event — доменное событие заказа: tagged union из 7 вариантов.
// Reducer (Order.Apply) и projection fold матчат EventType исчерпывающе —
// новый тип события обязан быть добавлен в оба места.
type Event interface {
	Meta() EventMeta
	EventType() string
}

// OrderCreated — заказ создан
type OrderCreated struct {
	EventMeta
	CustomerID uuid.UUID
	Items      []OrderItem
	Currency   string
}

func (OrderCreated) EventType() string { return EventTypeOrderCreated }

// OrderApproved — заказ согласован
type OrderApproved struct {
	EventMeta
	ApprovedBy uuid.UUID
	Reason     string
}

func (OrderApproved) EventType() string { return EventTypeOrderApproved }

// OrderRejected — заказ отклонён
type OrderRejected struct {
	EventMeta
	RejectedBy uuid.UUID
	Reason     string
}

func (OrderRejected) EventType() string { return EventTypeOrderRejected }

// OrderCanceled — заказ отменён
type OrderCanceled struct {
	EventMeta
	CanceledBy uuid.UUID
	Reason     string
}

func (OrderCanceled) EventType() string { return EventTypeOrderCanceled }

// OrderShipped — заказ отгружен
type OrderShipped struct {
	EventMeta
	TrackingNumber string
	Carrier        string
}

func (OrderShipped) EventType() string { return EventTypeOrderShipped }

// ItemAdded — позиция добавлена в заказ
type ItemAdded struct {
	EventMeta
	Item OrderItem
}

func (ItemAdded) EventType() string { return EventTypeItemAdded }

// ItemRemoved — позиция удалена из заказа
type ItemRemoved struct {
	EventMeta
	SKU string
}

func (ItemRemoved) EventType() string { return EventTypeItemRemoved }

// newEventMeta создаёт метаданные следующего события для агрегата
func newEventMeta(aggregateID uuid.UUID, version int64, now time.Time) EventMeta {
	return EventMeta{
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		Version:     version,
		OccurredAt:  now.UTC(),
	}
}
