package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа в state machine
type OrderStatus string

const (
	StatusCreated  OrderStatus = "CREATED"
	StatusApproved OrderStatus = "APPROVED"
	StatusRejected OrderStatus = "REJECTED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusShipped  OrderStatus = "SHIPPED"
)

// Order — корень агрегата заказа. Иммутабельное значение:
// обработчики команд не мутируют состояние, а возвращают (следующее состояние, событие).
// Инварианты: TotalAmount == сумма LineTotal всех позиций; Version равен
// версии последнего применённого события; статус достижим только по легальным переходам.
type Order struct {
	ID          uuid.UUID   `json:"orderId"`
	CustomerID  uuid.UUID   `json:"customerId"`
	Status      OrderStatus `json:"status"`
	Items       []OrderItem `json:"items"`
	TotalAmount Money       `json:"totalAmount"`
	Currency    string      `json:"currency"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// CreateOrder — единственная команда, стартующая из пустого состояния.
// Требует хотя бы одну позицию и валидную валюту; валюта всех позиций
// должна совпадать с валютой заказа.
func CreateOrder(orderID, customerID uuid.UUID, items []OrderItem, currency string, now time.Time) (Order, Event, error) {
	if orderID == uuid.Nil {
		return Order{}, nil, NewValidationError("order id is required")
	}
	if customerID == uuid.Nil {
		return Order{}, nil, NewValidationError("customer id is required")
	}
	if len(items) == 0 {
		return Order{}, nil, NewValidationError("order must have at least one item")
	}
	if err := validateCurrency(currency); err != nil {
		return Order{}, nil, err
	}
	for _, item := range items {
		if item.UnitPrice.Currency != currency {
			return Order{}, nil, NewValidationError(
				"item currency %s does not match order currency %s", item.UnitPrice.Currency, currency)
		}
	}

	event := OrderCreated{
		EventMeta:  newEventMeta(orderID, 1, now),
		CustomerID: customerID,
		Items:      append([]OrderItem(nil), items...),
		Currency:   currency,
	}

	next, err := Order{}.Apply(event)
	if err != nil {
		return Order{}, nil, err
	}
	return next, event, nil
}

// Approve переводит заказ CREATED -> APPROVED
func (o Order) Approve(approvedBy uuid.UUID, reason string, now time.Time) (Order, Event, error) {
	if o.Status != StatusCreated {
		return Order{}, nil, newInvalidState(o.Status, "approve")
	}
	if approvedBy == uuid.Nil {
		return Order{}, nil, NewValidationError("approved by is required")
	}

	event := OrderApproved{
		EventMeta:  newEventMeta(o.ID, o.Version+1, now),
		ApprovedBy: approvedBy,
		Reason:     reason,
	}
	return o.applyNext(event)
}

// Reject переводит заказ CREATED -> REJECTED; причина обязательна
func (o Order) Reject(rejectedBy uuid.UUID, reason string, now time.Time) (Order, Event, error) {
	if o.Status != StatusCreated {
		return Order{}, nil, newInvalidState(o.Status, "reject")
	}
	if rejectedBy == uuid.Nil {
		return Order{}, nil, NewValidationError("rejected by is required")
	}
	if reason == "" {
		return Order{}, nil, NewValidationError("rejection reason is required")
	}

	event := OrderRejected{
		EventMeta:  newEventMeta(o.ID, o.Version+1, now),
		RejectedBy: rejectedBy,
		Reason:     reason,
	}
	return o.applyNext(event)
}

// Cancel переводит заказ CREATED/APPROVED -> CANCELED.
// SHIPPED и уже отменённый/отклонённый заказ отменить нельзя.
func (o Order) Cancel(canceledBy uuid.UUID, reason string, now time.Time) (Order, Event, error) {
	if o.Status != StatusCreated && o.Status != StatusApproved {
		return Order{}, nil, newInvalidState(o.Status, "cancel")
	}
	if canceledBy == uuid.Nil {
		return Order{}, nil, NewValidationError("canceled by is required")
	}

	event := OrderCanceled{
		EventMeta:  newEventMeta(o.ID, o.Version+1, now),
		CanceledBy: canceledBy,
		Reason:     reason,
	}
	return o.applyNext(event)
}

// Ship переводит заказ APPROVED -> SHIPPED; трек-номер и перевозчик обязательны
func (o Order) Ship(trackingNumber, carrier string, now time.Time) (Order, Event, error) {
	if o.Status != StatusApproved {
		return Order{}, nil, newInvalidState(o.Status, "ship")
	}
	if trackingNumber == "" {
		return Order{}, nil, NewValidationError("tracking number is required")
	}
	if carrier == "" {
		return Order{}, nil, NewValidationError("carrier is required")
	}

	event := OrderShipped{
		EventMeta:      newEventMeta(o.ID, o.Version+1, now),
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
	}
	return o.applyNext(event)
}

// AddItem добавляет позицию; допустимо только в статусе CREATED
func (o Order) AddItem(item OrderItem, now time.Time) (Order, Event, error) {
	if o.Status != StatusCreated {
		return Order{}, nil, newInvalidState(o.Status, "add item to")
	}
	if item.UnitPrice.Currency != o.Currency {
		return Order{}, nil, NewValidationError(
			"item currency %s does not match order currency %s", item.UnitPrice.Currency, o.Currency)
	}

	event := ItemAdded{
		EventMeta: newEventMeta(o.ID, o.Version+1, now),
		Item:      item,
	}
	return o.applyNext(event)
}

// RemoveItem удаляет позицию по SKU; допустимо только в статусе CREATED
func (o Order) RemoveItem(sku string, now time.Time) (Order, Event, error) {
	if o.Status != StatusCreated {
		return Order{}, nil, newInvalidState(o.Status, "remove item from")
	}
	if sku == "" {
		return Order{}, nil, NewValidationError("sku cannot be empty")
	}

	found := false
	for _, item := range o.Items {
		if item.SKU == sku {
			found = true
			break
		}
	}
	if !found {
		return Order{}, nil, NewValidationError("item with sku %s not found in order", sku)
	}

	event := ItemRemoved{
		EventMeta: newEventMeta(o.ID, o.Version+1, now),
		SKU:       sku,
	}
	return o.applyNext(event)
}

func (o Order) applyNext(event Event) (Order, Event, error) {
	next, err := o.Apply(event)
	if err != nil {
		return Order{}, nil, err
	}
	return next, event, nil
}

// Apply — чистый reducer: событие -> следующее состояние.
// Не идемпотентен: вызывающая сторона обязана подавать события
// строго по одному разу и в порядке версий.
func (o Order) Apply(event Event) (Order, error) {
	meta := event.Meta()

	switch e := event.(type) {
	case OrderCreated:
		items := append([]OrderItem(nil), e.Items...)
		total, err := sumLineTotals(items, e.Currency)
		if err != nil {
			return Order{}, err
		}
		return Order{
			ID:          meta.AggregateID,
			CustomerID:  e.CustomerID,
			Status:      StatusCreated,
			Items:       items,
			TotalAmount: total,
			Currency:    e.Currency,
			Version:     meta.Version,
			CreatedAt:   meta.OccurredAt,
			UpdatedAt:   meta.OccurredAt,
		}, nil

	case OrderApproved:
		return o.advanced(StatusApproved, meta), nil

	case OrderRejected:
		return o.advanced(StatusRejected, meta), nil

	case OrderCanceled:
		return o.advanced(StatusCanceled, meta), nil

	case OrderShipped:
		return o.advanced(StatusShipped, meta), nil

	case ItemAdded:
		next := o.advanced(o.Status, meta)
		next.Items = append(append([]OrderItem(nil), o.Items...), e.Item)
		total, err := sumLineTotals(next.Items, o.Currency)
		if err != nil {
			return Order{}, err
		}
		next.TotalAmount = total
		return next, nil

	case ItemRemoved:
		next := o.advanced(o.Status, meta)
		items := make([]OrderItem, 0, len(o.Items))
		for _, item := range o.Items {
			if item.SKU != e.SKU {
				items = append(items, item)
			}
		}
		next.Items = items
		total, err := sumLineTotals(items, o.Currency)
		if err != nil {
			return Order{}, err
		}
		next.TotalAmount = total
		return next, nil

	default:
		return Order{}, NewValidationError("unknown event type: %s", event.EventType())
	}
}

// advanced копирует состояние с новым статусом, версией и updatedAt
func (o Order) advanced(status OrderStatus, meta EventMeta) Order {
	next := o
	next.Status = status
	next.Version = meta.Version
	next.UpdatedAt = meta.OccurredAt
	return next
}

// sumLineTotals считает TotalAmount как сумму LineTotal позиций
func sumLineTotals(items []OrderItem, currency string) (Money, error) {
	total := ZeroMoney(currency)
	for _, item := range items {
		var err error
		total, err = total.Add(item.LineTotal)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
