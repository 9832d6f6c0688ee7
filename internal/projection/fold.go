package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/event"
)

// ErrUnknownEventType — событие с незнакомым типом. Вызывающая сторона
// логирует warning и оставляет read model без изменений.
var ErrUnknownEventType = errors.New("unknown event type")

// Apply — чистый keyed fold: (текущая модель, событие) -> новая модель.
// Повторяет семантику доменного reducer-а независимо, не обращаясь к
// агрегату. model == nil означает, что модели для ключа ещё нет.
func Apply(model *OrderReadModel, env event.Envelope) (*OrderReadModel, error) {
	switch env.EventType {
	case domain.EventTypeOrderCreated:
		var p event.CreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return &OrderReadModel{
			OrderID:     p.OrderID,
			CustomerID:  p.CustomerID,
			Status:      string(domain.StatusCreated),
			Items:       p.Items,
			TotalAmount: p.TotalAmount.Amount,
			Currency:    p.Currency,
			Version:     env.Version,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   env.OccurredAt,
		}, nil
	}

	// незнакомый тип отсекается до проверки модели: вызывающая сторона
	// обязана пропустить его с warning-ом независимо от того, есть ли
	// уже модель для этого ключа
	if !knownEventType(env.EventType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}

	if model == nil {
		return nil, fmt.Errorf("event %s v%d for unknown order %s", env.EventType, env.Version, env.AggregateID)
	}
	next := *model
	next.Items = append([]domain.OrderItem(nil), model.Items...)
	next.Version = env.Version
	next.UpdatedAt = env.OccurredAt

	switch env.EventType {
	case domain.EventTypeOrderApproved:
		var p event.ApprovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		next.Status = string(domain.StatusApproved)
		next.ApprovedBy = &p.ApprovedBy

	case domain.EventTypeOrderRejected:
		var p event.RejectedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		next.Status = string(domain.StatusRejected)
		next.RejectionReason = &p.Reason

	case domain.EventTypeOrderCanceled:
		var p event.CanceledPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		next.Status = string(domain.StatusCanceled)
		next.CanceledBy = &p.CanceledBy

	case domain.EventTypeOrderShipped:
		var p event.ShippedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		next.Status = string(domain.StatusShipped)
		next.TrackingNumber = &p.TrackingNumber
		next.Carrier = &p.Carrier

	case domain.EventTypeItemAdded:
		var p event.ItemAddedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		next.Items = append(next.Items, p.Item)
		next.TotalAmount = sumLineTotals(next.Items)

	case domain.EventTypeItemRemoved:
		var p event.ItemRemovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		filtered := next.Items[:0:0]
		for _, item := range next.Items {
			if item.SKU != p.SKU {
				filtered = append(filtered, item)
			}
		}
		next.Items = filtered
		next.TotalAmount = sumLineTotals(next.Items)

	}

	return &next, nil
}

func knownEventType(eventType string) bool {
	switch eventType {
	case domain.EventTypeOrderCreated,
		domain.EventTypeOrderApproved,
		domain.EventTypeOrderRejected,
		domain.EventTypeOrderCanceled,
		domain.EventTypeOrderShipped,
		domain.EventTypeItemAdded,
		domain.EventTypeItemRemoved:
		return true
	}
	return false
}

func sumLineTotals(items []domain.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal.Amount)
	}
	return total
}
