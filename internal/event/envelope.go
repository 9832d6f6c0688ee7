package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shestoi/order-platform/internal/domain"
)

// Envelope — wire-событие: публикуется relay-ем в Kafka и потребляется
// projection engine. Payload содержит поля конкретного типа события.
type Envelope struct {
	EventID     string          `json:"eventId"`
	AggregateID string          `json:"aggregateId"`
	EventType   string          `json:"eventType"`
	Version     int64           `json:"version"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Actor       *string         `json:"actor,omitempty"`
	TraceID     *string         `json:"traceId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Payload-схемы по одному на тип события. Сериализация явная и типизированная:
// никакого reflection-маппинга, схема валидируется на границе.

// CreatedPayload — payload события OrderCreated
type CreatedPayload struct {
	OrderID     string             `json:"orderId"`
	CustomerID  string             `json:"customerId"`
	Items       []domain.OrderItem `json:"items"`
	Currency    string             `json:"currency"`
	TotalAmount domain.Money       `json:"totalAmount"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ApprovedPayload — payload события OrderApproved
type ApprovedPayload struct {
	ApprovedBy string `json:"approvedBy"`
	Reason     string `json:"reason,omitempty"`
}

// RejectedPayload — payload события OrderRejected
type RejectedPayload struct {
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

// CanceledPayload — payload события OrderCanceled
type CanceledPayload struct {
	CanceledBy string `json:"canceledBy"`
	Reason     string `json:"reason,omitempty"`
}

// ShippedPayload — payload события OrderShipped
type ShippedPayload struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

// ItemAddedPayload — payload события ItemAdded
type ItemAddedPayload struct {
	Item domain.OrderItem `json:"item"`
}

// ItemRemovedPayload — payload события ItemRemoved
type ItemRemovedPayload struct {
	SKU string `json:"sku"`
}

// Encode строит Envelope для доменного события.
// actor и traceID опциональны: пустая строка означает отсутствие.
func Encode(e domain.Event, actor, traceID string) (Envelope, error) {
	payload, err := encodePayload(e)
	if err != nil {
		return Envelope{}, err
	}

	meta := e.Meta()
	env := Envelope{
		EventID:     meta.EventID.String(),
		AggregateID: meta.AggregateID.String(),
		EventType:   e.EventType(),
		Version:     meta.Version,
		OccurredAt:  meta.OccurredAt,
		Payload:     payload,
	}
	if actor != "" {
		env.Actor = &actor
	}
	if traceID != "" {
		env.TraceID = &traceID
	}
	return env, nil
}

func encodePayload(e domain.Event) (json.RawMessage, error) {
	var payload any

	switch ev := e.(type) {
	case domain.OrderCreated:
		total := domain.ZeroMoney(ev.Currency)
		for _, item := range ev.Items {
			var err error
			total, err = total.Add(item.LineTotal)
			if err != nil {
				return nil, err
			}
		}
		payload = CreatedPayload{
			OrderID:     ev.AggregateID.String(),
			CustomerID:  ev.CustomerID.String(),
			Items:       ev.Items,
			Currency:    ev.Currency,
			TotalAmount: total,
			CreatedAt:   ev.OccurredAt,
		}
	case domain.OrderApproved:
		payload = ApprovedPayload{ApprovedBy: ev.ApprovedBy.String(), Reason: ev.Reason}
	case domain.OrderRejected:
		payload = RejectedPayload{RejectedBy: ev.RejectedBy.String(), Reason: ev.Reason}
	case domain.OrderCanceled:
		payload = CanceledPayload{CanceledBy: ev.CanceledBy.String(), Reason: ev.Reason}
	case domain.OrderShipped:
		payload = ShippedPayload{TrackingNumber: ev.TrackingNumber, Carrier: ev.Carrier}
	case domain.ItemAdded:
		payload = ItemAddedPayload{Item: ev.Item}
	case domain.ItemRemoved:
		payload = ItemRemovedPayload{SKU: ev.SKU}
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.EventType())
	}

	return json.Marshal(payload)
}

// Decode восстанавливает доменное событие из envelope.
// Используется при replay журнала (rebuild read model).
func Decode(env Envelope) (domain.Event, error) {
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", env.EventID, err)
	}
	aggregateID, err := uuid.Parse(env.AggregateID)
	if err != nil {
		return nil, fmt.Errorf("invalid aggregate id %q: %w", env.AggregateID, err)
	}

	meta := domain.EventMeta{
		EventID:     eventID,
		AggregateID: aggregateID,
		Version:     env.Version,
		OccurredAt:  env.OccurredAt,
	}

	switch env.EventType {
	case domain.EventTypeOrderCreated:
		var p CreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		customerID, err := uuid.Parse(p.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("invalid customer id %q: %w", p.CustomerID, err)
		}
		return domain.OrderCreated{EventMeta: meta, CustomerID: customerID, Items: p.Items, Currency: p.Currency}, nil

	case domain.EventTypeOrderApproved:
		var p ApprovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		approvedBy, err := uuid.Parse(p.ApprovedBy)
		if err != nil {
			return nil, fmt.Errorf("invalid approver id %q: %w", p.ApprovedBy, err)
		}
		return domain.OrderApproved{EventMeta: meta, ApprovedBy: approvedBy, Reason: p.Reason}, nil

	case domain.EventTypeOrderRejected:
		var p RejectedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		rejectedBy, err := uuid.Parse(p.RejectedBy)
		if err != nil {
			return nil, fmt.Errorf("invalid rejecter id %q: %w", p.RejectedBy, err)
		}
		return domain.OrderRejected{EventMeta: meta, RejectedBy: rejectedBy, Reason: p.Reason}, nil

	case domain.EventTypeOrderCanceled:
		var p CanceledPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		canceledBy, err := uuid.Parse(p.CanceledBy)
		if err != nil {
			return nil, fmt.Errorf("invalid canceler id %q: %w", p.CanceledBy, err)
		}
		return domain.OrderCanceled{EventMeta: meta, CanceledBy: canceledBy, Reason: p.Reason}, nil

	case domain.EventTypeOrderShipped:
		var p ShippedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return domain.OrderShipped{EventMeta: meta, TrackingNumber: p.TrackingNumber, Carrier: p.Carrier}, nil

	case domain.EventTypeItemAdded:
		var p ItemAddedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return domain.ItemAdded{EventMeta: meta, Item: p.Item}, nil

	case domain.EventTypeItemRemoved:
		var p ItemRemovedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		return domain.ItemRemoved{EventMeta: meta, SKU: p.SKU}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", env.EventType)
	}
}
