package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/esource"
	"github.com/shestoi/order-platform/internal/event"
	"github.com/shestoi/order-platform/internal/repository"
)

// Типы команд — сохраняются в dedup записи для диагностики
const (
	CommandCreateOrder  = "CreateOrder"
	CommandApproveOrder = "ApproveOrder"
	CommandRejectOrder  = "RejectOrder"
	CommandCancelOrder  = "CancelOrder"
	CommandShipOrder    = "ShipOrder"
	CommandAddItem      = "AddItem"
	CommandRemoveItem   = "RemoveItem"
)

// CommandService — обработчик команд над агрегатом заказа.
// Зависит от интерфейсов хранилища, а не от конкретной БД —
// это позволяет подменять их в тестах на in-memory реализацию.
type CommandService struct {
	logger *zap.Logger
	loader *esource.Loader
	store  repository.CommandStore
	dedup  repository.DedupStore
	now    func() time.Time
}

// NewCommandService создаёт новый экземпляр CommandService
func NewCommandService(
	logger *zap.Logger,
	loader *esource.Loader,
	store repository.CommandStore,
	dedup repository.DedupStore,
) *CommandService {
	return &CommandService{
		logger: logger,
		loader: loader,
		store:  store,
		dedup:  dedup,
		now:    time.Now,
	}
}

// CommandMeta — общие для всех команд служебные поля.
// Пустой IdempotencyKey означает, что дедупликация не запрошена.
type CommandMeta struct {
	IdempotencyKey string
	Actor          string
	TraceID        string
}

// OrderSummary — результат выполнения команды.
// Сериализуется в dedup запись, поэтому несёт json-теги.
type OrderSummary struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateOrderInput содержит входные данные для создания заказа
type CreateOrderInput struct {
	CommandMeta
	CustomerID uuid.UUID
	Items      []domain.OrderItem
	Currency   string
}

// CreateOrder создаёт новый заказ: агрегат начинается с пустого состояния,
// событие OrderCreated получает версию 1.
func (s *CommandService) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderSummary, error) {
	if cached, ok, err := s.findCached(ctx, input.IdempotencyKey); err != nil || ok {
		return cached, err
	}

	order, e, err := domain.CreateOrder(uuid.New(), input.CustomerID, input.Items, input.Currency, s.now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, order, e, CommandCreateOrder, input.CommandMeta)
}

// ApproveOrderInput содержит входные данные для подтверждения заказа
type ApproveOrderInput struct {
	CommandMeta
	OrderID    uuid.UUID
	ApprovedBy uuid.UUID
	Reason     string
}

// ApproveOrder переводит заказ CREATED -> APPROVED
func (s *CommandService) ApproveOrder(ctx context.Context, input ApproveOrderInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandApproveOrder, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.Approve(input.ApprovedBy, input.Reason, s.now())
		})
}

// RejectOrderInput содержит входные данные для отклонения заказа
type RejectOrderInput struct {
	CommandMeta
	OrderID    uuid.UUID
	RejectedBy uuid.UUID
	Reason     string
}

// RejectOrder переводит заказ CREATED -> REJECTED
func (s *CommandService) RejectOrder(ctx context.Context, input RejectOrderInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandRejectOrder, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.Reject(input.RejectedBy, input.Reason, s.now())
		})
}

// CancelOrderInput содержит входные данные для отмены заказа
type CancelOrderInput struct {
	CommandMeta
	OrderID    uuid.UUID
	CanceledBy uuid.UUID
	Reason     string
}

// CancelOrder переводит заказ CREATED/APPROVED -> CANCELED
func (s *CommandService) CancelOrder(ctx context.Context, input CancelOrderInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandCancelOrder, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.Cancel(input.CanceledBy, input.Reason, s.now())
		})
}

// ShipOrderInput содержит входные данные для отгрузки заказа
type ShipOrderInput struct {
	CommandMeta
	OrderID        uuid.UUID
	TrackingNumber string
	Carrier        string
}

// ShipOrder переводит заказ APPROVED -> SHIPPED
func (s *CommandService) ShipOrder(ctx context.Context, input ShipOrderInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandShipOrder, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.Ship(input.TrackingNumber, input.Carrier, s.now())
		})
}

// AddItemInput содержит входные данные для добавления позиции
type AddItemInput struct {
	CommandMeta
	OrderID uuid.UUID
	Item    domain.OrderItem
}

// AddItem добавляет позицию в заказ в статусе CREATED
func (s *CommandService) AddItem(ctx context.Context, input AddItemInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandAddItem, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.AddItem(input.Item, s.now())
		})
}

// RemoveItemInput содержит входные данные для удаления позиции
type RemoveItemInput struct {
	CommandMeta
	OrderID uuid.UUID
	SKU     string
}

// RemoveItem удаляет позицию из заказа в статусе CREATED
func (s *CommandService) RemoveItem(ctx context.Context, input RemoveItemInput) (*OrderSummary, error) {
	return s.mutate(ctx, input.OrderID, CommandRemoveItem, input.CommandMeta,
		func(o domain.Order) (domain.Order, domain.Event, error) {
			return o.RemoveItem(input.SKU, s.now())
		})
}

// mutate — общий путь всех команд над существующим заказом:
// дедупликация, загрузка агрегата, вызов обработчика, атомарный коммит.
func (s *CommandService) mutate(
	ctx context.Context,
	orderID uuid.UUID,
	commandType string,
	meta CommandMeta,
	handle func(domain.Order) (domain.Order, domain.Event, error),
) (*OrderSummary, error) {
	if cached, ok, err := s.findCached(ctx, meta.IdempotencyKey); err != nil || ok {
		return cached, err
	}

	order, err := s.loader.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next, e, err := handle(order)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, next, e, commandType, meta)
}

// findCached проверяет idempotency key в dedup store.
// Попадание возвращает кэшированный результат первого выполнения —
// повторная команда не производит никаких мутаций.
func (s *CommandService) findCached(ctx context.Context, key string) (*OrderSummary, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	record, err := s.dedup.FindByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find dedup record %q: %w", key, err)
	}

	var summary OrderSummary
	if err := json.Unmarshal(record.Response, &summary); err != nil {
		return nil, false, fmt.Errorf("decode cached response for key %q: %w", key, err)
	}
	s.logger.Debug("idempotency key hit",
		zap.String("idempotency_key", key),
		zap.String("order_id", summary.OrderID),
	)
	return &summary, true, nil
}

// commit собирает атомарную единицу записи {событие, снимок?, outbox, dedup?}
// и коммитит её одним вызовом. Частичное применение ненаблюдаемо.
func (s *CommandService) commit(
	ctx context.Context,
	order domain.Order,
	e domain.Event,
	commandType string,
	meta CommandMeta,
) (*OrderSummary, error) {
	env, err := event.Encode(e, meta.Actor, meta.TraceID)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.EventType(), err)
	}
	wirePayload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.EventType(), err)
	}

	summary := &OrderSummary{
		OrderID:   order.ID.String(),
		Status:    string(order.Status),
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}

	evMeta := e.Meta()
	commit := repository.CommandCommit{
		Event: repository.EventRecord{
			EventID:     evMeta.EventID,
			AggregateID: evMeta.AggregateID,
			EventType:   e.EventType(),
			Version:     evMeta.Version,
			Payload:     env.Payload,
			OccurredAt:  evMeta.OccurredAt,
			TraceID:     env.TraceID,
			Actor:       env.Actor,
		},
		Outbox: repository.OutboxRecord{
			ID:          uuid.New(),
			AggregateID: evMeta.AggregateID,
			EventType:   e.EventType(),
			Payload:     wirePayload,
			CreatedAt:   s.now().UTC(),
			Status:      repository.OutboxStatusPending,
		},
	}

	commit.Snapshot, err = s.loader.SnapshotIfDue(order, s.now())
	if err != nil {
		return nil, err
	}

	if meta.IdempotencyKey != "" {
		response, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("encode response for key %q: %w", meta.IdempotencyKey, err)
		}
		commit.Dedup = &repository.DedupRecord{
			IdempotencyKey: meta.IdempotencyKey,
			AggregateID:    evMeta.AggregateID,
			CommandType:    commandType,
			Response:       response,
			ProcessedAt:    s.now().UTC(),
		}
	}

	if err := s.store.Commit(ctx, commit); err != nil {
		// гонка по idempotency key: параллельная команда с тем же ключом
		// успела первой — возвращаем её кэшированный результат
		if errors.Is(err, repository.ErrDuplicateKey) && meta.IdempotencyKey != "" {
			if cached, ok, cacheErr := s.findCached(ctx, meta.IdempotencyKey); cacheErr == nil && ok {
				return cached, nil
			}
		}
		return nil, fmt.Errorf("commit %s for order %s: %w", commandType, order.ID, err)
	}

	s.logger.Info("command processed",
		zap.String("command", commandType),
		zap.String("order_id", summary.OrderID),
		zap.String("event_type", e.EventType()),
		zap.Int64("version", summary.Version),
	)
	return summary, nil
}
