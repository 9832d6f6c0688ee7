package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/reqctx"
	"github.com/shestoi/order-platform/internal/service"
)

// CommandHandler содержит HTTP-обработчики команд над заказами.
// Зависит от service слоя, но не знает о деталях хранилища.
type CommandHandler struct {
	logger  *zap.Logger
	service *service.CommandService
}

// NewCommandHandler создаёт новый HTTP handler команд
func NewCommandHandler(logger *zap.Logger, svc *service.CommandService) *CommandHandler {
	return &CommandHandler{
		logger:  logger,
		service: svc,
	}
}

// ItemRequest представляет позицию заказа в HTTP запросе
type ItemRequest struct {
	SKU         *string `json:"sku"`
	ProductName *string `json:"productName"`
	Quantity    *int    `json:"quantity"`
	UnitPrice   *string `json:"unitPrice"`
}

// AddItemRequest представляет HTTP запрос на добавление позиции
type AddItemRequest struct {
	ItemRequest
	Currency *string `json:"currency"`
}

// CreateOrderRequest представляет HTTP запрос на создание заказа
type CreateOrderRequest struct {
	CustomerID *string        `json:"customerId"`
	Currency   *string        `json:"currency"`
	Items      *[]ItemRequest `json:"items"`
}

// ApproveRequest представляет HTTP запрос на подтверждение заказа
type ApproveRequest struct {
	ApprovedBy *string `json:"approvedBy"`
	Reason     string  `json:"reason"`
}

// RejectRequest представляет HTTP запрос на отклонение заказа
type RejectRequest struct {
	RejectedBy *string `json:"rejectedBy"`
	Reason     *string `json:"reason"`
}

// CancelRequest представляет HTTP запрос на отмену заказа
type CancelRequest struct {
	CanceledBy *string `json:"canceledBy"`
	Reason     string  `json:"reason"`
}

// ShipRequest представляет HTTP запрос на отгрузку заказа
type ShipRequest struct {
	TrackingNumber *string `json:"trackingNumber"`
	Carrier        *string `json:"carrier"`
}

// PostOrders обрабатывает POST /orders - создание нового заказа
func (h *CommandHandler) PostOrders(w http.ResponseWriter, r *http.Request) {
	var reqBody CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}

	if reqBody.CustomerID == nil || reqBody.Currency == nil || reqBody.Items == nil || len(*reqBody.Items) == 0 {
		writeError(w, h.logger, domain.NewValidationError("customerId, currency and items are required"))
		return
	}

	customerID, err := uuid.Parse(*reqBody.CustomerID)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("customerId must be a valid uuid"))
		return
	}

	items, err := parseItems(*reqBody.Items, *reqBody.Currency)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	summary, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		CommandMeta: h.commandMeta(r),
		CustomerID:  customerID,
		Items:       items,
		Currency:    *reqBody.Currency,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

// PostOrdersIdApprove обрабатывает POST /orders/{id}/approve
func (h *CommandHandler) PostOrdersIdApprove(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var reqBody ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}
	if reqBody.ApprovedBy == nil {
		writeError(w, h.logger, domain.NewValidationError("approvedBy is required"))
		return
	}
	approvedBy, err := uuid.Parse(*reqBody.ApprovedBy)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("approvedBy must be a valid uuid"))
		return
	}

	summary, err := h.service.ApproveOrder(r.Context(), service.ApproveOrderInput{
		CommandMeta: h.commandMeta(r),
		OrderID:     orderID,
		ApprovedBy:  approvedBy,
		Reason:      reqBody.Reason,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// PostOrdersIdReject обрабатывает POST /orders/{id}/reject
func (h *CommandHandler) PostOrdersIdReject(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var reqBody RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}
	if reqBody.RejectedBy == nil || reqBody.Reason == nil || *reqBody.Reason == "" {
		writeError(w, h.logger, domain.NewValidationError("rejectedBy and non-empty reason are required"))
		return
	}
	rejectedBy, err := uuid.Parse(*reqBody.RejectedBy)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("rejectedBy must be a valid uuid"))
		return
	}

	summary, err := h.service.RejectOrder(r.Context(), service.RejectOrderInput{
		CommandMeta: h.commandMeta(r),
		OrderID:     orderID,
		RejectedBy:  rejectedBy,
		Reason:      *reqBody.Reason,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// PostOrdersIdCancel обрабатывает POST /orders/{id}/cancel
func (h *CommandHandler) PostOrdersIdCancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var reqBody CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}
	if reqBody.CanceledBy == nil {
		writeError(w, h.logger, domain.NewValidationError("canceledBy is required"))
		return
	}
	canceledBy, err := uuid.Parse(*reqBody.CanceledBy)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("canceledBy must be a valid uuid"))
		return
	}

	summary, err := h.service.CancelOrder(r.Context(), service.CancelOrderInput{
		CommandMeta: h.commandMeta(r),
		OrderID:     orderID,
		CanceledBy:  canceledBy,
		Reason:      reqBody.Reason,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// PostOrdersIdShip обрабатывает POST /orders/{id}/ship
func (h *CommandHandler) PostOrdersIdShip(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var reqBody ShipRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}
	if reqBody.TrackingNumber == nil || *reqBody.TrackingNumber == "" ||
		reqBody.Carrier == nil || *reqBody.Carrier == "" {
		writeError(w, h.logger, domain.NewValidationError("trackingNumber and carrier are required"))
		return
	}

	summary, err := h.service.ShipOrder(r.Context(), service.ShipOrderInput{
		CommandMeta:    h.commandMeta(r),
		OrderID:        orderID,
		TrackingNumber: *reqBody.TrackingNumber,
		Carrier:        *reqBody.Carrier,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// PostOrdersIdItems обрабатывает POST /orders/{id}/items - добавление позиции
func (h *CommandHandler) PostOrdersIdItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var reqBody AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, h.logger, domain.NewValidationError("invalid JSON: %v", err))
		return
	}
	if reqBody.Currency == nil {
		writeError(w, h.logger, domain.NewValidationError("currency is required"))
		return
	}

	// несовпадение с валютой заказа отловит доменная проверка AddItem
	item, err := parseItem(reqBody.ItemRequest, *reqBody.Currency)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	summary, err := h.service.AddItem(r.Context(), service.AddItemInput{
		CommandMeta: h.commandMeta(r),
		OrderID:     orderID,
		Item:        item,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// DeleteOrdersIdItemsSku обрабатывает DELETE /orders/{id}/items/{sku}
func (h *CommandHandler) DeleteOrdersIdItemsSku(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	sku := chi.URLParam(r, "sku")
	if sku == "" {
		writeError(w, h.logger, domain.NewValidationError("sku is required"))
		return
	}

	summary, err := h.service.RemoveItem(r.Context(), service.RemoveItemInput{
		CommandMeta: h.commandMeta(r),
		OrderID:     orderID,
		SKU:         sku,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// commandMeta собирает служебные поля команды из заголовков запроса
func (h *CommandHandler) commandMeta(r *http.Request) service.CommandMeta {
	meta := service.CommandMeta{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Actor:          r.Header.Get("X-Actor-Id"),
	}
	if traceID, ok := reqctx.TraceIDFromContext(r.Context()); ok {
		meta.TraceID = traceID
	}
	return meta
}

func (h *CommandHandler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("order id must be a valid uuid"))
		return uuid.Nil, false
	}
	return orderID, true
}

func parseItems(items []ItemRequest, currency string) ([]domain.OrderItem, error) {
	parsed := make([]domain.OrderItem, 0, len(items))
	for i, item := range items {
		domainItem, err := parseItem(item, currency)
		if err != nil {
			return nil, domain.NewValidationError("items[%d]: %v", i, err)
		}
		parsed = append(parsed, domainItem)
	}
	return parsed, nil
}

func parseItem(item ItemRequest, currency string) (domain.OrderItem, error) {
	if item.SKU == nil || *item.SKU == "" {
		return domain.OrderItem{}, domain.NewValidationError("sku is required")
	}
	if item.ProductName == nil || *item.ProductName == "" {
		return domain.OrderItem{}, domain.NewValidationError("productName is required")
	}
	if item.Quantity == nil || *item.Quantity <= 0 {
		return domain.OrderItem{}, domain.NewValidationError("quantity must be > 0")
	}
	if item.UnitPrice == nil {
		return domain.OrderItem{}, domain.NewValidationError("unitPrice is required")
	}

	amount, err := decimal.NewFromString(*item.UnitPrice)
	if err != nil {
		return domain.OrderItem{}, domain.NewValidationError("unitPrice must be a decimal number: %v", err)
	}
	unitPrice, err := domain.NewMoney(amount, currency)
	if err != nil {
		return domain.OrderItem{}, err
	}
	lineTotal, err := unitPrice.Mul(*item.Quantity)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return domain.NewOrderItem(*item.SKU, *item.ProductName, *item.Quantity, unitPrice, lineTotal)
}
