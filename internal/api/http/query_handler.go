package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/search"
)

// QueryHandler содержит HTTP-обработчики read-стороны.
// maintenance — внешний флаг: пока идёт rebuild, все запросы
// отклоняются с 503, ядро при этом данных не теряет.
type QueryHandler struct {
	logger      *zap.Logger
	queries     *search.QueryService
	maintenance func() bool
}

// NewQueryHandler создаёт новый HTTP handler запросов
func NewQueryHandler(logger *zap.Logger, queries *search.QueryService, maintenance func() bool) *QueryHandler {
	if maintenance == nil {
		maintenance = func() bool { return false }
	}
	return &QueryHandler{
		logger:      logger,
		queries:     queries,
		maintenance: maintenance,
	}
}

// GetOrders обрабатывает GET /orders - список заказов со структурированным фильтром
func (h *QueryHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if h.inMaintenance(w) {
		return
	}

	params := search.FindParams{
		Status:     r.URL.Query().Get("status"),
		CustomerID: r.URL.Query().Get("customerId"),
		Page:       intQuery(r, "page", 0),
		Size:       intQuery(r, "size", 20),
		SortField:  r.URL.Query().Get("sortBy"),
		SortDir:    r.URL.Query().Get("sortDir"),
	}

	var err error
	params.FromDate, err = timeQuery(r, "fromDate")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	params.ToDate, err = timeQuery(r, "toDate")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.queries.FindOrders(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOrdersSearch обрабатывает GET /orders/search - полнотекстовый поиск
func (h *QueryHandler) GetOrdersSearch(w http.ResponseWriter, r *http.Request) {
	if h.inMaintenance(w) {
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, h.logger, domain.NewValidationError("query parameter is required"))
		return
	}

	result, err := h.queries.SearchOrders(r.Context(), query,
		intQuery(r, "page", 0), intQuery(r, "size", 20))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOrdersId обрабатывает GET /orders/{id} - получение заказа по ID
func (h *QueryHandler) GetOrdersId(w http.ResponseWriter, r *http.Request) {
	if h.inMaintenance(w) {
		return
	}

	doc, err := h.queries.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *QueryHandler) inMaintenance(w http.ResponseWriter) bool {
	if h.maintenance() {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{Error: "read model rebuild in progress"})
		return true
	}
	return false
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func timeQuery(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewValidationError("%s must be RFC3339 timestamp: %v", name, err)
	}
	return &value, nil
}
