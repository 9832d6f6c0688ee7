package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/esource"
	"github.com/shestoi/order-platform/internal/repository/memory"
	"github.com/shestoi/order-platform/internal/service"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	loader := esource.NewLoader(zap.NewNop(), store, store, 50)
	svc := service.NewCommandService(zap.NewNop(), loader, store, store)
	handler := NewCommandHandler(zap.NewNop(), svc)
	return NewCommandRouter(handler, func() bool { return true }), store
}

func doRequest(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createOrderReq(t *testing.T, router http.Handler, headers map[string]string) service.OrderSummary {
	t.Helper()

	body := `{
		"customerId": "` + uuid.NewString() + `",
		"currency": "USD",
		"items": [{"sku": "SKU-1", "productName": "Widget", "quantity": 2, "unitPrice": "9.99"}]
	}`
	rec := doRequest(t, router, http.MethodPost, "/orders", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var summary service.OrderSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	return summary
}

func TestCommandAPI_CreateOrder(t *testing.T) {
	t.Run("success returns 201 with summary", func(t *testing.T) {
		router, _ := newTestRouter(t)

		summary := createOrderReq(t, router, nil)
		require.Equal(t, "CREATED", summary.Status)
		require.Equal(t, int64(1), summary.Version)
		require.NotEmpty(t, summary.OrderID)
	})

	t.Run("missing fields return 400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(t, router, http.MethodPost, "/orders", `{"currency": "USD"}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed unit price returns 400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		body := `{
			"customerId": "` + uuid.NewString() + `",
			"currency": "USD",
			"items": [{"sku": "SKU-1", "productName": "Widget", "quantity": 1, "unitPrice": "many"}]
		}`
		rec := doRequest(t, router, http.MethodPost, "/orders", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("idempotency key replays cached summary", func(t *testing.T) {
		router, _ := newTestRouter(t)
		headers := map[string]string{"Idempotency-Key": "k1"}

		first := createOrderReq(t, router, headers)
		second := createOrderReq(t, router, headers)
		require.Equal(t, first.OrderID, second.OrderID)
		require.Equal(t, first.Version, second.Version)
	})
}

func TestCommandAPI_Transitions(t *testing.T) {
	t.Run("approve then ship", func(t *testing.T) {
		router, _ := newTestRouter(t)
		summary := createOrderReq(t, router, nil)

		rec := doRequest(t, router, http.MethodPost, "/orders/"+summary.OrderID+"/approve",
			`{"approvedBy": "`+uuid.NewString()+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doRequest(t, router, http.MethodPost, "/orders/"+summary.OrderID+"/ship",
			`{"trackingNumber": "TRACK-1", "carrier": "DHL"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var shipped service.OrderSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipped))
		require.Equal(t, "SHIPPED", shipped.Status)
		require.Equal(t, int64(3), shipped.Version)
	})

	t.Run("ship before approve returns 409", func(t *testing.T) {
		router, _ := newTestRouter(t)
		summary := createOrderReq(t, router, nil)

		rec := doRequest(t, router, http.MethodPost, "/orders/"+summary.OrderID+"/ship",
			`{"trackingNumber": "TRACK-1", "carrier": "DHL"}`, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown order returns 404", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(t, router, http.MethodPost, "/orders/"+uuid.NewString()+"/cancel",
			`{"canceledBy": "`+uuid.NewString()+`"}`, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed order id returns 400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := doRequest(t, router, http.MethodPost, "/orders/not-a-uuid/approve",
			`{"approvedBy": "`+uuid.NewString()+`"}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("add and remove item", func(t *testing.T) {
		router, _ := newTestRouter(t)
		summary := createOrderReq(t, router, nil)

		rec := doRequest(t, router, http.MethodPost, "/orders/"+summary.OrderID+"/items",
			`{"sku": "SKU-2", "productName": "Gadget", "quantity": 1, "unitPrice": "5.00", "currency": "USD"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doRequest(t, router, http.MethodDelete, "/orders/"+summary.OrderID+"/items/SKU-1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		// несуществующая позиция — 400: заказ найден, невалиден сам аргумент
		rec = doRequest(t, router, http.MethodDelete, "/orders/"+summary.OrderID+"/items/SKU-404", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})
}

func TestCommandAPI_TraceIDHeader(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/orders", `{}`,
		map[string]string{"X-Request-Id": "trace-123"})
	require.Equal(t, "trace-123", rec.Header().Get("X-Request-Id"))

	// без заголовка trace id генерируется
	rec = doRequest(t, router, http.MethodPost, "/orders", `{}`, nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestQueryAPI_MaintenanceMode(t *testing.T) {
	handler := NewQueryHandler(zap.NewNop(), nil, func() bool { return true })
	router := NewQueryRouter(handler, func() bool { return true })

	for _, path := range []string{"/orders", "/orders/search?query=widget", "/orders/ord-1"} {
		rec := doRequest(t, router, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	// health отвечает и в maintenance
	rec := doRequest(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	store := memory.NewStore()
	loader := esource.NewLoader(zap.NewNop(), store, store, 50)
	svc := service.NewCommandService(zap.NewNop(), loader, store, store)
	notReady := NewCommandRouter(NewCommandHandler(zap.NewNop(), svc), func() bool { return false })
	rec = doRequest(t, notReady, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
