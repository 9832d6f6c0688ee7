package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shestoi/order-platform/internal/api/http/middleware"
)

// NewCommandRouter собирает роутер write-стороны.
// readiness — проверка готовности (например, ping БД); при false
// health endpoint возвращает 503 Service Unavailable.
func NewCommandRouter(handler *CommandHandler, readiness func() bool) chi.Router {
	router := chi.NewRouter()

	router.Route("/orders", func(r chi.Router) {
		r.Use(middleware.WithTraceID)
		r.Post("/", handler.PostOrders)
		r.Post("/{id}/approve", handler.PostOrdersIdApprove)
		r.Post("/{id}/reject", handler.PostOrdersIdReject)
		r.Post("/{id}/cancel", handler.PostOrdersIdCancel)
		r.Post("/{id}/ship", handler.PostOrdersIdShip)
		r.Post("/{id}/items", handler.PostOrdersIdItems)
		r.Delete("/{id}/items/{sku}", handler.DeleteOrdersIdItemsSku)
	})

	// health без middleware
	router.Get("/health", healthHandler(readiness))

	return router
}

// NewQueryRouter собирает роутер read-стороны
func NewQueryRouter(handler *QueryHandler, readiness func() bool) chi.Router {
	router := chi.NewRouter()

	router.Route("/orders", func(r chi.Router) {
		r.Use(middleware.WithTraceID)
		r.Get("/", handler.GetOrders)
		r.Get("/search", handler.GetOrdersSearch)
		r.Get("/{id}", handler.GetOrdersId)
	})

	router.Get("/health", healthHandler(readiness))

	return router
}

func healthHandler(readiness func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if readiness != nil && !readiness() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
