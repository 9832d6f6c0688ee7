package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shestoi/order-platform/internal/reqctx"
)

// WithTraceID — HTTP middleware: читает заголовок X-Request-Id (или генерирует
// новый), кладёт trace_id в context и возвращает его в заголовке ответа.
// Ошибки инфраструктуры наружу отдаются без деталей — trace_id единственный
// идентификатор для корреляции с логами.
func WithTraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", traceID)
		ctx := reqctx.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
