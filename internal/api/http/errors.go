package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shestoi/order-platform/internal/domain"
	"github.com/shestoi/order-platform/internal/repository"
)

// errorResponse — тело ответа об ошибке. Для инфраструктурных сбоев
// детали не раскрываются, корреляция — по X-Request-Id.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError переводит ошибку доменной таксономии в HTTP статус:
// Validation -> 400, NotFound -> 404, InvalidState и ConcurrencyConflict -> 409,
// всё остальное -> 500 без деталей.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var status int
	var message string

	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotFound) || errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
		message = "order not found"
	case domain.IsInvalidState(err):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, repository.ErrConcurrencyConflict):
		status = http.StatusConflict
		message = "concurrent modification, retry the command"
	default:
		status = http.StatusInternalServerError
		message = "internal error"
		logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
