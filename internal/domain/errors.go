package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается, когда агрегат не найден ни в snapshot store, ни в event log
var ErrNotFound = errors.New("order not found")

// ValidationError — ошибка валидации входных данных команды.
// Повтор команды без исправления входа не поможет (ошибка вызывающей стороны).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidationError создаёт ValidationError с форматированием в стиле fmt
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError — легальный вход, но недопустимый переход для текущего статуса заказа.
// Всегда называет текущий статус и запрошенную операцию.
type InvalidStateError struct {
	Status    OrderStatus
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order in %s status", e.Operation, e.Status)
}

// newInvalidState создаёт InvalidStateError для операции op в статусе status
func newInvalidState(status OrderStatus, op string) error {
	return &InvalidStateError{Status: status, Operation: op}
}

// IsValidation сообщает, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidState сообщает, является ли ошибка нарушением state machine заказа
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}
