package domain

import (
	"github.com/shopspring/decimal"
)

// Money представляет денежную сумму с валютой
// Сумма хранится с фиксированной точностью scale=2 и не может быть отрицательной.
// Арифметика между разными валютами запрещена.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney создаёт Money, нормализуя сумму до 2 знаков (round half-up)
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	if amount.IsNegative() {
		return Money{}, NewValidationError("amount cannot be negative: %s", amount)
	}
	// Round у decimal — half away from zero; для неотрицательных сумм это и есть half-up
	return Money{Amount: amount.Round(2), Currency: currency}, nil
}

// ZeroMoney возвращает нулевую сумму в указанной валюте
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero.Round(2), Currency: currency}
}

// Add складывает две суммы одной валюты
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewValidationError("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub вычитает сумму той же валюты; отрицательный результат запрещён
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewValidationError("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	result := m.Amount.Sub(other.Amount)
	if result.IsNegative() {
		return Money{}, NewValidationError("result cannot be negative: %s", result)
	}
	return Money{Amount: result, Currency: m.Currency}, nil
}

// Mul умножает сумму на целый неотрицательный множитель
func (m Money) Mul(factor int) (Money, error) {
	if factor < 0 {
		return Money{}, NewValidationError("factor cannot be negative: %d", factor)
	}
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(factor))), Currency: m.Currency}, nil
}

// Equal сравнивает суммы по значению и валюте
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// validateCurrency проверяет, что код валюты — ровно 3 латинские буквы (ISO 4217)
func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return NewValidationError("currency must be a 3-letter code, got %q", currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return NewValidationError("currency must be a 3-letter uppercase code, got %q", currency)
		}
	}
	return nil
}
