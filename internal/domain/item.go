package domain

// OrderItem представляет товарную позицию заказа
// Инвариант конструктора: lineTotal == unitPrice * quantity, точно.
type OrderItem struct {
	SKU         string `json:"sku"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
	LineTotal   Money  `json:"lineTotal"`
}

// NewOrderItem создаёт позицию заказа, проверяя все инварианты
func NewOrderItem(sku, productName string, quantity int, unitPrice Money, lineTotal Money) (OrderItem, error) {
	if sku == "" {
		return OrderItem{}, NewValidationError("sku cannot be empty")
	}
	if productName == "" {
		return OrderItem{}, NewValidationError("product name cannot be empty")
	}
	if quantity <= 0 {
		return OrderItem{}, NewValidationError("quantity must be positive, got %d", quantity)
	}

	expected, err := unitPrice.Mul(quantity)
	if err != nil {
		return OrderItem{}, err
	}
	if !lineTotal.Equal(expected) {
		return OrderItem{}, NewValidationError("line total mismatch: expected %s but got %s", expected, lineTotal)
	}

	return OrderItem{
		SKU:         sku,
		ProductName: productName,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   lineTotal,
	}, nil
}
