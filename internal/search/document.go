package search

import (
	"time"

	"github.com/shestoi/order-platform/internal/projection"
)

// IndexName — имя индекса заказов
const IndexName = "orders"

// ItemDocument — позиция заказа внутри nested поля items
type ItemDocument struct {
	SKU         string  `json:"sku"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// OrderDocument — документ заказа в поисковом индексе.
// Денежные поля — числа со scaled_float маппингом (factor 100),
// точность двух знаков сохраняется на стороне индекса.
type OrderDocument struct {
	OrderID         string         `json:"orderId"`
	CustomerID      string         `json:"customerId"`
	Status          string         `json:"status"`
	Items           []ItemDocument `json:"items"`
	TotalAmount     float64        `json:"totalAmount"`
	Currency        string         `json:"currency"`
	Version         int64          `json:"version"`
	ApprovedBy      *string        `json:"approvedBy,omitempty"`
	RejectionReason *string        `json:"rejectionReason,omitempty"`
	CanceledBy      *string        `json:"canceledBy,omitempty"`
	TrackingNumber  *string        `json:"trackingNumber,omitempty"`
	Carrier         *string        `json:"carrier,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// DocumentFromReadModel переводит read model в поисковый документ
func DocumentFromReadModel(model projection.OrderReadModel) OrderDocument {
	items := make([]ItemDocument, 0, len(model.Items))
	for _, item := range model.Items {
		items = append(items, ItemDocument{
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount.InexactFloat64(),
			LineTotal:   item.LineTotal.Amount.InexactFloat64(),
		})
	}

	return OrderDocument{
		OrderID:         model.OrderID,
		CustomerID:      model.CustomerID,
		Status:          model.Status,
		Items:           items,
		TotalAmount:     model.TotalAmount.InexactFloat64(),
		Currency:        model.Currency,
		Version:         model.Version,
		ApprovedBy:      model.ApprovedBy,
		RejectionReason: model.RejectionReason,
		CanceledBy:      model.CanceledBy,
		TrackingNumber:  model.TrackingNumber,
		Carrier:         model.Carrier,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}
