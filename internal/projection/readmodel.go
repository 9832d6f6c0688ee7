package projection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shestoi/order-platform/internal/domain"
)

// OrderReadModel — денормализованное состояние заказа на read-стороне.
// Одна строка на заказ; производные поля (approvedBy, rejectionReason,
// trackingNumber, carrier) заполняются только после соответствующего события.
type OrderReadModel struct {
	OrderID         string             `json:"orderId"`
	CustomerID      string             `json:"customerId"`
	Status          string             `json:"status"`
	Items           []domain.OrderItem `json:"items"`
	TotalAmount     decimal.Decimal    `json:"totalAmount"`
	Currency        string             `json:"currency"`
	Version         int64              `json:"version"`
	ApprovedBy      *string            `json:"approvedBy,omitempty"`
	RejectionReason *string            `json:"rejectionReason,omitempty"`
	CanceledBy      *string            `json:"canceledBy,omitempty"`
	TrackingNumber  *string            `json:"trackingNumber,omitempty"`
	Carrier         *string            `json:"carrier,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}
