package order

import "github.com/shopspring/decimal"

// CreateOrderItem payload de ítem.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	ProductID    string          `json:"productId"    example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	ProductName  string          `json:"productName"  example:"Whole wheat bread"`
	ProductPrice decimal.Decimal `json:"productPrice" swaggertype:"string" example:"40.00"`
	Quantity     int             `json:"quantity"     example:"2"`
}

// CreateOrderRequest is one single-merchant order submission.
// DeliveryFee is a display hint only; the server always recomputes the fee.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	Items           []CreateOrderItem `json:"items"`
	MerchantID      string            `json:"merchantId"  example:"b2f5ff47-2b1e-4f22-8a96-5f3c1f2f2e7b"`
	DeliveryAddress *Address          `json:"deliveryAddress"`
	PaymentMethod   string            `json:"paymentMethod" example:"cash_on_delivery"`
	DeliveryFee     *decimal.Decimal  `json:"deliveryFee,omitempty" swaggertype:"string"`
	IdempotencyKey  string            `json:"idempotencyKey,omitempty"`
}

// UpdateStatusRequest payload de cambio de estado.
// swagger:model UpdateStatusRequest
type UpdateStatusRequest struct {
	Status string `json:"status" example:"confirmed"`
}

// ListResponse is a page of the caller's orders.
// swagger:model OrderListResponse
type ListResponse struct {
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Items  []Order `json:"items"`
}
