package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is copied into the order at creation; later profile edits do not
// touch it.
type Address struct {
	Street      string       `json:"street,omitempty"`
	City        string       `json:"city"`
	State       string       `json:"state,omitempty"`
	Pincode     string       `json:"pincode"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// LineItem snapshots product name and price at order time.
type LineItem struct {
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductPrice decimal.Decimal `json:"productPrice"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"orderNumber"`
	UserID                string          `json:"userId"`
	MerchantID            string          `json:"merchantId"`
	Items                 []LineItem      `json:"items"`
	DeliveryAddress       Address         `json:"deliveryAddress"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	DeliveryFee           decimal.Decimal `json:"deliveryFee"`
	Total                 decimal.Decimal `json:"total"`
	Status                Status          `json:"status"`
	PaymentMethod         PaymentMethod   `json:"paymentMethod"`
	PaymentStatus         PaymentStatus   `json:"paymentStatus"`
	EstimatedDeliveryTime string          `json:"estimatedDeliveryTime"`
	IdempotencyKey        string          `json:"-"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentOnline         PaymentMethod = "online"
)

// ParsePaymentMethod accepts the legacy "cod" spelling and defaults empty
// input to cash on delivery.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch s {
	case "", "cod", string(PaymentCashOnDelivery):
		return PaymentCashOnDelivery, true
	case string(PaymentOnline):
		return PaymentOnline, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)
