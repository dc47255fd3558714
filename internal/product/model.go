package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string `json:"id"`
	MerchantID  string `json:"merchantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// NUMERIC in Postgres, decimal in memory; never float.
	Price       decimal.Decimal `json:"price" swaggertype:"string"`
	Unit        string          `json:"unit"`
	IsAvailable bool            `json:"isAvailable"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// HTTPError represents a standard error in JSON.
// swagger:model
type HTTPError struct {
	// Error message
	// example: not found
	Error string `json:"error"`
}

// CreateProductRequest payload of creation.
// swagger:model CreateProductRequest
type CreateProductRequest struct {
	MerchantID  string           `json:"merchantId"  example:"b2f5ff47-2b1e-4f22-8a96-5f3c1f2f2e7b"`
	Name        string           `json:"name"        example:"Whole wheat bread"`
	Description string           `json:"description" example:"400g loaf"`
	Price       *decimal.Decimal `json:"price"      swaggertype:"string" example:"40.00"`
	Unit        string           `json:"unit"        example:"piece"`
	IsAvailable *bool            `json:"isAvailable"`
	Stock       int              `json:"stock"       example:"10"`
}

// UpdateProductRequest payload of partial update; nil fields are left as is.
// swagger:model UpdateProductRequest
type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price" swaggertype:"string"`
	Unit        *string          `json:"unit"`
	IsAvailable *bool            `json:"isAvailable"`
	Stock       *int             `json:"stock"`
}

// Apply copies the set fields of u onto p.
func (u UpdateProductRequest) Apply(p *Product) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Unit != nil {
		p.Unit = *u.Unit
	}
	if u.IsAvailable != nil {
		p.IsAvailable = *u.IsAvailable
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
}
