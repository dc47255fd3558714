package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrProductNotFound = errors.New("product not found")

type ProductDTO struct {
	ID          string          `json:"id"`
	MerchantID  string          `json:"merchantId"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"isAvailable"`
}

// Ext talks to the catalog (product-service) over HTTP.
type Ext struct {
	HTTP           *http.Client
	ProductBaseURL string
}

func NewExt(productBaseURL string) *Ext {
	return &Ext{
		HTTP: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		ProductBaseURL: productBaseURL,
	}
}

func (e *Ext) FetchProduct(ctx context.Context, id string) (*ProductDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/products/%s", e.ProductBaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	res, err := e.HTTP.Do(req)
	if err != nil {
		return nil, &UpstreamUnavailableError{Service: "catalog", Err: err}
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrProductNotFound
	case res.StatusCode != http.StatusOK:
		return nil, &UpstreamUnavailableError{Service: "catalog", Err: fmt.Errorf("status %s", res.Status)}
	}
	var p ProductDTO
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, &UpstreamUnavailableError{Service: "catalog", Err: err}
	}
	return &p, nil
}

// CheckPrice verifies a submitted line against the catalog: the product
// must exist, belong to the merchant, be available and cost what the
// client says it costs.
func (e *Ext) CheckPrice(ctx context.Context, merchantID string, item CreateOrderItem) error {
	p, err := e.FetchProduct(ctx, item.ProductID)
	if errors.Is(err, ErrProductNotFound) {
		return invalid("product %s no longer exists", item.ProductID)
	}
	if err != nil {
		return err
	}
	if p.MerchantID != "" && p.MerchantID != merchantID {
		return invalid("product %s is not sold by merchant %s", item.ProductID, merchantID)
	}
	if !p.IsAvailable {
		return invalid("%s is currently unavailable", p.Name)
	}
	if !p.Price.Equal(item.ProductPrice) {
		return invalid("price of %s changed to %s", p.Name, p.Price.StringFixed(2))
	}
	return nil
}
