package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MikeMC777/hyperlocal-delivery/internal/auth"
	"github.com/MikeMC777/hyperlocal-delivery/internal/order"
)

// HTTPSubmitter posts orders to order-service.
type HTTPSubmitter struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPSubmitter(baseURL, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, s Submission) (*order.Order, error) {
	body, err := json.Marshal(s.Request)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Token)
	if s.Request.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", s.Request.IdempotencyKey)
	}

	res, err := h.HTTP.Do(req)
	if err != nil {
		return nil, &order.UpstreamUnavailableError{Service: "order-service", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusCreated || res.StatusCode == http.StatusOK {
		var o order.Order
		if err := json.NewDecoder(res.Body).Decode(&o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		return &o, nil
	}

	var e struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	_ = json.Unmarshal(raw, &e)
	if e.Error == "" {
		e.Error = res.Status
	}
	switch {
	case res.StatusCode == http.StatusBadRequest:
		return nil, &order.ValidationError{Message: e.Error}
	case res.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", auth.ErrUnauthenticated, e.Error)
	case res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", order.ErrForbidden, e.Error)
	case res.StatusCode >= 500:
		return nil, &order.UpstreamUnavailableError{Service: "order-service", Err: fmt.Errorf("%s: %s", res.Status, e.Error)}
	}
	return nil, fmt.Errorf("order-service: %s: %s", res.Status, e.Error)
}
