package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/hyperlocal-delivery/internal/auth"
	"github.com/MikeMC777/hyperlocal-delivery/internal/order"
	"github.com/MikeMC777/hyperlocal-delivery/internal/product"
)

// StatusFor maps domain errors to HTTP status codes. Anything unknown is a
// 500 and its message is not shown to the client.
func StatusFor(err error) int {
	var (
		ve *order.ValidationError
		ue *order.UpstreamUnavailableError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func Message(err error) string {
	var ve *order.ValidationError
	switch StatusFor(err) {
	case http.StatusBadRequest:
		if errors.As(err, &ve) {
			return ve.Message
		}
		return err.Error()
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "Not authorized to access this order"
	case http.StatusNotFound:
		if errors.Is(err, product.ErrNotFound) {
			return "Product not found"
		}
		return "Order not found"
	case http.StatusConflict:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable, please retry"
	}
	return "internal error"
}

// Fail aborts with {"error": msg}. 5xx causes are recorded on the context
// so the Logger middleware can see them.
func Fail(c *gin.Context, err error) {
	code := StatusFor(err)
	if code >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": Message(err)})
}
