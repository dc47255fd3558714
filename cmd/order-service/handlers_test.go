package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/hyperlocal-delivery/internal/auth"
	ord "github.com/MikeMC777/hyperlocal-delivery/internal/order"
)

//
// ---------- STUBS & HELPERS ----------
//

// brokenRepo falla en todo; sirve para comprobar que los 5xx no filtran detalles.
type brokenRepo struct{}

var errDB = errors.New("pq: connection refused to 10.0.0.7")

func (brokenRepo) Create(context.Context, *ord.Order) error { return errDB }
func (brokenRepo) GetByID(context.Context, string) (*ord.Order, error) {
	return nil, errDB
}
func (brokenRepo) GetByIdempotencyKey(context.Context, string, string) (*ord.Order, error) {
	return nil, ord.ErrNotFound
}
func (brokenRepo) ListByUser(context.Context, string, int, int) ([]ord.Order, error) {
	return nil, errDB
}
func (brokenRepo) UpdateStatus(context.Context, string, ord.Status, ord.Status) (*ord.Order, error) {
	return nil, errDB
}

var authn = auth.NewJWTAuthenticator("test-secret")

func token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := authn.Issue(auth.Identity{UserID: userID, Role: role})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newTestRouter(repo ord.Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := ord.NewService(repo, ord.Options{})
	return newRouter(svc, authn, zap.NewNop())
}

func do(r http.Handler, method, path, tok, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	r.ServeHTTP(w, req)
	return w
}

const smallOrder = `{
  "merchantId": "m2",
  "items": [{"productId": "milk", "productName": "Milk 1L", "productPrice": "80.00", "quantity": 1}],
  "deliveryAddress": {"street": "12 MG Road", "city": "Pune", "pincode": "411001"},
  "paymentMethod": "cod",
  "deliveryFee": "0"
}`

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) ord.Order {
	t.Helper()
	var o ord.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("json inválido: %v body=%s", err, w.Body.String())
	}
	return o
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("json inválido: %v body=%s", err, w.Body.String())
	}
	return e.Error
}

//
// ---------- TESTS ----------
//

func TestCreateOrder_HappyPath(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	uid := uuid.NewString()

	w := do(r, http.MethodPost, "/api/orders", token(t, uid, auth.RoleCustomer), smallOrder)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	o := decodeOrder(t, w)
	// el fee del cliente (0) se ignora: 80 < 100 paga 50
	if o.Total.String() != "130" || o.DeliveryFee.String() != "50" {
		t.Fatalf("totales inesperados: subtotal=%s fee=%s total=%s", o.Subtotal, o.DeliveryFee, o.Total)
	}
	if o.UserID != uid || o.Status != ord.StatusPending || o.PaymentMethod != ord.PaymentCashOnDelivery {
		t.Fatalf("orden inesperada: %+v", o)
	}
	if !strings.HasPrefix(o.OrderNumber, "ORD") || len(o.OrderNumber) != 25 {
		t.Fatalf("orderNumber=%q", o.OrderNumber)
	}
}

func TestCreateOrder_RequiresAuth(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())

	for _, tok := range []string{"", "garbage"} {
		w := do(r, http.MethodPost, "/api/orders", tok, smallOrder)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token=%q status=%d body=%s (esperaba 401)", tok, w.Code, w.Body.String())
		}
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	tok := token(t, "u1", auth.RoleCustomer)

	cases := map[string]string{
		"Order must contain at least one item":  `{"merchantId":"m1","items":[],"deliveryAddress":{"city":"Pune","pincode":"411001"}}`,
		"Merchant ID is required":               `{"items":[{"productId":"p","productName":"x","productPrice":"1","quantity":1}],"deliveryAddress":{"city":"Pune","pincode":"411001"}}`,
		"Complete delivery address is required": `{"merchantId":"m1","items":[{"productId":"p","productName":"x","productPrice":"1","quantity":1}],"deliveryAddress":{"city":"Pune"}}`,
		"invalid json":                          `{"merchantId":`,
	}
	for want, body := range cases {
		w := do(r, http.MethodPost, "/api/orders", tok, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d body=%s (esperaba 400)", w.Code, w.Body.String())
		}
		if got := errorBody(t, w); got != want {
			t.Fatalf("error=%q, esperaba %q", got, want)
		}
	}
}

func TestCreateOrder_IdempotencyHeader(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	tok := token(t, "u1", auth.RoleCustomer)

	first := do(r, http.MethodPost, "/api/orders", tok, smallOrder, "Idempotency-Key", "abc")
	if first.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", first.Code, first.Body.String())
	}
	again := do(r, http.MethodPost, "/api/orders", tok, smallOrder, "Idempotency-Key", "abc")
	if again.Code != http.StatusOK {
		t.Fatalf("replay status=%d body=%s (esperaba 200)", again.Code, again.Body.String())
	}
	if decodeOrder(t, first).ID != decodeOrder(t, again).ID {
		t.Fatalf("el replay devolvió otra orden")
	}
}

func TestCreateOrder_StorageFailureIsOpaque(t *testing.T) {
	t.Parallel()
	r := newTestRouter(brokenRepo{})

	w := do(r, http.MethodPost, "/api/orders", token(t, "u1", auth.RoleCustomer), smallOrder)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s (esperaba 500)", w.Code, w.Body.String())
	}
	if got := errorBody(t, w); got != "internal error" {
		t.Fatalf("el 500 filtra detalles: %q", got)
	}
}

func TestGetOrder_OwnerForbiddenNotFound(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	owner := token(t, "u1", auth.RoleCustomer)

	o := decodeOrder(t, do(r, http.MethodPost, "/api/orders", owner, smallOrder))

	if w := do(r, http.MethodGet, "/api/orders/"+o.ID, owner, ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w := do(r, http.MethodGet, "/api/orders/"+o.ID, token(t, "u2", auth.RoleCustomer), "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s (esperaba 403)", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/api/orders/"+o.ID, token(t, "m2", auth.RoleMerchant), ""); w.Code != http.StatusOK {
		t.Fatalf("merchant status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/api/orders/"+uuid.NewString(), owner, ""); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s (esperaba 404)", w.Code, w.Body.String())
	}
}

func TestListMyOrders(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	tok := token(t, "u1", auth.RoleCustomer)
	for i := 0; i < 3; i++ {
		do(r, http.MethodPost, "/api/orders", tok, smallOrder)
	}
	do(r, http.MethodPost, "/api/orders", token(t, "u2", auth.RoleCustomer), smallOrder)

	w := do(r, http.MethodGet, "/api/orders?limit=2", tok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var page ord.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("json inválido: %v", err)
	}
	if page.Limit != 2 || len(page.Items) != 2 {
		t.Fatalf("página inesperada: limit=%d len=%d", page.Limit, len(page.Items))
	}
	for _, o := range page.Items {
		if o.UserID != "u1" {
			t.Fatalf("se listó una orden ajena: %+v", o)
		}
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	customer := token(t, "u1", auth.RoleCustomer)
	merchant := token(t, "m2", auth.RoleMerchant)

	o := decodeOrder(t, do(r, http.MethodPost, "/api/orders", customer, smallOrder))
	path := "/api/orders/" + o.ID + "/status"

	if w := do(r, http.MethodPut, path, customer, `{"status":"confirmed"}`); w.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s (esperaba 403)", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, path, merchant, `{"status":"shipped"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s (esperaba 400)", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, path, merchant, `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s (esperaba 400)", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, path, merchant, `{"status":"delivered"}`); w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s (esperaba 409)", w.Code, w.Body.String())
	}

	w := do(r, http.MethodPut, path, merchant, `{"status":"confirmed"}`)
	if w.Code != http.StatusOK || decodeOrder(t, w).Status != ord.StatusConfirmed {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPut, path, customer, `{"status":"cancelled"}`)
	if w.Code != http.StatusOK || decodeOrder(t, w).Status != ord.StatusCancelled {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, path, merchant, `{"status":"preparing"}`); w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s (esperaba 409 tras cancelar)", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, "/api/orders/"+uuid.NewString()+"/status", merchant, `{"status":"confirmed"}`); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s (esperaba 404)", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	r := newTestRouter(ord.NewMemoryRepo())
	if w := do(r, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}
