package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2026, 3, 15, 10, 30, 4, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestService(repo Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = clock
	}
	if opts.Sequencer == nil {
		opts.Sequencer = NewLocalSequencer(0)
	}
	return NewService(repo, opts)
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		MerchantID: "m1",
		Items: []CreateOrderItem{
			{ProductID: "p1", ProductName: "Bread", ProductPrice: dec("40.00"), Quantity: 2},
			{ProductID: "p2", ProductName: "Milk", ProductPrice: dec("25.50"), Quantity: 1},
		},
		DeliveryAddress: &Address{Street: "12 MG Road", City: "Pune", Pincode: "411001"},
	}
}

// countingRepo records writes so tests can assert nothing was persisted.
type countingRepo struct {
	*MemoryRepo
	mu      sync.Mutex
	creates int
}

func (r *countingRepo) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.MemoryRepo.Create(ctx, o)
}

func TestPlace_RejectsInvalidSubmissions(t *testing.T) {
	cases := map[string]func(*CreateOrderRequest){
		"no items":        func(r *CreateOrderRequest) { r.Items = nil },
		"no merchant":     func(r *CreateOrderRequest) { r.MerchantID = "  " },
		"no address":      func(r *CreateOrderRequest) { r.DeliveryAddress = nil },
		"no city":         func(r *CreateOrderRequest) { r.DeliveryAddress.City = "" },
		"no pincode":      func(r *CreateOrderRequest) { r.DeliveryAddress.Pincode = "" },
		"zero quantity":   func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
		"negative price":  func(r *CreateOrderRequest) { r.Items[1].ProductPrice = dec("-1") },
		"sub-cent price":  func(r *CreateOrderRequest) { r.Items[1].ProductPrice = dec("0.333") },
		"no product id":   func(r *CreateOrderRequest) { r.Items[0].ProductID = "" },
		"no product name": func(r *CreateOrderRequest) { r.Items[0].ProductName = "" },
		"bad payment":     func(r *CreateOrderRequest) { r.PaymentMethod = "barter" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
			svc := newTestService(repo, Options{})
			req := validRequest()
			mutate(&req)

			o, _, err := svc.Place(context.Background(), "u1", req)
			require.Error(t, err)
			assert.Nil(t, o)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Zero(t, repo.creates, "nothing may be written for a rejected submission")
		})
	}
}

func TestPlace_EmptyItemsMessage(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	req := validRequest()
	req.Items = []CreateOrderItem{}
	_, _, err := svc.Place(context.Background(), "u1", req)
	assert.EqualError(t, err, "Order must contain at least one item")
}

func TestPlace_ComputesTotalsAndSnapshot(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newTestService(repo, Options{})
	req := validRequest()

	o, replayed, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, "105.5", o.Subtotal.String())
	assert.True(t, o.DeliveryFee.IsZero())
	assert.Equal(t, "105.5", o.Total.String())
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, PaymentCashOnDelivery, o.PaymentMethod)
	assert.Equal(t, DefaultEstimatedDelivery, o.EstimatedDeliveryTime)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.Regexp(t, `^ORD20260315103004\d{8}$`, o.OrderNumber)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "Bread", o.Items[0].ProductName)
	assert.Equal(t, "80", o.Items[0].Subtotal.String())

	// later changes to the request do not leak into the stored order
	req.DeliveryAddress.City = "Mumbai"
	req.Items[0].ProductName = "Renamed"
	stored, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pune", stored.DeliveryAddress.City)
	assert.Equal(t, "Bread", stored.Items[0].ProductName)
}

func TestPlace_LineSubtotalMatchesStoredPrice(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	req := validRequest()
	req.Items = []CreateOrderItem{{ProductID: "p1", ProductName: "Chilli", ProductPrice: dec("0.333"), Quantity: 3}}
	_, _, err := svc.Place(context.Background(), "u1", req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	req.Items[0].ProductPrice = dec("0.33")
	o, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	for _, it := range o.Items {
		assert.True(t, it.Subtotal.Equal(it.ProductPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))),
			"%s x %d != %s", it.ProductPrice, it.Quantity, it.Subtotal)
	}
	assert.Equal(t, "0.99", o.Subtotal.StringFixed(2))
}

func TestPlace_SmallOrderPaysFlatFee(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	req := validRequest()
	req.Items = []CreateOrderItem{{ProductID: "p9", ProductName: "Eggs", ProductPrice: dec("80"), Quantity: 1}}

	o, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "80", o.Subtotal.String())
	assert.Equal(t, "50", o.DeliveryFee.String())
	assert.Equal(t, "130", o.Total.String())
}

func TestPlace_IgnoresClientFee(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := newTestService(NewMemoryRepo(), Options{Logger: zap.New(core)})
	req := validRequest()
	req.Items = []CreateOrderItem{{ProductID: "p9", ProductName: "Eggs", ProductPrice: dec("80"), Quantity: 1}}
	zero := decimal.Zero
	req.DeliveryFee = &zero

	o, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "50", o.DeliveryFee.String())
	assert.Equal(t, 1, logs.FilterMessage("client delivery fee ignored").Len())
}

func TestPlace_UsesConfiguredPolicy(t *testing.T) {
	policy := pricing.Policy{Fee: pricing.ThresholdFee(dec("500"), dec("30"))}
	svc := newTestService(NewMemoryRepo(), Options{Pricing: policy, EstimatedDelivery: "20 mins"})

	o, _, err := svc.Place(context.Background(), "u1", validRequest())
	require.NoError(t, err)
	assert.Equal(t, "30", o.DeliveryFee.String())
	assert.Equal(t, "135.5", o.Total.String())
	assert.Equal(t, "20 mins", o.EstimatedDeliveryTime)
}

func TestPlace_AcceptsLegacyPaymentSpelling(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	req := validRequest()
	req.PaymentMethod = "cod"
	o, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.Equal(t, PaymentCashOnDelivery, o.PaymentMethod)

	req.PaymentMethod = "online"
	o, _, err = svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.Equal(t, PaymentOnline, o.PaymentMethod)
}

func TestPlace_ConcurrentNumbersAreDistinct(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newTestService(repo, Options{})

	const n = 50
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _, err := svc.Place(context.Background(), "u1", validRequest())
			if assert.NoError(t, err) {
				numbers <- o.OrderNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for num := range numbers {
		assert.False(t, seen[num], "duplicate order number %s", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

// scriptedSequencer replays a fixed list of values.
type scriptedSequencer struct {
	mu     sync.Mutex
	values []int64
}

func (s *scriptedSequencer) Next(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v, nil
}

func TestPlace_RetriesOnNumberCollision(t *testing.T) {
	seq := &scriptedSequencer{values: []int64{7, 7, 8}}
	svc := newTestService(NewMemoryRepo(), Options{Sequencer: seq})

	first, _, err := svc.Place(context.Background(), "u1", validRequest())
	require.NoError(t, err)
	second, _, err := svc.Place(context.Background(), "u2", validRequest())
	require.NoError(t, err)

	assert.Equal(t, "ORD2026031510300400000007", first.OrderNumber)
	assert.Equal(t, "ORD2026031510300400000008", second.OrderNumber)
}

func TestPlace_GivesUpAfterRepeatedCollisions(t *testing.T) {
	seq := &scriptedSequencer{values: []int64{3}}
	svc := newTestService(NewMemoryRepo(), Options{Sequencer: seq})

	_, _, err := svc.Place(context.Background(), "u1", validRequest())
	require.NoError(t, err)
	_, _, err = svc.Place(context.Background(), "u1", validRequest())
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
}

func TestPlace_IdempotentReplay(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	svc := newTestService(repo, Options{})
	req := validRequest()
	req.IdempotencyKey = "k-1"

	first, replayed, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, repo.creates)

	// the key is scoped per user
	other, replayed, err := svc.Place(context.Background(), "u2", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestPlace_IdempotencyKeyReusedForOtherMerchant(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	svc := newTestService(repo, Options{})
	req := validRequest()
	req.IdempotencyKey = "k-shared"
	_, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)

	req.MerchantID = "m2"
	o, replayed, err := svc.Place(context.Background(), "u1", req)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Nil(t, o)
	assert.False(t, replayed)
	assert.Equal(t, 1, repo.creates)
}

// racyRepo misses the first idempotency lookup, as if a concurrent request
// had committed between the lookup and the insert.
type racyRepo struct {
	*MemoryRepo
	missed bool
}

func (r *racyRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	if !r.missed {
		r.missed = true
		return nil, ErrNotFound
	}
	return r.MemoryRepo.GetByIdempotencyKey(ctx, userID, key)
}

func TestPlace_IdempotencyRaceReturnsWinner(t *testing.T) {
	mem := NewMemoryRepo()
	svc := newTestService(mem, Options{})
	req := validRequest()
	req.IdempotencyKey = "k-race"
	winner, _, err := svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)

	racy := newTestService(&racyRepo{MemoryRepo: mem}, Options{Sequencer: NewLocalSequencer(1000)})
	got, replayed, err := racy.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, winner.ID, got.ID)
}

type stubPrices struct{ err error }

func (s stubPrices) CheckPrice(context.Context, string, CreateOrderItem) error { return s.err }

func TestPlace_PriceCheckFailureStopsOrder(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	svc := newTestService(repo, Options{Prices: stubPrices{err: invalid("price of Bread changed to 45.00")}})

	_, _, err := svc.Place(context.Background(), "u1", validRequest())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, repo.creates)
}

func newCatalog(t *testing.T, products map[string]ProductDTO) *Ext {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := products[path.Base(r.URL.Path)]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}))
	t.Cleanup(srv.Close)
	return NewExt(srv.URL)
}

func TestExt_CheckPrice(t *testing.T) {
	ext := newCatalog(t, map[string]ProductDTO{
		"p1":  {ID: "p1", MerchantID: "m1", Name: "Bread", Price: dec("40.00"), IsAvailable: true},
		"p2":  {ID: "p2", MerchantID: "m1", Name: "Milk", Price: dec("27.00"), IsAvailable: true},
		"p3":  {ID: "p3", MerchantID: "m2", Name: "Rice", Price: dec("60"), IsAvailable: true},
		"off": {ID: "off", MerchantID: "m1", Name: "Jam", Price: dec("10"), IsAvailable: false},
	})
	ctx := context.Background()
	item := func(id, price string) CreateOrderItem {
		return CreateOrderItem{ProductID: id, ProductName: "x", ProductPrice: dec(price), Quantity: 1}
	}

	assert.NoError(t, ext.CheckPrice(ctx, "m1", item("p1", "40")))

	var ve *ValidationError
	assert.ErrorAs(t, ext.CheckPrice(ctx, "m1", item("p2", "25.50")), &ve)
	assert.Contains(t, ve.Message, "27.00")
	assert.ErrorAs(t, ext.CheckPrice(ctx, "m1", item("p3", "60")), &ve)
	assert.ErrorAs(t, ext.CheckPrice(ctx, "m1", item("off", "10")), &ve)
	assert.ErrorAs(t, ext.CheckPrice(ctx, "m1", item("gone", "1")), &ve)
}

func TestExt_UnreachableCatalog(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewExt(url).FetchProduct(context.Background(), "p1")
	var ue *UpstreamUnavailableError
	assert.ErrorAs(t, err, &ue)
}

func placeOne(t *testing.T, svc *Service, userID string) *Order {
	t.Helper()
	o, _, err := svc.Place(context.Background(), userID, validRequest())
	require.NoError(t, err)
	return o
}

func TestGet_OwnerOnlyUnlessStaff(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	o := placeOne(t, svc, "u1")
	ctx := context.Background()

	got, err := svc.Get(ctx, Actor{UserID: "u1"}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)

	_, err = svc.Get(ctx, Actor{UserID: "u2"}, o.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, Actor{UserID: "m1", Staff: true}, o.ID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, Actor{UserID: "u1"}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListForUser_NewestFirst(t *testing.T) {
	now := fixedNow
	svc := newTestService(NewMemoryRepo(), Options{Now: func() time.Time {
		now = now.Add(time.Minute)
		return now
	}})
	first := placeOne(t, svc, "u1")
	second := placeOne(t, svc, "u1")
	placeOne(t, svc, "u2")

	list, err := svc.ListForUser(context.Background(), "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	empty, err := svc.ListForUser(context.Background(), "nobody", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestUpdateStatus_Rules(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	ctx := context.Background()
	staff := Actor{UserID: "m1", Staff: true}
	owner := Actor{UserID: "u1"}

	o := placeOne(t, svc, "u1")

	_, err := svc.UpdateStatus(ctx, owner, o.ID, "confirmed")
	assert.ErrorIs(t, err, ErrForbidden, "customers cannot confirm")

	_, err = svc.UpdateStatus(ctx, staff, o.ID, "shipped")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = svc.UpdateStatus(ctx, staff, o.ID, "delivered")
	assert.ErrorIs(t, err, ErrInvalidTransition, "no skipping stages")

	for _, next := range []string{"confirmed", "preparing", "out_for_delivery"} {
		got, err := svc.UpdateStatus(ctx, staff, o.ID, next)
		require.NoError(t, err)
		assert.Equal(t, Status(next), got.Status)
	}

	_, err = svc.UpdateStatus(ctx, staff, o.ID, "cancelled")
	assert.ErrorIs(t, err, ErrInvalidTransition, "too late to cancel")

	_, err = svc.UpdateStatus(ctx, staff, o.ID, "delivered")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, staff, o.ID, "pending")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_CustomerCancelsOwnOrder(t *testing.T) {
	svc := newTestService(NewMemoryRepo(), Options{})
	ctx := context.Background()
	o := placeOne(t, svc, "u1")

	_, err := svc.UpdateStatus(ctx, Actor{UserID: "u2"}, o.ID, "cancelled")
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := svc.UpdateStatus(ctx, Actor{UserID: "u1"}, o.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = svc.UpdateStatus(ctx, Actor{UserID: "u1"}, o.ID, "cancelled")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
