package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techturf/marketplace/internal/notify"
	"github.com/techturf/marketplace/internal/product"
	"github.com/techturf/marketplace/internal/promo"
)

//
// ---------- STUBS & FAKES ----------
//

// memStore implements Repository, ProductSource and PromoSource in memory
// with the same all-or-nothing reservation semantics as the SQL repo.
type memStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	promos   map[string]*promo.Promo
	orders   map[string]*Order
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*product.Product),
		promos:   make(map[string]*promo.Promo),
		orders:   make(map[string]*Order),
	}
}

func (m *memStore) addProduct(id, name, price string, stock int) {
	m.products[id] = &product.Product{ID: id, Name: name, Price: price, Stock: stock, ImageURL: "https://img/" + id}
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) GetByID(ctx context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetByCode(ctx context.Context, code string) (*promo.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreateWithReservation(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var shortages []Shortage
	for _, it := range o.Items {
		p, ok := m.products[it.ProductID]
		if !ok {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Requested: it.Quantity, Missing: true})
			continue
		}
		if p.Stock < it.Quantity {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Name: p.Name, Requested: it.Quantity, Available: p.Stock})
		}
	}
	if len(shortages) > 0 {
		return &InsufficientStockError{Shortages: shortages}
	}
	for _, it := range o.Items {
		m.products[it.ProductID].Stock -= it.Quantity
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) getOrder(id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return &cp, nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrder(id)
}

func (m *memStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) List(ctx context.Context, limit, offset int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, o *Order, prev Status, prevReturn ReturnStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev || cur.ReturnStatus != prevReturn {
		return ErrInvalidTransition
	}
	cp := *o
	cp.Items = append([]Item(nil), cur.Items...)
	// payment/delivery/tracking merge monotonically, same as the SQL write
	cp.IsPaid = cur.IsPaid || o.IsPaid
	if cur.PaidAt != nil {
		cp.PaidAt = cur.PaidAt
	}
	cp.PaymentResult = cur.PaymentResult
	cp.IsDelivered = cur.IsDelivered || o.IsDelivered
	if cur.DeliveredAt != nil {
		cp.DeliveredAt = cur.DeliveredAt
	}
	if o.TrackingNumber == "" {
		cp.TrackingNumber = cur.TrackingNumber
		cp.TrackingURL = cur.TrackingURL
		cp.Carrier = cur.Carrier
	}
	if o.ReturnReason == "" {
		cp.ReturnReason = cur.ReturnReason
	}
	cp.UpdatedAt = time.Now()
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) CancelWithRestock(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if o.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	for _, it := range o.Items {
		p, ok := m.products[it.ProductID]
		if !ok {
			return nil, ErrRestorationFailed
		}
		p.Stock += it.Quantity
	}
	o.Status = StatusCancelled
	return m.getOrder(id)
}

func (m *memStore) MarkPaid(ctx context.Context, id string, res PaymentResult) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	o.IsPaid = true
	o.PaidAt = &now
	o.PaymentResult = res
	return m.getOrder(id)
}

func (m *memStore) SetReturnStatus(ctx context.Context, id string, rs ReturnStatus, reason string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.ReturnStatus = rs
	if reason != "" {
		o.ReturnReason = reason
	}
	return m.getOrder(id)
}

// repoAdapter renames GetOrderByID to the Repository method name.
type repoAdapter struct{ *memStore }

func (r repoAdapter) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.memStore.GetOrderByID(ctx, id)
}

// payRaceRepo marks the order paid right after the first read, simulating a
// payment landing between a transition's read and its write.
type payRaceRepo struct {
	repoAdapter
	once sync.Once
}

func (r *payRaceRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	o, err := r.repoAdapter.GetByID(ctx, id)
	if err == nil {
		r.once.Do(func() {
			_, _ = r.memStore.MarkPaid(ctx, id, PaymentResult{ID: "pay-race"})
		})
	}
	return o, err
}

type recordingHub struct {
	mu     sync.Mutex
	events []notify.Event
}

func (h *recordingHub) Broadcast(ev notify.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recordingHub) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestService(store *memStore) (*Service, *recordingHub) {
	hub := &recordingHub{}
	svc := NewService(repoAdapter{store}, store, store, Options{
		COD:       CODConfig{Enabled: true, MaxAmount: decimal.NewFromInt(100000), Regions: []string{"India", "USA"}},
		Broadcast: hub,
	})
	return svc, hub
}

func placeReq(items ...PlaceOrderItem) PlaceOrderRequest {
	return PlaceOrderRequest{
		Items: items,
		ShippingAddress: ShippingAddress{
			Address:    "12 Market Rd",
			City:       "Pune",
			PostalCode: "411001",
			Country:    "India",
		},
		PaymentMethod: PaymentMethodCOD,
	}
}

//
// ---------- TESTS ----------
//

func TestPlaceOrder_ExactStockDrainsToZero(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Keyboard", "199.90", 5)
	svc, hub := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 5}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.stock("p1") != 0 {
		t.Fatalf("stock=%d, expected 0", store.stock("p1"))
	}
	if o.Status != StatusPending || o.IsPaid || o.IsDelivered {
		t.Fatalf("fresh order state: status=%s paid=%v delivered=%v", o.Status, o.IsPaid, o.IsDelivered)
	}

	// A follow-up order for one more unit is rejected and stock stays 0.
	_, err = svc.PlaceOrder(context.Background(), "u2", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err=%v, expected InsufficientStockError", err)
	}
	if store.stock("p1") != 0 {
		t.Fatalf("stock=%d after rejection, expected 0", store.stock("p1"))
	}

	if kinds := hub.kinds(); len(kinds) != 1 || kinds[0] != notify.KindOrderCreated {
		t.Fatalf("events=%v, expected one order_created", kinds)
	}
}

func TestPlaceOrder_TotalPriceInvariant(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Monitor", "450.00", 10)
	store.promos["TECH50"] = &promo.Promo{
		Code: "TECH50", Type: promo.TypePercent, Value: "10",
		MinOrderValue: "500", MaxDiscount: "500", Active: true,
	}

	hub := &recordingHub{}
	svc := NewService(repoAdapter{store}, store, store, Options{
		Pricing: PricingConfig{
			TaxRate:      decimal.NewFromInt(10),
			ShippingFlat: decimal.NewFromInt(40),
		},
		COD:       CODConfig{Enabled: true, MaxAmount: decimal.NewFromInt(100000), Regions: []string{"India"}, Fee: decimal.NewFromInt(25)},
		Broadcast: hub,
	})

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 2})
	req.PromoCode = "tech50" // lowercase input normalizes
	o, err := svc.PlaceOrder(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if o.PromoCode != "TECH50" {
		t.Fatalf("promo code=%q, expected TECH50", o.PromoCode)
	}

	items := mustDec(t, o.ItemsPrice)         // 900
	tax := mustDec(t, o.TaxPrice)             // 90
	shipping := mustDec(t, o.ShippingPrice)   // 40 + 25 fee
	discount := mustDec(t, o.DiscountAmount)  // 90 (10% of 900)
	total := mustDec(t, o.TotalPrice)

	if !items.Equal(dec2("900")) || !tax.Equal(dec2("90")) || !shipping.Equal(dec2("65")) || !discount.Equal(dec2("90")) {
		t.Fatalf("prices: items=%s tax=%s shipping=%s discount=%s", items, tax, shipping, discount)
	}
	if !total.Equal(items.Add(tax).Add(shipping).Sub(discount)) {
		t.Fatalf("total=%s violates invariant", total)
	}
}

func TestPlaceOrder_Scenario_TECH50(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "GPU", "1000.00", 3)
	store.promos["TECH50"] = &promo.Promo{
		Code: "TECH50", Type: promo.TypePercent, Value: "10",
		MinOrderValue: "500", MaxDiscount: "500", Active: true,
	}
	svc, _ := newTestService(store)

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.PromoCode = "TECH50"
	o, err := svc.PlaceOrder(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.DiscountAmount != "100.00" {
		t.Fatalf("discount=%s, expected 100.00", o.DiscountAmount)
	}
	if o.TotalPrice != "900.00" {
		t.Fatalf("total=%s, expected 900.00", o.TotalPrice)
	}
}

func TestPlaceOrder_PromoMinimumNotMet_NoSideEffects(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Mouse", "400.00", 5)
	store.promos["TECH50"] = &promo.Promo{
		Code: "TECH50", Type: promo.TypePercent, Value: "10",
		MinOrderValue: "500", MaxDiscount: "500", Active: true,
	}
	svc, _ := newTestService(store)

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.PromoCode = "TECH50"
	_, err := svc.PlaceOrder(context.Background(), "u1", req)
	if !errors.Is(err, promo.ErrMinimumNotMet) {
		t.Fatalf("err=%v, expected ErrMinimumNotMet", err)
	}
	if store.stock("p1") != 5 {
		t.Fatalf("stock=%d, expected untouched 5", store.stock("p1"))
	}
	if n := len(store.orders); n != 0 {
		t.Fatalf("orders=%d, expected none", n)
	}
}

func TestPlaceOrder_PartialShortageRejectsWholeOrder(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("pa", "Item A", "10.00", 10)
	store.addProduct("pb", "Item B", "10.00", 1)
	svc, _ := newTestService(store)

	_, err := svc.PlaceOrder(context.Background(), "u1", placeReq(
		PlaceOrderItem{ProductID: "pa", Quantity: 2},
		PlaceOrderItem{ProductID: "pb", Quantity: 5},
	))

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err=%v, expected InsufficientStockError", err)
	}
	if len(stockErr.Shortages) != 1 || stockErr.Shortages[0].ProductID != "pb" || stockErr.Shortages[0].Available != 1 {
		t.Fatalf("shortages=%+v, expected only pb with available=1", stockErr.Shortages)
	}
	if store.stock("pa") != 10 {
		t.Fatalf("item A stock=%d, expected unchanged 10", store.stock("pa"))
	}
}

func TestPlaceOrder_MissingProductsAggregated(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("pa", "Item A", "10.00", 10)
	svc, _ := newTestService(store)

	_, err := svc.PlaceOrder(context.Background(), "u1", placeReq(
		PlaceOrderItem{ProductID: "ghost1", Quantity: 1},
		PlaceOrderItem{ProductID: "ghost2", Quantity: 1},
		PlaceOrderItem{ProductID: "pa", Quantity: 1},
	))

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err=%v, expected InsufficientStockError", err)
	}
	if len(stockErr.Shortages) != 2 {
		t.Fatalf("shortages=%+v, expected both missing products", stockErr.Shortages)
	}
	if store.stock("pa") != 10 {
		t.Fatalf("stock=%d, expected unchanged", store.stock("pa"))
	}
}

func TestPlaceOrder_ConcurrentNeverOversells(t *testing.T) {
	t.Parallel()

	const stock = 10
	const attempts = 25

	store := newMemStore()
	store.addProduct("p1", "SSD", "99.00", stock)
	svc, _ := newTestService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != stock {
		t.Fatalf("successes=%d, expected exactly %d", successes, stock)
	}
	if store.stock("p1") != 0 {
		t.Fatalf("stock=%d, expected 0", store.stock("p1"))
	}
}

func TestPlaceOrder_MergesDuplicateLines(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Cable", "5.00", 10)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(
		PlaceOrderItem{ProductID: "p1", Quantity: 2},
		PlaceOrderItem{ProductID: "p1", Quantity: 3},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].Quantity != 5 {
		t.Fatalf("items=%+v, expected one merged line with qty 5", o.Items)
	}
	if store.stock("p1") != 5 {
		t.Fatalf("stock=%d, expected 5", store.stock("p1"))
	}
}

func TestPlaceOrder_RejectsNonCODAndBadInput(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Cable", "5.00", 10)
	svc, _ := newTestService(store)

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.PaymentMethod = "CARD"
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for non-COD", err)
	}

	if _, err := svc.PlaceOrder(context.Background(), "u1", placeReq()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for empty cart", err)
	}

	req = placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 0})
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for zero quantity", err)
	}
}

func TestPlaceOrder_CODRegionAndCeiling(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Server", "5000.00", 5)
	hub := &recordingHub{}
	svc := NewService(repoAdapter{store}, store, store, Options{
		COD:       CODConfig{Enabled: true, MaxAmount: decimal.NewFromInt(4000), Regions: []string{"India"}},
		Broadcast: hub,
	})

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.ShippingAddress.Country = "France"
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected region rejection", err)
	}

	req = placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected amount ceiling rejection", err)
	}
	if store.stock("p1") != 5 {
		t.Fatalf("stock=%d, expected untouched", store.stock("p1"))
	}
}

func TestCancel_RestoresStockExactlyOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("pa", "Item A", "10.00", 7)
	store.addProduct("pb", "Item B", "20.00", 4)
	svc, hub := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(
		PlaceOrderItem{ProductID: "pa", Quantity: 3},
		PlaceOrderItem{ProductID: "pb", Quantity: 2},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.stock("pa") != 4 || store.stock("pb") != 2 {
		t.Fatalf("post-order stock: pa=%d pb=%d", store.stock("pa"), store.stock("pb"))
	}

	cancelled, err := svc.Cancel(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status=%s, expected Cancelled", cancelled.Status)
	}
	if store.stock("pa") != 7 || store.stock("pb") != 4 {
		t.Fatalf("restored stock: pa=%d pb=%d, expected 7/4", store.stock("pa"), store.stock("pb"))
	}

	// Cancelling again is rejected and never double-restores.
	if _, err := svc.Cancel(context.Background(), o.ID); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("err=%v, expected ErrAlreadyCancelled", err)
	}
	if store.stock("pa") != 7 || store.stock("pb") != 4 {
		t.Fatalf("double restore: pa=%d pb=%d", store.stock("pa"), store.stock("pb"))
	}

	kinds := hub.kinds()
	if len(kinds) != 2 || kinds[1] != notify.KindOrderUpdated {
		t.Fatalf("events=%v, expected created then updated", kinds)
	}
}

func TestUpdateStatus_CancelledRouteRestocks(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Cancelled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Fatalf("status=%s, expected Cancelled", updated.Status)
	}
	if store.stock("p1") != 3 {
		t.Fatalf("stock=%d, expected restored 3", store.stock("p1"))
	}
}

func TestUpdateStatus_ConcurrentPaymentNotReverted(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	hub := &recordingHub{}
	svc := NewService(&payRaceRepo{repoAdapter: repoAdapter{store}}, store, store, Options{
		COD:       CODConfig{Enabled: true, MaxAmount: decimal.NewFromInt(100000), Regions: []string{"India"}},
		Broadcast: hub,
	})

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The repo marks the order paid between the transition's read and its
	// write; the transition must not revert that payment.
	updated, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Processing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Fatalf("status=%s, expected Processing", updated.Status)
	}

	stored, err := store.GetOrderByID(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.IsPaid || stored.PaidAt == nil {
		t.Fatalf("payment reverted: paid=%v paid_at=%v", stored.IsPaid, stored.PaidAt)
	}
	if stored.PaymentResult.ID != "pay-race" {
		t.Fatalf("payment result lost: %+v", stored.PaymentResult)
	}
	if stored.Status != StatusProcessing {
		t.Fatalf("stored status=%s, expected Processing", stored.Status)
	}
}

func TestUpdateStatus_CancelledRejectsCombinedFields(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{
		Status:         "Cancelled",
		TrackingNumber: "TRK-9",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for cancel+tracking", err)
	}

	_, err = svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{
		Status:       "Cancelled",
		ReturnStatus: "Requested",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for cancel+return", err)
	}
	if store.stock("p1") != 2 {
		t.Fatalf("stock=%d, rejected cancels must not restock", store.stock("p1"))
	}
}

func TestPlaceOrder_DeactivatedPromoRejectedImmediately(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "GPU", "1000.00", 4)
	store.promos["TECH50"] = &promo.Promo{
		Code: "TECH50", Type: promo.TypePercent, Value: "10",
		MinOrderValue: "500", MaxDiscount: "500", Active: true,
	}
	svc, _ := newTestService(store)

	req := placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.PromoCode = "TECH50"
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.mu.Lock()
	store.promos["TECH50"].Active = false
	store.mu.Unlock()

	req = placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1})
	req.PromoCode = "TECH50"
	if _, err := svc.PlaceOrder(context.Background(), "u1", req); !errors.Is(err, promo.ErrInvalidPromo) {
		t.Fatalf("err=%v, expected ErrInvalidPromo right after deactivation", err)
	}
	if store.stock("p1") != 3 {
		t.Fatalf("stock=%d, rejected order must not reserve", store.stock("p1"))
	}
}

func TestUpdateStatus_TrackingImpliesShipped(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{
		TrackingNumber: "TRK-1",
		Carrier:        "BlueDart",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusShipped || updated.TrackingNumber != "TRK-1" || updated.Carrier != "BlueDart" {
		t.Fatalf("got status=%s tracking=%s carrier=%s", updated.Status, updated.TrackingNumber, updated.Carrier)
	}
	if store.stock("p1") != 2 {
		t.Fatalf("stock=%d, shipping must not restock", store.stock("p1"))
	}
}

func TestUpdateStatus_DeliveredMarksCODPaid(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Delivered"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.IsDelivered || updated.DeliveredAt == nil {
		t.Fatalf("delivered flags not set: %+v", updated)
	}
	if !updated.IsPaid || updated.PaidAt == nil {
		t.Fatal("COD delivery must mark the order paid")
	}
}

func TestUpdateStatus_BackwardsRejected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Shipped"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Pending"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err=%v, expected ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), o.ID, UpdateStatusRequest{Status: "Teleported"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, expected ErrInvalidInput for unknown status", err)
	}
}

func TestRequestReturn_OwnershipAndIdempotence(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.RequestReturn(context.Background(), o.ID, "intruder", "broken"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err=%v, expected ErrNotOwner", err)
	}

	updated, err := svc.RequestReturn(context.Background(), o.ID, "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ReturnStatus != ReturnRequested || updated.ReturnReason != "Not specified" {
		t.Fatalf("return=%s reason=%q", updated.ReturnStatus, updated.ReturnReason)
	}

	if _, err := svc.RequestReturn(context.Background(), o.ID, "u1", "again"); !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("err=%v, expected ErrReturnAlreadyRequested", err)
	}

	if _, err := svc.RequestReturn(context.Background(), "missing", "u1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
}

func TestGetForUser_OwnershipCheck(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addProduct("p1", "Hub", "30.00", 3)
	svc, _ := newTestService(store)

	o, err := svc.PlaceOrder(context.Background(), "u1", placeReq(PlaceOrderItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.GetForUser(context.Background(), o.ID, "u2", false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err=%v, expected ErrNotOwner", err)
	}
	if _, err := svc.GetForUser(context.Background(), o.ID, "u2", true); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func dec2(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}
