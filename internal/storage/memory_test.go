package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

func seedOrder(t *testing.T, m *MemoryStore, status models.OrderStatus) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:           "o1",
		CustomerID:   "cust1",
		RestaurantID: "rest1",
		Status:       status,
		Subtotal:     1350,
		DeliveryFee:  399,
		Total:        1749,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := m.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func seedRequest(t *testing.T, m *MemoryStore, orderID string, expiresAt time.Time) *models.DeliveryRequest {
	t.Helper()
	r := &models.DeliveryRequest{
		ID:        "req-" + orderID,
		OrderID:   orderID,
		Status:    models.RequestPending,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	if err := m.CreateRequest(context.Background(), r); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func TestApplyTransitionVersionCheck(t *testing.T) {
	m := NewMemoryStore()
	o := seedOrder(t, m, models.OrderPending)
	ctx := context.Background()

	got, err := m.ApplyTransition(ctx, o.ID, o.Version, models.OrderAccepted)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != models.OrderAccepted || got.Version != o.Version+1 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.AcceptedAt == nil {
		t.Fatal("accepted_at not stamped")
	}

	// stale version loses
	if _, err := m.ApplyTransition(ctx, o.ID, o.Version, models.OrderCancelled); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := m.ApplyTransition(ctx, "missing", 0, models.OrderAccepted); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeliveredAtStampedOnce(t *testing.T) {
	m := NewMemoryStore()
	o := seedOrder(t, m, models.OrderDelivering)
	ctx := context.Background()

	first, err := m.ApplyTransition(ctx, o.ID, 0, models.OrderDelivered)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if first.DeliveredAt == nil {
		t.Fatal("delivered_at not stamped")
	}
}

func TestAcceptRequestFirstWins(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	r := seedRequest(t, m, "o1", time.Now().Add(5*time.Minute))
	ctx := context.Background()

	const couriers = 8
	var wg sync.WaitGroup
	errs := make([]error, couriers)
	for i := 0; i < couriers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.AcceptRequest(ctx, r.ID, courierID(i), time.Now())
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrAlreadyAccepted):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != couriers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}

	got, err := m.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != models.RequestAccepted || got.CourierID == "" {
		t.Fatalf("request not settled: %+v", got)
	}
	o, err := m.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.CourierID != got.CourierID {
		t.Fatalf("order assigned to %q, request won by %q", o.CourierID, got.CourierID)
	}
	if o.Status != models.OrderCollecting {
		t.Fatalf("order status = %s, want collecting", o.Status)
	}
}

func courierID(i int) string { return string(rune('a' + i)) }

func TestAcceptExpiredRequest(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	r := seedRequest(t, m, "o1", time.Now().Add(-time.Minute))
	ctx := context.Background()

	if _, err := m.AcceptRequest(ctx, r.ID, "c1", time.Now()); !errors.Is(err, models.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// the expired request no longer blocks a fresh one for the same order
	if err := m.CreateRequest(ctx, &models.DeliveryRequest{
		ID: "req2", OrderID: "o1", Status: models.RequestPending,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("reopen after expiry: %v", err)
	}
}

func TestAcceptOrphanRequestLeavesItPending(t *testing.T) {
	m := NewMemoryStore()
	// request whose parent order was never stored
	r := seedRequest(t, m, "ghost", time.Now().Add(5*time.Minute))
	ctx := context.Background()

	if _, err := m.AcceptRequest(ctx, r.ID, "c1", time.Now()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := m.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.RequestPending || got.CourierID != "" {
		t.Fatalf("failed accept mutated the request: %+v", got)
	}
}

func TestDuplicateOpenRequestConflicts(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	seedRequest(t, m, "o1", time.Now().Add(5*time.Minute))
	err := m.CreateRequest(context.Background(), &models.DeliveryRequest{
		ID: "req2", OrderID: "o1", Status: models.RequestPending,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(5 * time.Minute),
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListOpenRequestsHidesExpired(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	seedRequest(t, m, "o1", time.Now().Add(-time.Minute)) // stale, opened in the past

	open, err := m.ListOpenRequests(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expired request listed as open: %+v", open)
	}
	// lazy expiry flipped the row
	got, err := m.GetRequest(context.Background(), "req-o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.RequestExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestDeclineKeepsRequestOpen(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	r := seedRequest(t, m, "o1", time.Now().Add(5*time.Minute))
	ctx := context.Background()

	if err := m.DeclineRequest(ctx, r.ID, "c1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if !m.DeclinedBy(r.ID, "c1") {
		t.Fatal("decline not recorded")
	}
	got, _ := m.GetRequest(ctx, r.ID)
	if got.Status != models.RequestPending {
		t.Fatalf("decline closed the request: %s", got.Status)
	}
	// another courier can still take it
	if _, err := m.AcceptRequest(ctx, r.ID, "c2", time.Now()); err != nil {
		t.Fatalf("accept after decline: %v", err)
	}
}

func TestExpireStaleSweep(t *testing.T) {
	m := NewMemoryStore()
	seedOrder(t, m, models.OrderAccepted)
	seedRequest(t, m, "o1", time.Now().Add(-time.Minute))
	n, err := m.ExpireStale(context.Background(), time.Now())
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
}

func TestListOrdersScoping(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, o := range []*models.Order{
		{ID: "a", CustomerID: "cust1", RestaurantID: "rest1", Status: models.OrderPending},
		{ID: "b", CustomerID: "cust1", RestaurantID: "rest2", Status: models.OrderDelivered, CourierID: "c1"},
		{ID: "c", CustomerID: "cust2", RestaurantID: "rest1", Status: models.OrderPending},
	} {
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := m.CreateOrder(ctx, o); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, _ := m.ListOrders(ctx, models.RoleCustomer, "cust1", "")
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("customer scope/order wrong: %+v", got)
	}
	got, _ = m.ListOrders(ctx, models.RoleRestaurant, "rest1", models.OrderPending)
	if len(got) != 2 {
		t.Fatalf("restaurant scope wrong: %+v", got)
	}
	got, _ = m.ListOrders(ctx, models.RoleCourier, "c1", "")
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("courier scope wrong: %+v", got)
	}
}
