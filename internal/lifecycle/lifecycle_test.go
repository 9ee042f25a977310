package lifecycle

import (
	"errors"
	"testing"

	"github.com/example/food-dispatch/internal/models"
)

func order(status models.OrderStatus, courierID string) *models.Order {
	return &models.Order{ID: "o1", Status: status, CourierID: courierID}
}

func TestHappyPathHops(t *testing.T) {
	cases := []struct {
		from, to models.OrderStatus
		role     models.ActorRole
		courier  string
	}{
		{models.OrderPending, models.OrderAccepted, models.RoleRestaurant, ""},
		{models.OrderAccepted, models.OrderCollecting, models.RoleRestaurant, ""},
		{models.OrderCollecting, models.OrderDelivering, models.RoleCourier, "c1"},
		{models.OrderCollecting, models.OrderDelivering, models.RoleRestaurant, "c1"},
		{models.OrderDelivering, models.OrderDelivered, models.RoleCourier, "c1"},
		{models.OrderDelivering, models.OrderDelivered, models.RoleCustomer, "c1"},
	}
	for _, c := range cases {
		apply, err := Check(order(c.from, c.courier), c.role, c.to)
		if err != nil {
			t.Fatalf("%s->%s by %s: unexpected error %v", c.from, c.to, c.role, err)
		}
		if !apply {
			t.Fatalf("%s->%s by %s: expected apply", c.from, c.to, c.role)
		}
	}
}

func TestCancellation(t *testing.T) {
	for _, role := range []models.ActorRole{models.RoleRestaurant, models.RoleCustomer} {
		if apply, err := Check(order(models.OrderPending, ""), role, models.OrderCancelled); err != nil || !apply {
			t.Fatalf("pending cancel by %s: apply=%v err=%v", role, apply, err)
		}
	}
	// restaurant may cancel an accepted order only while unassigned
	if apply, err := Check(order(models.OrderAccepted, ""), models.RoleRestaurant, models.OrderCancelled); err != nil || !apply {
		t.Fatalf("accepted cancel: apply=%v err=%v", apply, err)
	}
	if _, err := Check(order(models.OrderAccepted, "c1"), models.RoleRestaurant, models.OrderCancelled); err == nil {
		t.Fatal("expected cancel with assigned courier to be rejected")
	}
	if _, err := Check(order(models.OrderAccepted, ""), models.RoleCustomer, models.OrderCancelled); err == nil {
		t.Fatal("customer cannot cancel an accepted order")
	}
}

func TestIllegalHops(t *testing.T) {
	cases := []struct {
		from, to models.OrderStatus
		role     models.ActorRole
		courier  string
	}{
		{models.OrderPending, models.OrderCollecting, models.RoleCourier, ""},
		{models.OrderPending, models.OrderDelivering, models.RoleCourier, ""},
		{models.OrderPending, models.OrderDelivered, models.RoleCustomer, ""},
		{models.OrderPending, models.OrderAccepted, models.RoleCourier, ""},
		{models.OrderCollecting, models.OrderDelivering, models.RoleCourier, ""}, // no courier assigned yet
		{models.OrderDelivered, models.OrderPending, models.RoleRestaurant, "c1"},
		{models.OrderCancelled, models.OrderAccepted, models.RoleRestaurant, ""},
		{models.OrderDelivering, models.OrderDelivered, models.RoleRestaurant, "c1"},
	}
	for _, c := range cases {
		_, err := Check(order(c.from, c.courier), c.role, c.to)
		var ite *models.IllegalTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("%s->%s by %s: expected IllegalTransitionError, got %v", c.from, c.to, c.role, err)
		}
		if ite.From != c.from || ite.To != c.to {
			t.Fatalf("error names wrong pair: %v", ite)
		}
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	for _, s := range []models.OrderStatus{models.OrderPending, models.OrderAccepted, models.OrderDelivered} {
		apply, err := Check(order(s, "c1"), models.RoleRestaurant, s)
		if err != nil {
			t.Fatalf("same-status %s: unexpected error %v", s, err)
		}
		if apply {
			t.Fatalf("same-status %s: must not apply", s)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidStatus(models.OrderCollecting) {
		t.Fatal("collecting should be valid")
	}
	if ValidStatus("preparing") {
		t.Fatal("unknown status accepted")
	}
}
