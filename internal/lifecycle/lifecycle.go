package lifecycle

import (
	"github.com/example/food-dispatch/internal/models"
)

// rule is one row of the transition table: who may move an order from one
// status to the next, and what must already be true on the order.
type rule struct {
	from, to models.OrderStatus
	roles    []models.ActorRole
	// requireCourier: transition only valid once a courier is assigned.
	// forbidCourier: transition only valid while no courier is assigned.
	requireCourier bool
	forbidCourier  bool
}

var table = []rule{
	{from: models.OrderPending, to: models.OrderAccepted, roles: []models.ActorRole{models.RoleRestaurant}},
	{from: models.OrderPending, to: models.OrderCancelled, roles: []models.ActorRole{models.RoleRestaurant, models.RoleCustomer}},
	{from: models.OrderAccepted, to: models.OrderCancelled, roles: []models.ActorRole{models.RoleRestaurant}, forbidCourier: true},
	{from: models.OrderAccepted, to: models.OrderCollecting, roles: []models.ActorRole{models.RoleRestaurant}},
	{from: models.OrderCollecting, to: models.OrderDelivering, roles: []models.ActorRole{models.RoleRestaurant, models.RoleCourier}, requireCourier: true},
	{from: models.OrderDelivering, to: models.OrderDelivered, roles: []models.ActorRole{models.RoleCourier, models.RoleCustomer}, requireCourier: true},
}

// Check validates a requested transition against the table. A request that
// targets the order's current status is an idempotent no-op: Check returns
// (false, nil) and the caller must not mutate the order. On success it
// returns (true, nil); otherwise an IllegalTransitionError.
func Check(o *models.Order, role models.ActorRole, to models.OrderStatus) (apply bool, err error) {
	if to == o.Status {
		return false, nil // safe client retry
	}
	for _, r := range table {
		if r.from != o.Status || r.to != to {
			continue
		}
		if !roleAllowed(r.roles, role) {
			continue
		}
		if r.requireCourier && o.CourierID == "" {
			return false, &models.IllegalTransitionError{From: o.Status, To: to, Role: role}
		}
		if r.forbidCourier && o.CourierID != "" {
			return false, &models.IllegalTransitionError{From: o.Status, To: to, Role: role}
		}
		return true, nil
	}
	return false, &models.IllegalTransitionError{From: o.Status, To: to, Role: role}
}

func roleAllowed(roles []models.ActorRole, role models.ActorRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known order statuses.
func ValidStatus(s models.OrderStatus) bool {
	switch s {
	case models.OrderPending, models.OrderAccepted, models.OrderCollecting,
		models.OrderDelivering, models.OrderDelivered, models.OrderCancelled:
		return true
	}
	return false
}
