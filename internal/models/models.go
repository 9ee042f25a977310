package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ActorRole identifies who is asking for an operation. Every status
// transition is gated on the role; authentication itself is out of scope.
type ActorRole string

const (
	RoleCustomer   ActorRole = "customer"
	RoleRestaurant ActorRole = "restaurant"
	RoleCourier    ActorRole = "courier"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderAccepted   OrderStatus = "accepted"
	OrderCollecting OrderStatus = "collecting"
	OrderDelivering OrderStatus = "delivering"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

type OrderItem struct {
	DishID   string `json:"dish_id"`
	Quantity int    `json:"quantity"`
	// Price is the unit price in cents snapshotted when the order was
	// placed. Menu edits after checkout never change it.
	Price int64  `json:"price"`
	Notes string `json:"notes,omitempty"`
}

type Order struct {
	ID           string      `json:"id"`
	CustomerID   string      `json:"customer_id"`
	RestaurantID string      `json:"restaurant_id"`
	CourierID    string      `json:"courier_id,omitempty"` // empty until assigned
	Items        []OrderItem `json:"items,omitempty"`
	Subtotal     int64       `json:"subtotal"`     // cents
	DeliveryFee  int64       `json:"delivery_fee"` // cents
	Total        int64       `json:"total"`        // subtotal + delivery fee
	Status       OrderStatus `json:"status"`
	Address      string      `json:"delivery_address"`
	Dest         *Coord      `json:"delivery_coord,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	// PaymentRef is the provider-side hold reference (PaymentIntent id);
	// empty when no hold was placed.
	PaymentRef string `json:"payment_ref,omitempty"`
	// Version is the optimistic concurrency counter; bumped on every real
	// mutation, untouched by idempotent same-status transitions.
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
	RequestExpired  RequestStatus = "expired"
)

// DeliveryRequest is the open invitation for couriers to claim an order's
// delivery leg. At most one non-terminal request exists per order.
type DeliveryRequest struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Status    RequestStatus `json:"status"`
	CourierID string        `json:"courier_id,omitempty"` // winner, set on accept
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	// Distance and pickup ETA are computed per caller, never persisted.
	DistanceM float64 `json:"distance_m,omitempty"`
	PickupETA float64 `json:"pickup_eta_seconds,omitempty"`
}

// Expired reports whether the request deadline has passed at now.
func (r DeliveryRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type Courier struct {
	ID              string    `json:"id"`
	BikePlate       string    `json:"bike_plate,omitempty"`
	Loc             Coord     `json:"loc"`
	Rating          float64   `json:"rating"` // 0..5
	TotalDeliveries int       `json:"total_deliveries"`
	Active          bool      `json:"active"`
	Updated         time.Time `json:"updated"`
}

// Dish is a catalog read model; the order service snapshots its price.
type Dish struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurant_id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"` // cents
	Available    bool   `json:"available"`
}

type Restaurant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Loc         Coord  `json:"loc"`
	DeliveryFee int64  `json:"delivery_fee"` // cents
	MinOrder    int64  `json:"min_order"`    // cents, 0 = no minimum
	Open        bool   `json:"open"`
}

// OrderEvent is published on every successful status transition.
type OrderEvent struct {
	OrderID   string      `json:"order_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
	Actor     ActorRole   `json:"actor"`
	CourierID string      `json:"courier_id,omitempty"`
	At        time.Time   `json:"at"`
}

// DeliveryOffer is what connected couriers receive when a request opens.
type DeliveryOffer struct {
	RequestID    string  `json:"request_id"`
	OrderID      string  `json:"order_id"`
	RestaurantID string  `json:"restaurant_id"`
	Pickup       Coord   `json:"pickup"`
	Dropoff      *Coord  `json:"dropoff,omitempty"`
	Fee          int64   `json:"fee"`
	PickupETA    float64 `json:"pickup_eta_seconds,omitempty"`
	ExpiresAt    string  `json:"expires_at"`
}
