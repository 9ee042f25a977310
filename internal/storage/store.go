package storage

import (
	"context"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// Store defines persistence for orders and delivery requests. Both
// implementations (Postgres and in-memory) give the same guarantees:
//
//   - ApplyTransition is conditional on the order's version and returns
//     models.ErrConflict when a concurrent transition won the race.
//   - AcceptRequest is a single atomic conditional update; of N concurrent
//     acceptors exactly one succeeds, the rest get models.ErrAlreadyAccepted
//     (or models.ErrExpired when the deadline passed first).
//   - Expiry is lazy: reads treat a past deadline as expired regardless of
//     whether a sweep has run.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// ListOrders scopes results by actor: customers see their own orders,
	// restaurants theirs, couriers the ones assigned to them. A non-empty
	// status narrows the result. Ordered by created_at descending.
	ListOrders(ctx context.Context, role models.ActorRole, actorID string, status models.OrderStatus) ([]models.Order, error)
	// ApplyTransition persists a validated status hop. expectVersion is the
	// version the caller read; a mismatch yields models.ErrConflict.
	// accepted_at and delivered_at are stamped on their respective edges,
	// exactly once.
	ApplyTransition(ctx context.Context, orderID string, expectVersion int64, to models.OrderStatus) (*models.Order, error)
	// AssignCourier sets the courier on an order and advances it to
	// collecting. Called by AcceptRequest implementations inside the same
	// atomic scope; exposed for completeness.
	AssignCourier(ctx context.Context, orderID, courierID string) (*models.Order, error)

	CreateRequest(ctx context.Context, r *models.DeliveryRequest) error
	GetRequest(ctx context.Context, id string) (*models.DeliveryRequest, error)
	ListOpenRequests(ctx context.Context, now time.Time) ([]models.DeliveryRequest, error)
	// AcceptRequest implements first-acceptor-wins and assigns the courier
	// to the parent order in the same atomic scope.
	AcceptRequest(ctx context.Context, requestID, courierID string, now time.Time) (*models.DeliveryRequest, error)
	// DeclineRequest records a decline; the request stays open for others.
	DeclineRequest(ctx context.Context, requestID, courierID string) error
	// ExpireStale marks pending requests past their deadline as expired and
	// returns how many were flipped. Optional optimization; reads are
	// already expiry-aware.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
