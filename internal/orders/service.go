package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/example/food-dispatch/internal/catalog"
	"github.com/example/food-dispatch/internal/lifecycle"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/storage"
)

// EventSink receives OrderStatusChanged events. Kafka in production, a
// no-op or recorder elsewhere.
type EventSink interface {
	PublishOrderEvent(ev models.OrderEvent) error
}

// PaymentProvider mirrors payments.Provider; declared here so the service
// can be built without importing stripe in tests.
type PaymentProvider interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// CourierTally is the post-delivery bookkeeping hook (completed-delivery
// counter on the courier record).
type CourierTally interface {
	BumpDeliveries(id string)
}

// CourierNotifier pushes a status event to the assigned courier's live
// session. Satisfied by dispatch.WSRegistry.
type CourierNotifier interface {
	Notify(courierID string, ev models.OrderEvent) error
}

type NewItem struct {
	DishID   string `json:"dish_id"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

type CreateParams struct {
	CustomerID   string        `json:"customer_id"`
	RestaurantID string        `json:"restaurant_id"`
	Address      string        `json:"delivery_address"`
	Dest         *models.Coord `json:"delivery_coord,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Items        []NewItem     `json:"items"`
}

// Service owns order creation and status transitions. Prices and fees are
// always computed here from the catalog, never trusted from the client.
type Service struct {
	Store    storage.Store
	Catalog  catalog.Catalog
	Events   EventSink       // optional
	Notify   CourierNotifier // optional
	Payments PaymentProvider // optional
	Tally    CourierTally    // optional
	Currency string
	Logger   *slog.Logger

	nowFunc func() time.Time
}

func NewService(store storage.Store, cat catalog.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Catalog: cat, Currency: "usd", Logger: logger, nowFunc: time.Now}
}

func (s *Service) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// Create validates the cart against the live catalog, snapshots unit prices,
// computes subtotal and total server-side and persists the order as pending.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Order, error) {
	if len(p.Items) == 0 {
		return nil, models.Validationf("order has no items")
	}
	if p.CustomerID == "" || p.RestaurantID == "" {
		return nil, models.Validationf("customer_id and restaurant_id are required")
	}
	if p.Address == "" {
		return nil, models.Validationf("delivery_address is required")
	}

	rest, err := s.Catalog.Restaurant(ctx, p.RestaurantID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.Validationf("unknown restaurant %s", p.RestaurantID)
	}
	if err != nil {
		return nil, err
	}
	if !rest.Open {
		return nil, models.Validationf("restaurant %s is closed", rest.ID)
	}

	var subtotal int64
	items := make([]models.OrderItem, 0, len(p.Items))
	for _, in := range p.Items {
		if in.Quantity < 1 {
			return nil, models.Validationf("dish %s: quantity must be >= 1", in.DishID)
		}
		dish, err := s.Catalog.Dish(ctx, in.DishID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Validationf("unknown dish %s", in.DishID)
		}
		if err != nil {
			return nil, err
		}
		if dish.RestaurantID != rest.ID {
			return nil, models.Validationf("dish %s does not belong to restaurant %s", dish.ID, rest.ID)
		}
		if !dish.Available {
			return nil, models.Validationf("dish %s is unavailable", dish.ID)
		}
		items = append(items, models.OrderItem{
			DishID:   dish.ID,
			Quantity: in.Quantity,
			Price:    dish.Price, // snapshot, menu edits won't touch it
			Notes:    in.Notes,
		})
		subtotal += dish.Price * int64(in.Quantity)
	}
	if rest.MinOrder > 0 && subtotal < rest.MinOrder {
		return nil, models.Validationf("subtotal %d below restaurant minimum %d", subtotal, rest.MinOrder)
	}

	now := s.now()
	o := &models.Order{
		ID:           newID(),
		CustomerID:   p.CustomerID,
		RestaurantID: rest.ID,
		Items:        items,
		Subtotal:     subtotal,
		DeliveryFee:  rest.DeliveryFee,
		Total:        subtotal + rest.DeliveryFee,
		Status:       models.OrderPending,
		Address:      p.Address,
		Dest:         p.Dest,
		Notes:        p.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if s.Payments != nil {
		ref, err := s.Payments.Hold(ctx, o.Total, s.Currency, o.CustomerID)
		if err != nil {
			// the hold is best-effort at checkout; settlement is retried
			// by the payments collaborator out of band
			s.Logger.Warn("payment hold failed", "order_id", o.ID, "error", err)
		} else {
			o.PaymentRef = ref
		}
	}

	if err := s.Store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	observability.OrdersCreated.Inc()
	s.Logger.Info("order created", "order_id", o.ID, "restaurant_id", o.RestaurantID, "total", o.Total)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *Service) ListFor(ctx context.Context, role models.ActorRole, actorID string, status models.OrderStatus) ([]models.Order, error) {
	switch role {
	case models.RoleCustomer, models.RoleRestaurant, models.RoleCourier:
	default:
		return nil, models.Validationf("unknown role %q", role)
	}
	if status != "" && !lifecycle.ValidStatus(status) {
		return nil, models.Validationf("unknown status %q", status)
	}
	return s.Store.ListOrders(ctx, role, actorID, status)
}

// Transition applies one validated status hop. A request targeting the
// current status returns the order unchanged (safe retry). Successful hops
// publish an event, settle the payment hold on terminal edges and bump the
// courier tally on delivered.
func (s *Service) Transition(ctx context.Context, orderID string, role models.ActorRole, to models.OrderStatus) (*models.Order, error) {
	if !lifecycle.ValidStatus(to) {
		return nil, models.Validationf("unknown status %q", to)
	}
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	apply, err := lifecycle.Check(o, role, to)
	if err != nil {
		return nil, err
	}
	if !apply {
		return o, nil // idempotent no-op, version untouched
	}

	old := o.Status
	updated, err := s.Store.ApplyTransition(ctx, orderID, o.Version, to)
	if err != nil {
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(old), string(to)).Inc()
	s.Logger.Info("order transitioned",
		"order_id", orderID, "from", old, "to", to, "actor", role)

	s.afterTransition(ctx, updated, old, role)
	return updated, nil
}

func (s *Service) afterTransition(ctx context.Context, o *models.Order, old models.OrderStatus, actor models.ActorRole) {
	ev := models.OrderEvent{
		OrderID:   o.ID,
		OldStatus: old,
		NewStatus: o.Status,
		Actor:     actor,
		CourierID: o.CourierID,
		At:        s.now(),
	}
	if s.Events != nil {
		if err := s.Events.PublishOrderEvent(ev); err != nil {
			s.Logger.Warn("event publish failed", "order_id", o.ID, "error", err)
		}
	}
	if s.Notify != nil && o.CourierID != "" {
		// a courier without a live session just misses the push; they poll
		if err := s.Notify.Notify(o.CourierID, ev); err != nil {
			s.Logger.Debug("courier notify skipped", "order_id", o.ID, "courier_id", o.CourierID, "error", err)
		}
	}
	if o.PaymentRef != "" && s.Payments != nil {
		switch o.Status {
		case models.OrderDelivered:
			if err := s.Payments.Capture(ctx, o.PaymentRef); err != nil {
				s.Logger.Warn("payment capture failed", "order_id", o.ID, "error", err)
			}
		case models.OrderCancelled:
			if err := s.Payments.Cancel(ctx, o.PaymentRef); err != nil {
				s.Logger.Warn("payment cancel failed", "order_id", o.ID, "error", err)
			}
		}
	}
	if o.Status == models.OrderDelivered && o.CourierID != "" && s.Tally != nil {
		s.Tally.BumpDeliveries(o.CourierID)
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
