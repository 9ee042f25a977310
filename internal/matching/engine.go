package matching

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/food-dispatch/internal/catalog"
	"github.com/example/food-dispatch/internal/eta"
	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/storage"
)

// Dispatcher pushes a freshly opened request to couriers and reports how
// many were reached. Best-effort: couriers also poll ListOpen.
type Dispatcher interface {
	Broadcast(offer models.DeliveryOffer) int
}

// Engine resolves which courier claims an order's delivery leg. The actual
// first-accept-wins race lives in the store; the engine owns request
// creation, expiry, ordering and offer dispatch.
type Engine struct {
	Store    storage.Store
	Catalog  catalog.Catalog
	Dispatch Dispatcher // optional
	Logger   *slog.Logger

	RequestTTL      time.Duration
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache

	nowFunc func() time.Time
}

func NewEngine(store storage.Store, cat catalog.Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:           store,
		Catalog:         cat,
		Logger:          logger,
		RequestTTL:      5 * time.Minute,
		DefaultSpeedMps: 5,
		nowFunc:         time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// Open creates the delivery request for an accepted order and broadcasts it
// to connected couriers. One active request per order; a second Open while
// the first is still pending fails with ErrConflict. After the old request
// expired, Open succeeds again.
func (e *Engine) Open(ctx context.Context, orderID string) (*models.DeliveryRequest, error) {
	o, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case models.OrderAccepted, models.OrderCollecting:
	default:
		return nil, models.Validationf("order %s is %s, delivery can only be requested once accepted", o.ID, o.Status)
	}

	now := e.now()
	r := &models.DeliveryRequest{
		ID:        newID(),
		OrderID:   o.ID,
		Status:    models.RequestPending,
		CreatedAt: now,
		ExpiresAt: now.Add(e.RequestTTL),
	}
	if err := e.Store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsOpened.Inc()
	e.Logger.Info("delivery request opened", "request_id", r.ID, "order_id", o.ID, "expires_at", r.ExpiresAt)

	if e.Dispatch != nil {
		offer := models.DeliveryOffer{
			RequestID:    r.ID,
			OrderID:      o.ID,
			RestaurantID: o.RestaurantID,
			Dropoff:      o.Dest,
			Fee:          o.DeliveryFee,
			ExpiresAt:    r.ExpiresAt.Format(time.RFC3339),
		}
		if rest, err := e.Catalog.Restaurant(ctx, o.RestaurantID); err == nil {
			offer.Pickup = rest.Loc
		}
		reached := e.Dispatch.Broadcast(offer)
		e.Logger.Debug("offer broadcast", "request_id", r.ID, "couriers_reached", reached)
	}
	return r, nil
}

// ListOpen returns pending, unexpired requests. With a courier location the
// result is ordered by straight-line distance to the restaurant, nearest
// first, and carries a pickup ETA.
func (e *Engine) ListOpen(ctx context.Context, courierLoc *models.Coord) ([]models.DeliveryRequest, error) {
	reqs, err := e.Store.ListOpenRequests(ctx, e.now())
	if err != nil {
		return nil, err
	}
	if courierLoc == nil {
		return reqs, nil
	}
	for i := range reqs {
		pickup, ok := e.pickupCoord(ctx, reqs[i].OrderID)
		if !ok {
			continue
		}
		reqs[i].DistanceM = geo.Haversine(courierLoc.Lat, courierLoc.Lon, pickup.Lat, pickup.Lon)
		reqs[i].PickupETA = e.pickupETA(*courierLoc, pickup)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].DistanceM < reqs[j].DistanceM })
	return reqs, nil
}

func (e *Engine) pickupCoord(ctx context.Context, orderID string) (models.Coord, bool) {
	o, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Coord{}, false
	}
	rest, err := e.Catalog.Restaurant(ctx, o.RestaurantID)
	if err != nil {
		return models.Coord{}, false
	}
	return rest.Loc, true
}

func (e *Engine) pickupETA(from, to models.Coord) float64 {
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(from, to); ok {
			return v
		}
	}
	if e.ETAClient != nil {
		if v, err := e.ETAClient.EstimateSeconds(from, to); err == nil {
			if e.ETACache != nil {
				e.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, e.DefaultSpeedMps)
}

// Accept claims a pending request for a courier. First acceptor wins; the
// losers get ErrAlreadyAccepted so the client can refresh and show that the
// delivery was already taken.
func (e *Engine) Accept(ctx context.Context, requestID, courierID string) (*models.DeliveryRequest, error) {
	if courierID == "" {
		return nil, models.Validationf("courier_id is required")
	}
	r, err := e.Store.AcceptRequest(ctx, requestID, courierID, e.now())
	switch {
	case err == nil:
		observability.RequestsAccepted.Inc()
		e.Logger.Info("delivery request accepted", "request_id", requestID, "courier_id", courierID, "order_id", r.OrderID)
		return r, nil
	case errors.Is(err, models.ErrAlreadyAccepted), errors.Is(err, models.ErrConflict):
		observability.AcceptConflicts.Inc()
		return nil, err
	case errors.Is(err, models.ErrExpired):
		observability.RequestsExpired.Inc()
		return nil, err
	default:
		return nil, err
	}
}

// Decline records a courier's pass on a request; the request stays open.
func (e *Engine) Decline(ctx context.Context, requestID, courierID string) error {
	if courierID == "" {
		return models.Validationf("courier_id is required")
	}
	return e.Store.DeclineRequest(ctx, requestID, courierID)
}

// RunExpirySweep flips stale requests periodically until ctx is cancelled.
// Purely an optimization: reads already treat past deadlines as expired.
func (e *Engine) RunExpirySweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.Store.ExpireStale(ctx, e.now())
			if err != nil {
				e.Logger.Warn("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				observability.RequestsExpired.Add(float64(n))
				e.Logger.Info("expired stale delivery requests", "count", n)
			}
		}
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
