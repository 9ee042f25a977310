package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// MemoryStore keeps everything behind one mutex, which trivially gives the
// same atomicity as the Postgres conditional updates. Used in tests and for
// dependency-free local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	requests map[string]*models.DeliveryRequest
	declines map[string]map[string]bool // requestID -> courierID set
	nowFunc  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		requests: make(map[string]*models.DeliveryRequest),
		declines: make(map[string]map[string]bool),
		nowFunc:  time.Now,
	}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, role models.ActorRole, actorID string, status models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if !ownedBy(o, role, actorID) {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		cp := *o
		cp.Items = append([]models.OrderItem(nil), o.Items...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func ownedBy(o *models.Order, role models.ActorRole, actorID string) bool {
	switch role {
	case models.RoleCustomer:
		return o.CustomerID == actorID
	case models.RoleRestaurant:
		return o.RestaurantID == actorID
	case models.RoleCourier:
		return o.CourierID == actorID
	}
	return false
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, orderID string, expectVersion int64, to models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Version != expectVersion {
		return nil, models.ErrConflict
	}
	now := m.nowFunc()
	o.Status = to
	o.Version++
	o.UpdatedAt = now
	stampEdges(o, to, now)
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp, nil
}

func stampEdges(o *models.Order, to models.OrderStatus, now time.Time) {
	switch to {
	case models.OrderAccepted:
		if o.AcceptedAt == nil {
			t := now
			o.AcceptedAt = &t
		}
	case models.OrderDelivered:
		if o.DeliveredAt == nil {
			t := now
			o.DeliveredAt = &t
		}
	}
}

func (m *MemoryStore) AssignCourier(ctx context.Context, orderID, courierID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignCourierLocked(orderID, courierID)
}

func (m *MemoryStore) assignCourierLocked(orderID, courierID string) (*models.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	o.CourierID = courierID
	if o.Status == models.OrderAccepted {
		o.Status = models.OrderCollecting
	}
	o.Version++
	o.UpdatedAt = m.nowFunc()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	for _, existing := range m.requests {
		if existing.OrderID != r.OrderID || existing.Status != models.RequestPending {
			continue
		}
		if existing.Expired(now) {
			existing.Status = models.RequestExpired
			continue
		}
		return models.ErrConflict
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status == models.RequestPending && r.Expired(m.nowFunc()) {
		r.Status = models.RequestExpired
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListOpenRequests(ctx context.Context, now time.Time) ([]models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryRequest
	for _, r := range m.requests {
		if r.Status != models.RequestPending {
			continue
		}
		if r.Expired(now) {
			r.Status = models.RequestExpired
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AcceptRequest(ctx context.Context, requestID, courierID string, now time.Time) (*models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	switch {
	case r.Status == models.RequestAccepted:
		return nil, models.ErrAlreadyAccepted
	case r.Status == models.RequestExpired:
		return nil, models.ErrExpired
	case r.Status != models.RequestPending:
		return nil, models.ErrConflict
	}
	if r.Expired(now) {
		r.Status = models.RequestExpired
		return nil, models.ErrExpired
	}
	// the parent order must exist before the request is claimed, otherwise a
	// failed assignment would strand the request in accepted
	if _, ok := m.orders[r.OrderID]; !ok {
		return nil, models.ErrNotFound
	}
	r.Status = models.RequestAccepted
	r.CourierID = courierID
	if _, err := m.assignCourierLocked(r.OrderID, courierID); err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) DeclineRequest(ctx context.Context, requestID, courierID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[requestID]; !ok {
		return models.ErrNotFound
	}
	set, ok := m.declines[requestID]
	if !ok {
		set = make(map[string]bool)
		m.declines[requestID] = set
	}
	set[courierID] = true
	return nil
}

// DeclinedBy reports whether a courier has declined a request. Test helper.
func (m *MemoryStore) DeclinedBy(requestID, courierID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.declines[requestID][courierID]
}

func (m *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Status == models.RequestPending && r.Expired(now) {
			r.Status = models.RequestExpired
			n++
		}
	}
	return n, nil
}
