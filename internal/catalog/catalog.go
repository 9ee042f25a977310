package catalog

import (
	"context"
	"sync"

	"github.com/example/food-dispatch/internal/models"
)

// Catalog is the read surface the order service needs: dish price and
// availability at checkout time, and the restaurant's fee and minimum.
// Menu management itself lives elsewhere.
type Catalog interface {
	Dish(ctx context.Context, id string) (*models.Dish, error)
	Restaurant(ctx context.Context, id string) (*models.Restaurant, error)
}

type Memory struct {
	mu          sync.RWMutex
	dishes      map[string]models.Dish
	restaurants map[string]models.Restaurant
}

func NewMemory() *Memory {
	return &Memory{
		dishes:      make(map[string]models.Dish),
		restaurants: make(map[string]models.Restaurant),
	}
}

func (m *Memory) PutDish(d models.Dish) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dishes[d.ID] = d
}

func (m *Memory) PutRestaurant(r models.Restaurant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = r
}

func (m *Memory) Dish(ctx context.Context, id string) (*models.Dish, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dishes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &d, nil
}

func (m *Memory) Restaurant(ctx context.Context, id string) (*models.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}
