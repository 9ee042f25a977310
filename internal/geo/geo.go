package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// Geo is the courier index read by the matching engine and dispatch path.
// Location pings are last-write-wins; the most recent ping is the truth.
type Geo interface {
	Nearby(lat, lon float64, limit int) []models.Courier
	Upsert(c models.Courier)
	// BumpDeliveries increments the courier's completed-delivery tally
	// after a terminal delivery.
	BumpDeliveries(id string)
	// ActiveCount reports how many couriers the index currently tracks as
	// active; feeds the couriers_online gauge.
	ActiveCount() int
}

type Index struct {
	mu       sync.RWMutex
	couriers map[string]models.Courier
}

func NewIndex() *Index {
	return &Index{couriers: make(map[string]models.Courier)}
}

func (g *Index) Upsert(c models.Courier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.Updated = time.Now()
	if prev, ok := g.couriers[c.ID]; ok && c.TotalDeliveries == 0 {
		c.TotalDeliveries = prev.TotalDeliveries
	}
	g.couriers[c.ID] = c
}

func (g *Index) BumpDeliveries(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.couriers[id]
	if !ok {
		return
	}
	c.TotalDeliveries++
	g.couriers[id] = c
}

func (g *Index) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, c := range g.couriers {
		if c.Active {
			n++
		}
	}
	return n
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []models.Courier {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		c    models.Courier
		dist float64
	}
	arr := make([]pair, 0, len(g.couriers))
	for _, c := range g.couriers {
		if !c.Active {
			continue
		}
		dist := Haversine(lat, lon, c.Loc.Lat, c.Loc.Lon)
		arr = append(arr, pair{c, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Courier, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].c)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
