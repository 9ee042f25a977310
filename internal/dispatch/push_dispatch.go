package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/food-dispatch/internal/models"
)

// CourierFinder reports active couriers near a point. Satisfied by the geo
// package's Index and RedisGeo.
type CourierFinder interface {
	Nearby(lat, lon float64, limit int) []models.Courier
}

// offerSender is the slice of the websocket registry the dispatcher uses.
type offerSender interface {
	Offer(courierID string, offer models.DeliveryOffer) error
	Broadcast(offer models.DeliveryOffer) int
}

// PushDispatcher targets new offers at couriers near the pickup point,
// widens to every connected session when none are reachable, and finally
// falls back to an HTTP push endpoint (e.g. a notification gateway).
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       offerSender
	Finder   CourierFinder
	// NearbyLimit caps how many couriers a targeted offer goes to.
	NearbyLimit int
}

func NewPushDispatcher(endpoint string, ws *WSRegistry, finder CourierFinder) *PushDispatcher {
	return &PushDispatcher{
		Endpoint:    endpoint,
		Client:      &http.Client{Timeout: 3 * time.Second},
		WS:          ws,
		Finder:      finder,
		NearbyLimit: 10,
	}
}

func (p *PushDispatcher) Broadcast(offer models.DeliveryOffer) int {
	sent := 0
	if p.WS != nil {
		if p.Finder != nil {
			limit := p.NearbyLimit
			if limit <= 0 {
				limit = 10
			}
			for _, c := range p.Finder.Nearby(offer.Pickup.Lat, offer.Pickup.Lon, limit) {
				if err := p.WS.Offer(c.ID, offer); err == nil {
					sent++
				}
			}
		}
		if sent == 0 {
			sent = p.WS.Broadcast(offer)
		}
	}
	if sent == 0 && p.Endpoint != "" {
		b, _ := json.Marshal(offer)
		if resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b)); err == nil {
			resp.Body.Close()
			sent = 1
		}
	}
	return sent
}
