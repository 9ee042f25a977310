package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/food-dispatch/internal/models"
)

type fakeSender struct {
	offered    []string
	offerErr   error
	broadcasts int
}

func (f *fakeSender) Offer(courierID string, offer models.DeliveryOffer) error {
	if f.offerErr != nil {
		return f.offerErr
	}
	f.offered = append(f.offered, courierID)
	return nil
}

func (f *fakeSender) Broadcast(offer models.DeliveryOffer) int {
	f.broadcasts++
	return 0
}

type fakeFinder struct{ couriers []models.Courier }

func (f *fakeFinder) Nearby(lat, lon float64, limit int) []models.Courier {
	if limit < len(f.couriers) {
		return f.couriers[:limit]
	}
	return f.couriers
}

func TestBroadcastTargetsNearbyCouriers(t *testing.T) {
	ws := &fakeSender{}
	p := &PushDispatcher{
		WS: ws,
		Finder: &fakeFinder{couriers: []models.Courier{
			{ID: "c1", Active: true}, {ID: "c2", Active: true},
		}},
		NearbyLimit: 10,
	}

	sent := p.Broadcast(models.DeliveryOffer{RequestID: "r1", Pickup: models.Coord{Lat: 41, Lon: 29}})
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(ws.offered) != 2 || ws.offered[0] != "c1" || ws.offered[1] != "c2" {
		t.Fatalf("offers went to %v", ws.offered)
	}
	if ws.broadcasts != 0 {
		t.Fatalf("fell back to full broadcast with nearby couriers present")
	}
}

func TestBroadcastWidensWhenNobodyNearby(t *testing.T) {
	ws := &fakeSender{}
	p := &PushDispatcher{WS: ws, Finder: &fakeFinder{}}

	p.Broadcast(models.DeliveryOffer{RequestID: "r1"})
	if ws.broadcasts != 1 {
		t.Fatalf("expected full-broadcast fallback, got %d", ws.broadcasts)
	}
}

func TestBroadcastWidensWhenTargetedSendsFail(t *testing.T) {
	ws := &fakeSender{offerErr: ErrNoSession}
	p := &PushDispatcher{
		WS:     ws,
		Finder: &fakeFinder{couriers: []models.Courier{{ID: "c1", Active: true}}},
	}

	p.Broadcast(models.DeliveryOffer{RequestID: "r1"})
	if ws.broadcasts != 1 {
		t.Fatalf("expected full-broadcast fallback, got %d", ws.broadcasts)
	}
}

func TestBroadcastFallsBackToPushEndpoint(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := &PushDispatcher{Endpoint: srv.URL, Client: srv.Client()}
	sent := p.Broadcast(models.DeliveryOffer{RequestID: "r1"})
	if sent != 1 || hits != 1 {
		t.Fatalf("push endpoint not used: sent=%d hits=%d", sent, hits)
	}
}
