package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/food-dispatch/internal/catalog"
	"github.com/example/food-dispatch/internal/dispatch"
	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/matching"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/orders"
	"github.com/example/food-dispatch/internal/storage"
)

func newTestServer() *Server {
	store := storage.NewMemoryStore()
	cat := catalog.NewMemory()
	cat.PutRestaurant(models.Restaurant{
		ID: "rest1", Name: "Trattoria", Loc: models.Coord{Lat: 41, Lon: 29},
		DeliveryFee: 399, Open: true,
	})
	cat.PutDish(models.Dish{ID: "d1", RestaurantID: "rest1", Name: "Margherita", Price: 500, Available: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &Server{
		Orders: orders.NewService(store, cat, logger),
		Engine: matching.NewEngine(store, cat, logger),
		Geo:    geo.NewIndex(),
		WSReg:  dispatch.NewWSRegistry(logger),
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func createOrder(t *testing.T, s *Server) models.Order {
	t.Helper()
	w := doJSON(t, s, "POST", "/api/v1/orders", map[string]any{
		"customer_id": "cust1", "restaurant_id": "rest1", "delivery_address": "Baker St",
		"items": []map[string]any{{"dish_id": "d1", "quantity": 2}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", w.Code, w.Body.String())
	}
	var o models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return o
}

func TestCreateAndGetOrder(t *testing.T) {
	s := newTestServer()
	o := createOrder(t, s)
	if o.Total != 1399 {
		t.Fatalf("total = %d, want 1399", o.Total)
	}

	w := doJSON(t, s, "GET", "/api/v1/orders/"+o.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	w = doJSON(t, s, "GET", "/api/v1/orders/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: status %d", w.Code)
	}
}

func TestCreateOrderValidationStatus(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, "POST", "/api/v1/orders", map[string]any{
		"customer_id": "cust1", "restaurant_id": "rest1", "delivery_address": "Baker St",
		"items": []map[string]any{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty cart: status %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "validation" {
		t.Fatalf("error kind = %q", body.Error)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	s := newTestServer()
	o := createOrder(t, s)

	w := doJSON(t, s, "POST", "/api/v1/orders/"+o.ID+"/transition", map[string]any{
		"actor_role": "restaurant", "to_status": "accepted",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	// courier cannot jump to delivering
	w = doJSON(t, s, "POST", "/api/v1/orders/"+o.ID+"/transition", map[string]any{
		"actor_role": "courier", "to_status": "delivering",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("illegal hop: status %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "illegal_transition" {
		t.Fatalf("error kind = %q", body.Error)
	}
}

func TestDeliveryRequestFlow(t *testing.T) {
	s := newTestServer()
	o := createOrder(t, s)
	doJSON(t, s, "POST", "/api/v1/orders/"+o.ID+"/transition", map[string]any{
		"actor_role": "restaurant", "to_status": "accepted",
	})

	w := doJSON(t, s, "POST", "/api/v1/delivery-requests", map[string]any{"order_id": o.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("open: status %d body %s", w.Code, w.Body.String())
	}
	var req models.DeliveryRequest
	_ = json.Unmarshal(w.Body.Bytes(), &req)

	// duplicate open conflicts
	w = doJSON(t, s, "POST", "/api/v1/delivery-requests", map[string]any{"order_id": o.ID})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate open: status %d", w.Code)
	}

	w = doJSON(t, s, "GET", "/api/v1/delivery-requests?open=true&lat=41.0&lng=29.0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var list []models.DeliveryRequest
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != req.ID {
		t.Fatalf("list = %+v", list)
	}

	w = doJSON(t, s, "POST", "/api/v1/delivery-requests/"+req.ID+"/accept", map[string]any{"courier_id": "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	// the loser sees a specific reason
	w = doJSON(t, s, "POST", "/api/v1/delivery-requests/"+req.ID+"/accept", map[string]any{"courier_id": "c2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second accept: status %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "already_accepted" {
		t.Fatalf("error kind = %q", body.Error)
	}

	// order is now assigned and collecting
	w = doJSON(t, s, "GET", "/api/v1/orders/"+o.ID, nil)
	var got models.Order
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.CourierID != "c1" || got.Status != models.OrderCollecting {
		t.Fatalf("order not advanced: %+v", got)
	}
}

func TestDeclineEndpoint(t *testing.T) {
	s := newTestServer()
	o := createOrder(t, s)
	doJSON(t, s, "POST", "/api/v1/orders/"+o.ID+"/transition", map[string]any{
		"actor_role": "restaurant", "to_status": "accepted",
	})
	w := doJSON(t, s, "POST", "/api/v1/delivery-requests", map[string]any{"order_id": o.ID})
	var req models.DeliveryRequest
	_ = json.Unmarshal(w.Body.Bytes(), &req)

	w = doJSON(t, s, "POST", "/api/v1/delivery-requests/"+req.ID+"/decline", map[string]any{"courier_id": "c1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("decline: status %d", w.Code)
	}
}

func TestCourierLocationPing(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, "POST", "/internal/courier/locations", models.Courier{
		ID: "c1", Loc: models.Coord{Lat: 41, Lon: 29}, Active: true,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("ping: status %d", w.Code)
	}
	near := s.Geo.Nearby(41, 29, 5)
	if len(near) != 1 || near[0].ID != "c1" {
		t.Fatalf("geo not updated: %+v", near)
	}

	w = doJSON(t, s, "POST", "/internal/courier/locations", models.Courier{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing id: status %d", w.Code)
	}
}

func TestCourierLocationPingSetsOnlineGauge(t *testing.T) {
	s := newTestServer()
	ping := func(id string) {
		t.Helper()
		w := doJSON(t, s, "POST", "/internal/courier/locations", models.Courier{
			ID: id, Loc: models.Coord{Lat: 41, Lon: 29}, Active: true,
		})
		if w.Code != http.StatusNoContent {
			t.Fatalf("ping %s: status %d", id, w.Code)
		}
	}
	// repeat pings from the same courier must not inflate the gauge
	ping("c1")
	ping("c1")
	ping("c2")
	if got := testutil.ToFloat64(observability.CouriersOnline); got != 2 {
		t.Fatalf("couriers_online = %f, want 2", got)
	}
}

func TestWSRejectsPlainHTTPRequest(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, "GET", "/ws/c1", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("plain request: status %d", w.Code)
	}
	// the upgrader writes the error response; the handler must not write again
	if strings.Contains(w.Body.String(), "upgrade failed") {
		t.Fatalf("duplicate error write: %q", w.Body.String())
	}
}
