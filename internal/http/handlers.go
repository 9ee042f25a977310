package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/food-dispatch/internal/catalog"
	"github.com/example/food-dispatch/internal/config"
	"github.com/example/food-dispatch/internal/dispatch"
	"github.com/example/food-dispatch/internal/eta"
	"github.com/example/food-dispatch/internal/geo"
	"github.com/example/food-dispatch/internal/ingest"
	"github.com/example/food-dispatch/internal/matching"
	"github.com/example/food-dispatch/internal/models"
	"github.com/example/food-dispatch/internal/observability"
	"github.com/example/food-dispatch/internal/orders"
	"github.com/example/food-dispatch/internal/payments"
	"github.com/example/food-dispatch/internal/storage"
)

type Server struct {
	Orders *orders.Service
	Engine *matching.Engine
	Geo    geo.Geo
	Kafka  *ingest.KafkaProducer
	WSReg  *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the full stack from config with in-memory fallbacks for
// every external dependency, so the binary runs locally without setup.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var store storage.Store
	var cat catalog.Catalog
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		} else {
			store = ps
		}
		if pc, err := catalog.NewPostgres(cfg.PGDSN); err == nil {
			cat = pc
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if cat == nil {
		cat = catalog.NewMemory()
	}

	var ggeo geo.Geo
	if cfg.RedisAddr != "" {
		ggeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	var locKafka, evKafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		locKafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		evKafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	}

	wsreg := dispatch.NewWSRegistry(logger)

	ordersSvc := orders.NewService(store, cat, logger)
	ordersSvc.Currency = cfg.Currency
	ordersSvc.Tally = ggeo
	ordersSvc.Notify = wsreg
	if evKafka != nil {
		ordersSvc.Events = evKafka
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		ordersSvc.Payments = payments.NewStripeClient()
	}

	engine := matching.NewEngine(store, cat, logger)
	engine.RequestTTL = cfg.RequestTTL
	engine.DefaultSpeedMps = cfg.CourierSpeedMps
	engine.Dispatch = dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg, ggeo)
	if cfg.OSRMEndpoint != "" {
		engine.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		engine.ETACache = eta.NewCache(cfg.RequestTTL)
	}

	s := &Server{
		Orders: ordersSvc,
		Engine: engine,
		Geo:    ggeo,
		Kafka:  locKafka,
		WSReg:  wsreg,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders", s.handleListOrders).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/delivery-requests", s.handleOpenRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/delivery-requests", s.handleListRequests).Methods("GET")
	s.mux.HandleFunc("/api/v1/delivery-requests/{id}/accept", s.handleAcceptRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/delivery-requests/{id}/decline", s.handleDeclineRequest).Methods("POST")
	s.mux.HandleFunc("/internal/courier/locations", s.handleCourierLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{courier_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var p orders.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	o, err := s.Orders.Create(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Orders.ListFor(r.Context(),
		models.ActorRole(q.Get("role")), q.Get("actor_id"), models.OrderStatus(q.Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role models.ActorRole   `json:"actor_role"`
		To   models.OrderStatus `json:"to_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	o, err := s.Orders.Transition(r.Context(), mux.Vars(r)["id"], body.Role, body.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOpenRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	req, err := s.Engine.Open(r.Context(), body.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var loc *models.Coord
	if latS, lngS := q.Get("lat"), q.Get("lng"); latS != "" && lngS != "" {
		lat, err1 := strconv.ParseFloat(latS, 64)
		lng, err2 := strconv.ParseFloat(lngS, 64)
		if err1 != nil || err2 != nil {
			writeError(w, models.Validationf("bad lat/lng"))
			return
		}
		loc = &models.Coord{Lat: lat, Lon: lng}
	}
	list, err := s.Engine.ListOpen(r.Context(), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.DeliveryRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CourierID string `json:"courier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	req, err := s.Engine.Accept(r.Context(), mux.Vars(r)["id"], body.CourierID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeclineRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CourierID string `json:"courier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	if err := s.Engine.Decline(r.Context(), mux.Vars(r)["id"], body.CourierID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCourierLocation(w http.ResponseWriter, r *http.Request) {
	var c models.Courier
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, models.Validationf("bad json: %v", err))
		return
	}
	if c.ID == "" {
		writeError(w, models.Validationf("courier id is required"))
		return
	}
	// publish to kafka if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(c); err != nil {
			s.logger.Warn("location publish failed", "courier_id", c.ID, "error", err)
		}
	}
	s.Geo.Upsert(c)
	observability.CouriersOnline.Set(float64(s.Geo.ActiveCount()))
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["courier_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("ws upgrade failed", "courier_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses with a
// stable machine-readable kind.
func writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var ite *models.IllegalTransitionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Reason: ve.Reason})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, errorBody{Error: "illegal_transition", Reason: ite.Error()})
	case errors.Is(err, models.ErrAlreadyAccepted):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_accepted", Reason: "this delivery was already taken"})
	case errors.Is(err, models.ErrExpired):
		writeJSON(w, http.StatusConflict, errorBody{Error: "expired", Reason: "the delivery request has expired"})
	case errors.Is(err, models.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
