package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/food-dispatch/internal/models"
)

// WSSession represents a connected courier session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds courier sessions. The matching engine broadcasts open
// delivery requests through it; the order service pushes status events.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(courierID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[courierID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(courierID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, courierID)
}

// Offer sends a delivery offer to one courier.
func (r *WSRegistry) Offer(courierID string, offer models.DeliveryOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[courierID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(offer); err != nil {
		r.logger.Warn("ws send failed", "courier_id", courierID, "error", err)
		return err
	}
	return nil
}

// Broadcast fans a delivery offer out to every connected courier and
// returns how many sessions received it. Send failures drop the session.
func (r *WSRegistry) Broadcast(offer models.DeliveryOffer) int {
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		if err := s.send(offer); err != nil {
			r.logger.Warn("ws broadcast send failed", "courier_id", id, "error", err)
			r.Remove(id)
			continue
		}
		sent++
	}
	return sent
}

// Notify pushes an order event to the assigned courier, if connected.
func (r *WSRegistry) Notify(courierID string, ev models.OrderEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[courierID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(ev)
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
