package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "orders_created_total", Help: "Total orders created"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "food_dispatch", Name: "order_transitions_total", Help: "Successful order status transitions"},
		[]string{"from", "to"},
	)

	RequestsOpened   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "delivery_requests_opened_total", Help: "Delivery requests opened"})
	RequestsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "delivery_requests_accepted_total", Help: "Delivery requests accepted by a courier"})
	AcceptConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "delivery_accept_conflicts_total", Help: "Accept attempts lost to another courier or to expiry"})
	RequestsExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "food_dispatch", Name: "delivery_requests_expired_total", Help: "Delivery requests expired without acceptance"})

	CouriersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "food_dispatch", Name: "couriers_online", Help: "Couriers with a recent location ping"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "food_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "food_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
