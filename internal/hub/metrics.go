package hub

import (
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersCreated    prometheus.Counter
	Transitions      *prometheus.CounterVec
	CheckoutRejected *prometheus.CounterVec
	LiveOrders       *prometheus.GaugeVec
	ReservedUnits    *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "orders_created_total",
			Help:      "Orders accepted at checkout.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "order_transitions_total",
			Help:      "Order state transitions by target state.",
		}, []string{"to"}),
		CheckoutRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "checkout_rejected_total",
			Help:      "Checkouts rejected by reason.",
		}, []string{"reason"}),
		LiveOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shop",
			Name:      "live_orders",
			Help:      "Orders in the live index by state.",
		}, []string{"state"}),
		ReservedUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shop",
			Name:      "reserved_units",
			Help:      "Units reserved by live orders per product.",
		}, []string{"product"}),
	}
	reg.MustRegister(m.OrdersCreated, m.Transitions, m.CheckoutRejected, m.LiveOrders, m.ReservedUnits)
	return m
}

func (m *Metrics) observeIndex(s Snapshot) {
	if m == nil {
		return
	}
	counts := s.Counts()
	for _, st := range orders.States {
		m.LiveOrders.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func (m *Metrics) observeReserved(products []string, reservedFor func(string) int) {
	if m == nil {
		return
	}
	for _, p := range products {
		m.ReservedUnits.WithLabelValues(p).Set(float64(reservedFor(p)))
	}
}

func (m *Metrics) created() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *Metrics) transition(to orders.State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.CheckoutRejected.WithLabelValues(reason).Inc()
}
