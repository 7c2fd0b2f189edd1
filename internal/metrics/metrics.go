package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReservationsJoinedTotal tracks waitlist joins, including immediate
	// promotions.
	ReservationsJoinedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_reservations_joined_total",
		Help: "Total number of waitlist joins",
	})
	// PromotionsTotal tracks reservations promoted into a purchase window.
	PromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_promotions_total",
		Help: "Total number of reservations promoted",
	})
	// HoldsExpiredTotal tracks cart holds expired by the scheduler.
	HoldsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_holds_expired_total",
		Help: "Total number of cart holds expired",
	})
	// HoldsCompletedTotal tracks successful checkouts.
	HoldsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_holds_completed_total",
		Help: "Total number of cart holds completed",
	})
	// CASConflictsTotal tracks optimistic concurrency retries on the
	// stock ledger.
	CASConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_stock_cas_conflicts_total",
		Help: "Total number of stock CAS conflicts",
	})
	// SubscriberGauge reports the number of active stream subscribers.
	SubscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reserve_stream_subscribers",
		Help: "Current number of active stream subscribers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers engine metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		ReservationsJoinedTotal,
		PromotionsTotal,
		HoldsExpiredTotal,
		HoldsCompletedTotal,
		CASConflictsTotal,
		SubscriberGauge,
	)
}
