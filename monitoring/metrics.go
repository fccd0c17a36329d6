package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"event_id", "outcome"},
	)

	casConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cas_conflicts_total",
			Help: "Conditional update version conflicts by entity",
		},
		[]string{"entity"},
	)

	ordersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_processed_total",
			Help: "Order processing outcomes",
		},
		[]string{"result"},
	)

	sweepReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_released_tickets_total",
			Help: "Tickets released by the expiration sweeper",
		},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Expiration sweep runs by outcome",
		},
		[]string{"outcome"},
	)

	confirmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_confirm_duration_seconds",
			Help:    "Duration of confirmation gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	queueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_inflight_jobs",
			Help: "Order jobs currently being processed",
		},
	)
)

func TrackReservation(eventID, outcome string) {
	reservations.WithLabelValues(eventID, outcome).Inc()
}

func TrackCASConflict(entity string) {
	casConflicts.WithLabelValues(entity).Inc()
}

func TrackOrderProcessed(result string) {
	ordersProcessed.WithLabelValues(result).Inc()
}

func TrackSweep(released int, ok bool) {
	sweepReleased.Add(float64(released))
	if ok {
		sweepRuns.WithLabelValues("success").Inc()
	} else {
		sweepRuns.WithLabelValues("error").Inc()
	}
}

func TrackConfirmDuration(d time.Duration) {
	confirmDuration.Observe(d.Seconds())
}

func ConsumerJobStarted()  { queueInFlight.Inc() }
func ConsumerJobFinished() { queueInFlight.Dec() }
