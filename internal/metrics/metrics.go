package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_rejected_total", Help: "Ticks dropped as malformed or out of order"},
		[]string{"reason"},
	)
	TicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Ticks evicted at the source boundary by backpressure"},
	)
	SourceReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "source_reconnects_total", Help: "Tick source disconnects followed by a retry"},
		[]string{"provider"},
	)
	SourceStalls = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "source_stalls_total", Help: "Intervals with no tick within the stall timeout"},
	)
	ZonesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "iceberg_zones_detected_total", Help: "Iceberg zones opened by the detector"},
		[]string{"side"},
	)
	ZoneTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "iceberg_zone_transitions_total", Help: "Zone state transitions applied"},
		[]string{"state"},
	)
	InvariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "invariant_violations_total", Help: "Refused operations that would break a core invariant"},
		[]string{"kind"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisions_total", Help: "Decisions emitted by the gate"},
		[]string{"decision"},
	)
	QueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "query_errors_total", Help: "HTTP queries that ended in an error response"},
		[]string{"route", "kind"},
	)
	JournalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "journal_errors_total", Help: "Journal writes that failed"},
	)
	ActiveZones = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "iceberg_active_zones", Help: "Non-terminal zones currently tracked"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TicksRejected, TicksDropped, SourceReconnects, SourceStalls,
		ZonesDetected, ZoneTransitions, InvariantViolations, Decisions,
		QueryErrors, JournalErrors, ActiveZones,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
