package observe

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Number of open channels.",
	})
	rejectedUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ws",
			Name:      "rejected_upgrades_total",
			Help:      "Upgrades refused before the channel opened.",
		},
		[]string{"reason"}, // unauthorized|upgrade
	)
	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "rate_limited_total",
		Help:      "Channels closed for exceeding the message budget.",
	})
	pushedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ws",
		Name:      "pushed_updates_total",
		Help:      "Update notifications written to channels.",
	})
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Dispatched frames by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Time spent dispatching one frame.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	subscriberReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "subscriber",
		Name:      "reconnects_total",
		Help:      "Update subscriber reconnect attempts.",
	})
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			activeConnections,
			rejectedUpgrades,
			rateLimited,
			pushedUpdates,
			rpcCalls,
			rpcDuration,
			subscriberReconnects,
			httpRequests,
			httpDuration,
		)
	})
}

func AddConnections(delta float64)     { activeConnections.Add(delta) }
func IncRejectedUpgrade(reason string) { rejectedUpgrades.WithLabelValues(reason).Inc() }
func IncRateLimited()                  { rateLimited.Inc() }
func IncPushed()                       { pushedUpdates.Inc() }
func IncSubscriberReconnect()          { subscriberReconnects.Inc() }

func RecordRPC(method, outcome string, duration time.Duration) {
	if method == "" {
		method = "none"
	}
	rpcCalls.WithLabelValues(method, outcome).Inc()
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
