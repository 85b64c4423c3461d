package api

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"broadphase/internal/config"
	"broadphase/internal/sim"
	"broadphase/internal/spatial"
)

// Metrics with bounded cardinality (no per-body labels)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_tick_duration_seconds",
		Help:    "Time spent in a world tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	bodyCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_body_count",
		Help: "Current number of bodies",
	})

	contactPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_contact_pairs",
		Help: "Overlapping body pairs found in the last tick",
	})

	// Spatial hash diagnostics
	bucketCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_bucket_count",
		Help: "Non-empty buckets in the spatial hash",
	})

	bucketOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_bucket_occupancy_avg",
		Help: "Mean objects per non-empty bucket",
	})

	largestBucket = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_bucket_size_max",
		Help: "Objects in the fullest bucket",
	})

	freeBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_free_buckets",
		Help: "Emptied buckets held for reuse",
	})

	indexOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_operations_total",
		Help: "Spatial hash operations",
	}, []string{"op"}) // Bounded: "insert", "move", "remove", "query"

	indexCellsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_query_cells_scanned_total",
		Help: "Cells visited by queries",
	})

	indexCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spatial_query_candidates",
		Help:    "Candidates returned per query",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_dropped",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	eventLogThrottled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_throttled",
		Help: "Contact transitions dropped by the per-tick budget",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket broadcasts",
	})
)

// PrometheusCollector reports spatial hash activity to Prometheus.
// Pass it to the world with sim.WorldConfig.Metrics.
type PrometheusCollector struct {
	inserts prometheus.Counter
	moves   prometheus.Counter
	removes prometheus.Counter
	queries prometheus.Counter
}

var _ spatial.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector returns a collector backed by the package metrics.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		inserts: indexOps.WithLabelValues("insert"),
		moves:   indexOps.WithLabelValues("move"),
		removes: indexOps.WithLabelValues("remove"),
		queries: indexOps.WithLabelValues("query"),
	}
}

func (c *PrometheusCollector) RecordInsert(_ int, moved bool) {
	c.inserts.Inc()
	if moved {
		c.moves.Inc()
	}
}

func (c *PrometheusCollector) RecordRemove(int) {
	c.removes.Inc()
}

func (c *PrometheusCollector) RecordQuery(cells, candidates int) {
	c.queries.Inc()
	indexCellsScanned.Add(float64(cells))
	indexCandidates.Observe(float64(candidates))
}

// ObserveTick records a tick report. Register it with World.SetTickObserver.
func ObserveTick(r sim.TickReport) {
	tickDuration.Observe(r.Duration.Seconds())
	bodyCount.Set(float64(r.Bodies))
	contactPairs.Set(float64(r.ContactPairs))
	bucketCount.Set(float64(r.Index.Buckets))
	bucketOccupancy.Set(r.Index.AvgPerBucket)
	largestBucket.Set(float64(r.Index.LargestBucket))
	freeBuckets.Set(float64(r.Index.FreeBuckets))
}

// UpdateEventLogStats copies event log counters into the gauges
func UpdateEventLogStats(stats sim.EventLogStats) {
	eventLogTotal.Set(float64(stats.Total))
	eventLogDropped.Set(float64(stats.Dropped))
	eventLogThrottled.Set(float64(stats.Throttled))
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

// metricsMiddleware records latency per route pattern. Unmatched paths share
// one label so scanners can't blow up cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// DebugHandler serves pprof, Prometheus metrics and a health check.
func DebugHandler(cfg config.DebugConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return handler
}

// StartDebugServer starts the internal observability server.
// It binds to loopback unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg config.DebugConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	cfg.ListenAddr = loopbackAddr(cfg.ListenAddr)
	handler := DebugHandler(cfg)

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// loopbackAddr rewrites a non-loopback host to 127.0.0.1, keeping the port
func loopbackAddr(addr string) string {
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		log.Printf("⚠️ Bad debug address %q, using 127.0.0.1:6060", addr)
		return "127.0.0.1:6060"
	}
	if host == "localhost" {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return addr
	}
	log.Println("⚠️ Debug server forced to localhost for security")
	return net.JoinHostPort("127.0.0.1", port)
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
