package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the reactor's runtime data:
// connection/queue/timer/pool gauges and a request counter and duration
// histogram keyed by result status.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveConnections  prometheus.Gauge
	DBPoolUsage        prometheus.Gauge
	QueueDepth         prometheus.Gauge
	WorkerBusy         prometheus.Gauge
	ActiveTimers       prometheus.Gauge
	QuotaExceededTotal prometheus.Counter
	HealthCheckStatus  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics constructs and registers every collector, alongside the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorhttpd_requests_total",
			Help: "Total number of HTTP requests processed, by result status code",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactorhttpd_request_duration_seconds",
			Help:    "Duration of request parse-to-response processing",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"status"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_active_connections",
			Help: "Number of connections currently held open by the reactor",
		}),
		DBPoolUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_db_pool_in_use",
			Help: "Number of currently leased DB connection pool handles",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_request_queue_depth",
			Help: "Number of connections currently queued for a worker",
		}),
		WorkerBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_workers_busy",
			Help: "Number of worker goroutines currently processing a connection",
		}),
		ActiveTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_active_timers",
			Help: "Number of idle-connection timers currently scheduled",
		}),
		QuotaExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reactorhttpd_quota_exceeded_total",
			Help: "Total number of login/register attempts rejected by the rate limiter",
		}),
		HealthCheckStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactorhttpd_health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveConnections,
		m.DBPoolUsage,
		m.QueueDepth,
		m.WorkerBusy,
		m.ActiveTimers,
		m.QuotaExceededTotal,
		m.HealthCheckStatus,
	)
	return m
}

// ObserveRequest records one completed request's outcome, wired from
// Connection.Process after ProcessWrite stages the response.
func (m *Metrics) ObserveRequest(code HTTPCode, d time.Duration) {
	label := statusLabel(code)
	m.RequestsTotal.WithLabelValues(label).Inc()
	m.RequestDuration.WithLabelValues(label).Observe(d.Seconds())
}

// RegisterSenderGauge wires a RateLimiter's SenderCount into a gauge
// collected alongside everything else, via a GaugeFunc closure over the
// rate limiter.
func (m *Metrics) RegisterSenderGauge(rl RateLimiter) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "reactorhttpd_tracked_senders",
		Help: "Number of distinct rate-limiter keys currently tracked",
	}, func() float64 {
		if rl == nil {
			return 0
		}
		return float64(rl.SenderCount())
	}))
}

// StartServer serves /metrics, /healthz and /readyz on a side listener
// that is not part of the reactor's epoll-driven HTTP/1.1 surface,
// shutting down gracefully when ctx is done.
func (m *Metrics) StartServer(ctx context.Context, listenAddr string, pool *DBPool, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", readyzHandler(pool, m))

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error shutting down metrics server", zap.Error(err))
		}
	}()

	log.Info("metrics server started", zap.String("addr", listenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("metrics server failed", zap.Error(err))
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// readyzHandler reports readiness based on the DB pool having at least one
// handle reachable (leased or free) — a stand-in liveness probe on the
// pool rather than issuing a live query.
func readyzHandler(pool *DBPool, m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if pool == nil || pool.Max() == 0 {
			m.HealthCheckStatus.Set(0)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unavailable"}`)
			return
		}
		m.HealthCheckStatus.Set(1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ready"}`)
	}
}
