package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer handles Prometheus metrics exposure
type MetricsServer struct {
	server *http.Server
	port   string
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(port string) *MetricsServer {
	if port == "" {
		port = ":9090" // Default Prometheus port
	}
	if port[0] != ':' {
		port = ":" + port
	}

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Add some basic application info
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service": "discomap-ingest", "version": "1.0.0"}`))
	})

	server := &http.Server{
		Addr:    port,
		Handler: mux,
		// Configure timeouts
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &MetricsServer{
		server: server,
		port:   port,
	}
}

// Start begins serving metrics
func (ms *MetricsServer) Start() error {
	log.Printf("Starting metrics server on port %s", ms.port)

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the metrics server
func (ms *MetricsServer) Stop(ctx context.Context) error {
	log.Println("Shutting down metrics server...")
	return ms.server.Shutdown(ctx)
}

// DBPoolConnectionsGauge tracks live database pool usage (active/idle),
// sampled periodically by the caller from pgxpool.Pool.Stat().
var DBPoolConnectionsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "discomap_db_pool_connections",
		Help: "Database pool connections by state",
	},
	[]string{"state"}, // acquired, idle
)

func init() {
	prometheus.MustRegister(DBPoolConnectionsGauge)
}
