package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics, and optionally /loglevel, over HTTP.
type MetricsServer struct {
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
	logger *zap.Logger

	mu      sync.Mutex
	lis     net.Listener
	stopped bool
}

// NewMetricsServer creates a scrape endpoint for gatherer at addr.
//
// Precondition: gatherer and logger must be non-nil.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))

	return &MetricsServer{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// WithLogLevel mounts level at /loglevel. GET reports the current level and
// PUT with {"level":"debug"} changes it. Must be called before serving.
func (m *MetricsServer) WithLogLevel(level zap.AtomicLevel) *MetricsServer {
	m.mux.Handle("/loglevel", level)
	return m
}

// Handler returns the HTTP handler serving the admin endpoints.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

// ListenAndServe binds addr and serves until Stop is called.
//
// Postcondition: Returns nil after Stop.
func (m *MetricsServer) ListenAndServe() error {
	lis, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", m.addr, err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return lis.Close()
	}
	m.lis = lis
	m.mu.Unlock()

	m.logger.Info("metrics server listening", zap.String("addr", lis.Addr().String()))
	if err := m.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting up to five seconds for scrapes in flight.
func (m *MetricsServer) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}

// Addr returns the listening address, or empty string if not yet serving.
func (m *MetricsServer) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lis != nil {
		return m.lis.Addr().String()
	}
	return ""
}
