// Package main provides the SpeedWar relay server. It accepts game clients
// over TCP, relays positions over UDP on the next port up, and exposes gRPC
// health checks and Prometheus metrics for operators.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cory-johannsen/speedwar/internal/admin"
	"github.com/cory-johannsen/speedwar/internal/config"
	"github.com/cory-johannsen/speedwar/internal/idgen"
	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/relay"
	"github.com/cory-johannsen/speedwar/internal/server"
	"github.com/cory-johannsen/speedwar/internal/session"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and SPEEDWAR_ environment")
	host := flag.String("host", "", "stream/datagram bind address, overrides relay.host")
	port := flag.Int("port", -1, "stream port, overrides relay.port; the datagram port is port+1")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *host != "" {
		cfg.Relay.Host = *host
	}
	if *port >= 0 {
		cfg.Relay.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validating flags: %v", err)
	}

	logger, logLevel, err := observability.NewLogger(cfg.Logging, "relayserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("stream_addr", cfg.Relay.StreamAddr()),
		zap.String("datagram_addr", cfg.Relay.DatagramAddr()),
	)

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	// Relay core
	src := idgen.NewCryptoSource()
	registry := session.NewRegistry(
		idgen.Range{Min: int16(cfg.Session.Min), Max: int16(cfg.Session.Max)},
		src,
	)
	rooms := idgen.NewRoomAllocator(
		idgen.Range{Min: int16(cfg.Rooms.Min), Max: int16(cfg.Rooms.Max)},
		src,
		cfg.Rooms.CollisionWindow,
		observability.Component(logger, "rooms"),
	)
	relayLog := observability.Component(logger, "relay")
	relaySvc := relay.New(cfg.Relay, registry, rooms, metrics, relayLog)
	acceptor := relay.NewAcceptor(cfg.Relay.StreamAddr(), relaySvc, relayLog)
	datagrams := relay.NewDatagramListener(cfg.Relay.DatagramAddr(), relaySvc, relayLog)
	adminLog := observability.Component(logger, "admin")

	// Wire lifecycle
	lifecycle := server.NewLifecycle(observability.Component(logger, "lifecycle"))

	lifecycle.Add("relay-stream", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
			relaySvc.Shutdown()
		},
	})

	lifecycle.Add("relay-datagram", &server.FuncService{
		StartFn: func() error {
			return datagrams.ListenAndServe()
		},
		StopFn: func() {
			datagrams.Stop()
		},
	})

	var health *admin.HealthServer
	if cfg.Admin.GRPCPort > 0 {
		health = admin.NewHealthServer(cfg.Admin.GRPCAddr(), adminLog)
		lifecycle.Add("admin-grpc", &server.FuncService{
			StartFn: func() error {
				return health.ListenAndServe()
			},
			StopFn: func() {
				health.Stop()
			},
		})
	}

	if cfg.Admin.MetricsAddr != "" {
		metricsSrv := admin.NewMetricsServer(cfg.Admin.MetricsAddr, promRegistry, adminLog).
			WithLogLevel(logLevel)
		lifecycle.Add("admin-metrics", &server.FuncService{
			StartFn: func() error {
				return metricsSrv.ListenAndServe()
			},
			StopFn: func() {
				metricsSrv.Stop()
			},
		})
	}

	reporter := admin.NewReporter(cfg.Admin.StatusInterval, registry, adminLog)
	if health != nil {
		reporter.WithHealth(health, func() bool {
			return acceptor.IsRunning() && datagrams.Addr() != ""
		})
	}
	lifecycle.Add("status-reporter", &server.FuncService{
		StartFn: func() error {
			return reporter.Run()
		},
		StopFn: func() {
			reporter.Stop()
		},
	})

	logger.Info("relay server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("grpc_addr", cfg.Admin.GRPCAddr()),
		zap.String("metrics_addr", cfg.Admin.MetricsAddr),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
