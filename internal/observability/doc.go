// Package observability is the logging, tracing, and metrics foundation
// shared by the gateway and worker processes.
//
// # Overview
//
// NewObservability wires together:
//   - An OpenTelemetry TracerProvider exporting spans over OTLP/gRPC.
//   - An OpenTelemetry MeterProvider exposing a Prometheus scrape target.
//   - A slog.Logger whose Handler tags each record with the active span's
//     trace_id and span_id and counts it in log metrics, so a request's
//     logs can be correlated with its trace.
//
// # Quick Start
//
//	obs, err := observability.NewObservability(observability.DefaultGatewayConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	obs.Logger.Info("gateway starting", "addr", cfg.ListenAddr)
//
// # Metrics
//
// MetricsManager registers the counters and histograms used by the
// gateway's dispatch loop and the worker's mailbox: requests routed,
// responses routed, event fan-out, dead-letter rate, agent placements,
// and pending-request depth, alongside the usual Go process gauges.
//
// # Health
//
// HealthServer exposes /health, /ready, and /metrics over HTTP; register
// a HealthChecker per dependency (state store, registry backend, worker
// connection) with AddChecker.
//
// # Tracing
//
// TraceManager's StartRequestSpan/StartEventProcessingSpan helpers tag
// spans with the request/event identifiers used throughout this module,
// so a trace can be correlated back to a specific RequestId or Event Id
// from the wire protocol.
package observability
