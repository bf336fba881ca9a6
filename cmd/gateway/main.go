package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/agentmesh/fabric/internal/config"
	"github.com/agentmesh/fabric/internal/gateway"
	"github.com/agentmesh/fabric/internal/messageregistry"
	"github.com/agentmesh/fabric/internal/observability"
	"github.com/agentmesh/fabric/internal/registry"
	"github.com/agentmesh/fabric/internal/statestore"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg := config.LoadGateway()

	obs, err := observability.NewObservability(observability.DefaultGatewayConfig(cfg))
	if err != nil {
		return fmt.Errorf("gateway: init observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			obs.Logger.ErrorContext(shutdownCtx, "observability shutdown failed", "error", err)
		}
	}()

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return fmt.Errorf("gateway: init metrics: %w", err)
	}
	traceManager := observability.NewTraceManager(cfg.ServiceName)

	states, err := newStateStore(cfg)
	if err != nil {
		return fmt.Errorf("gateway: init state store: %w", err)
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return fmt.Errorf("gateway: init registry: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Registry: reg,
		Subs:     subscription.NewIndex(),
		States:   states,
		Msgs:     messageregistry.New(cfg.EventBufferHoldTime, cfg.MaxEventBytes, cfg.MaxQueueBytes),
		Traces:   traceManager,
		Metrics:  metricsManager,
		Logger:   obs.Logger,
	})

	healthServer := observability.NewHealthServer(cfg.HealthPort, cfg.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(context.Context) error { return nil }))
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			obs.Logger.ErrorContext(ctx, "health server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	go runReaper(ctx, gw, cfg.EventBufferHoldTime)
	go runMetricsTicker(ctx, metricsManager)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", cfg.ListenAddr, err)
	}

	srv := grpc.NewServer(
		grpc.ForceServerCodec(wire.Codec()),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	wire.RegisterRuntimeServer(srv, gw)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	obs.Logger.Info("gateway listening",
		slog.String("address", cfg.ListenAddr),
		slog.String("health_endpoint", fmt.Sprintf("http://localhost:%s/health", cfg.HealthPort)),
		slog.String("registry_backend", cfg.RegistryBackend),
		slog.String("statestore_backend", cfg.StateStoreBackend),
	)
	return srv.Serve(lis)
}

func newStateStore(cfg *config.GatewayConfig) (statestore.Store, error) {
	switch cfg.StateStoreBackend {
	case "bbolt":
		return statestore.NewBolt(cfg.StateStorePath)
	default:
		return statestore.NewMemory(), nil
	}
}

func newRegistry(cfg *config.GatewayConfig) (registry.Grain, error) {
	switch cfg.RegistryBackend {
	case "raft":
		return registry.NewRaft(registry.RaftConfig{
			NodeID:    cfg.RegistryNodeID,
			BindAddr:  cfg.RegistryRaftBindAddr,
			DataDir:   cfg.RegistryRaftDir,
			Bootstrap: cfg.RegistryBootstrap,
		})
	default:
		return registry.NewMemory(), nil
	}
}

// runReaper periodically moves expired buffered events into their
// topic's dead letter queue. It ticks at half the configured hold time
// so no event outlives its window by more than that margin.
func runReaper(ctx context.Context, gw *gateway.Gateway, holdTime time.Duration) {
	interval := holdTime / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			gw.ReapExpiredEvents()
		case <-ctx.Done():
			return
		}
	}
}

func runMetricsTicker(ctx context.Context, mm *observability.MetricsManager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mm.UpdateSystemMetrics(ctx)
		case <-ctx.Done():
			return
		}
	}
}
