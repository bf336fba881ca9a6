package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"github.com/agentmesh/fabric/internal/config"
	"github.com/agentmesh/fabric/internal/observability"
	"github.com/agentmesh/fabric/internal/wire"
	"github.com/agentmesh/fabric/internal/worker"
)

// manifest is the optional static declaration of the agent types a
// worker process intends to host, read from WorkerConfig.AgentManifestPath.
// It documents intent for operators and tooling; the types still need a
// matching agent.Factory registered in code (see agents/echo for a
// worked example) before the worker can actually activate one.
type manifest struct {
	AgentTypes []string `yaml:"agent_types"`
}

func loadManifest(path string) (*manifest, error) {
	if path == "" {
		return &manifest{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("worker: read agent manifest %s: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("worker: parse agent manifest %s: %w", path, err)
	}
	return &m, nil
}

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
	cfg := config.LoadWorker()

	obs, err := observability.NewObservability(observability.DefaultWorkerConfig(cfg))
	if err != nil {
		return fmt.Errorf("worker: init observability: %w", err)
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
		return fmt.Errorf("worker: init metrics: %w", err)
	}
	traceManager := observability.NewTraceManager(cfg.ServiceName)

	m, err := loadManifest(cfg.AgentManifestPath)
	if err != nil {
		return err
	}
	for _, agentType := range m.AgentTypes {
		obs.Logger.Info("agent type declared in manifest, awaiting factory registration", "agent_type", agentType)
	}

	healthServer := observability.NewHealthServer(cfg.HealthPort, cfg.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(context.Context) error { return nil }))
	healthServer.AddChecker("gateway_connection", observability.NewGRPCHealthChecker("gateway_connection", cfg.GatewayAddr))
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

	conn, err := grpc.Dial(cfg.GatewayAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec())),
	)
	if err != nil {
		return fmt.Errorf("worker: dial gateway at %s: %w", cfg.GatewayAddr, err)
	}
	defer conn.Close()

	w := worker.New(worker.Config{
		Client:  wire.NewRuntimeClient(conn),
		Traces:  traceManager,
		Metrics: metricsManager,
		Logger:  obs.Logger,
	})

	obs.Logger.Info("worker connecting", slog.String("gateway_addr", cfg.GatewayAddr), slog.String("worker_id", cfg.WorkerID))

	err = w.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
