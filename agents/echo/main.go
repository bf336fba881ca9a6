// Command echo runs a minimal worker process hosting one agent type,
// "echo", which upper-cases and echoes back its Request payload. It
// exists both as a runnable example of the worker-side agent contract
// and as the fixture end-to-end tests dispatch Requests against.
package main

import (
	"bytes"
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

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/agent"
	"github.com/agentmesh/fabric/internal/config"
	"github.com/agentmesh/fabric/internal/observability"
	"github.com/agentmesh/fabric/internal/wire"
	"github.com/agentmesh/fabric/internal/worker"
)

const agentType = "echo"

// echoAgent upper-cases whatever payload it receives in a Request and
// returns the result; Events are ignored. It has no persisted state.
type echoAgent struct {
	id addressing.AgentId
	rt agent.RuntimeHandle
}

func newEchoAgent(id addressing.AgentId, rt agent.RuntimeHandle) (agent.Agent, error) {
	return &echoAgent{id: id, rt: rt}, nil
}

func (a *echoAgent) Handle(ctx *agent.Context, payload []byte) ([]byte, error) {
	if !ctx.IsRPC {
		return nil, nil
	}
	return bytes.ToUpper(payload), nil
}

func (a *echoAgent) Close(context.Context) error { return nil }

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
	if cfg.WorkerID == "" {
		cfg.WorkerID = "echo-0"
	}

	obs, err := observability.NewObservability(observability.DefaultWorkerConfig(cfg))
	if err != nil {
		return fmt.Errorf("echo: init observability: %w", err)
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
		return fmt.Errorf("echo: init metrics: %w", err)
	}
	traceManager := observability.NewTraceManager(cfg.ServiceName)

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

	conn, err := grpc.Dial(cfg.GatewayAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec())),
	)
	if err != nil {
		return fmt.Errorf("echo: dial gateway at %s: %w", cfg.GatewayAddr, err)
	}
	defer conn.Close()

	w := worker.New(worker.Config{
		Client:  wire.NewRuntimeClient(conn),
		Traces:  traceManager,
		Metrics: metricsManager,
		Logger:  obs.Logger,
	})

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	regCtx, regCancel := context.WithTimeout(ctx, 10*time.Second)
	err = w.RegisterAgentType(regCtx, agentType, newEchoAgent)
	regCancel()
	if err != nil {
		cancel()
		<-runDone
		return fmt.Errorf("echo: register agent type: %w", err)
	}

	obs.Logger.Info("echo agent registered", slog.String("agent_type", agentType), slog.String("gateway_addr", cfg.GatewayAddr))

	err = <-runDone
	if ctx.Err() != nil {
		return nil
	}
	return err
}
