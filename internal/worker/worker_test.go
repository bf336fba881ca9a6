package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/agent"
	"github.com/agentmesh/fabric/internal/gateway"
	"github.com/agentmesh/fabric/internal/messageregistry"
	"github.com/agentmesh/fabric/internal/registry"
	"github.com/agentmesh/fabric/internal/statestore"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
)

// dialGateway spins up a Gateway behind an in-process bufconn listener
// and returns a RuntimeClient dialed against it, mirroring the
// bufconn-based harness used for the broker's own gRPC tests.
func dialGateway(t *testing.T) wire.RuntimeClient {
	t.Helper()

	const bufSize = 1024 * 1024
	lis := bufconn.Listen(bufSize)

	gw := gateway.New(gateway.Config{
		Registry: registry.NewMemory(),
		Subs:     subscription.NewIndex(),
		States:   statestore.NewMemory(),
		Msgs:     messageregistry.New(0, 0, 0),
	})

	srv := grpc.NewServer(grpc.ForceServerCodec(wire.Codec()))
	wire.RegisterRuntimeServer(srv, gw)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec())))
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return wire.NewRuntimeClient(conn)
}

type echoAgent struct {
	rt agent.RuntimeHandle
}

func (a *echoAgent) Handle(ctx *agent.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (a *echoAgent) Close(context.Context) error { return nil }

func newEchoAgent(id addressing.AgentId, rt agent.RuntimeHandle) (agent.Agent, error) {
	return &echoAgent{rt: rt}, nil
}

type failAgent struct{}

func (a *failAgent) Handle(ctx *agent.Context, payload []byte) ([]byte, error) {
	return nil, errors.New("boom")
}

func (a *failAgent) Close(context.Context) error { return nil }

func TestRequestResponseRoundTrip(t *testing.T) {
	client := dialGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(Config{Client: client})
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			t.Logf("worker run exited: %v", err)
		}
	}()

	regCtx, regCancel := context.WithTimeout(ctx, 2*time.Second)
	defer regCancel()
	if err := w.RegisterAgentType(regCtx, "echo", newEchoAgent); err != nil {
		t.Fatalf("register agent type: %v", err)
	}

	caller := &runtimeHandle{w: w, self: addressing.AgentId{Type: "caller", Key: "c1"}}
	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()

	resp, err := caller.SendMessage(callCtx, []byte("hello"), addressing.AgentId{Type: "echo", Key: "e1"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if string(resp) != "hello" {
		t.Fatalf("expected echoed payload %q, got %q", "hello", resp)
	}
}

func TestRequestHandlerErrorPropagates(t *testing.T) {
	client := dialGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(Config{Client: client})
	go func() { _ = w.Run(ctx) }()

	regCtx, regCancel := context.WithTimeout(ctx, 2*time.Second)
	defer regCancel()
	err := w.RegisterAgentType(regCtx, "failer", func(id addressing.AgentId, rt agent.RuntimeHandle) (agent.Agent, error) {
		return &failAgent{}, nil
	})
	if err != nil {
		t.Fatalf("register agent type: %v", err)
	}

	caller := &runtimeHandle{w: w, self: addressing.AgentId{Type: "caller", Key: "c2"}}
	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()

	_, err = caller.SendMessage(callCtx, []byte("x"), addressing.AgentId{Type: "failer", Key: "f1"})
	if err == nil {
		t.Fatal("expected an error from the failing agent, got nil")
	}
}

func TestAgentMailboxIsPerAgent(t *testing.T) {
	client := dialGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(Config{Client: client})
	go func() { _ = w.Run(ctx) }()

	regCtx, regCancel := context.WithTimeout(ctx, 2*time.Second)
	defer regCancel()
	if err := w.RegisterAgentType(regCtx, "echo", newEchoAgent); err != nil {
		t.Fatalf("register agent type: %v", err)
	}

	caller := &runtimeHandle{w: w, self: addressing.AgentId{Type: "caller", Key: "c3"}}

	for i := 0; i < 5; i++ {
		callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
		payload := []byte(fmt.Sprintf("msg-%d", i))
		resp, err := caller.SendMessage(callCtx, payload, addressing.AgentId{Type: "echo", Key: "same_instance"})
		callCancel()
		if err != nil {
			t.Fatalf("send message %d: %v", i, err)
		}
		if string(resp) != string(payload) {
			t.Fatalf("message %d: expected %q, got %q", i, payload, resp)
		}
	}

	w.agentsMu.Lock()
	n := len(w.agents)
	w.agentsMu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one activated agent instance, got %d", n)
	}
}
