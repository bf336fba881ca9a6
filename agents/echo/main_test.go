package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/gateway"
	"github.com/agentmesh/fabric/internal/messageregistry"
	"github.com/agentmesh/fabric/internal/registry"
	"github.com/agentmesh/fabric/internal/statestore"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
	"github.com/agentmesh/fabric/internal/worker"
)

// TestSingleWorkerDirectRequestResponse implements scenario 1 of the
// end-to-end test matrix literally: a worker connects, registers the
// echo agent type, and a Request to echo/alice with payload "hi"
// comes back as "HI", with the registry recording the placement.
func TestSingleWorkerDirectRequestResponse(t *testing.T) {
	const bufSize = 1024 * 1024
	lis := bufconn.Listen(bufSize)

	reg := registry.NewMemory()
	gw := gateway.New(gateway.Config{
		Registry: reg,
		Subs:     subscription.NewIndex(),
		States:   statestore.NewMemory(),
		Msgs:     messageregistry.New(0, 0, 0),
	})

	srv := grpc.NewServer(grpc.ForceServerCodec(wire.Codec()))
	wire.RegisterRuntimeServer(srv, gw)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dial := func() *grpc.ClientConn {
		conn, err := grpc.DialContext(context.Background(), "bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec())))
		if err != nil {
			t.Fatalf("dial bufnet: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Worker W hosts the echo agent type.
	wConn := dial()
	w := worker.New(worker.Config{Client: wire.NewRuntimeClient(wConn)})
	go func() { _ = w.Run(ctx) }()

	regCtx, regCancel := context.WithTimeout(ctx, 2*time.Second)
	defer regCancel()
	if err := w.RegisterAgentType(regCtx, agentType, newEchoAgent); err != nil {
		t.Fatalf("register agent type: %v", err)
	}

	// A second connection plays the caller: another agent on W sending a
	// bare Request, bypassing the agent.RuntimeHandle abstraction since
	// the caller here is not itself a hosted agent.
	callerConn := dial()

	callCtx, callCancel := context.WithTimeout(ctx, 3*time.Second)
	defer callCancel()

	resp, err := sendRequest(callCtx, callerConn, "hi", "echo", "alice")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if string(resp) != "HI" {
		t.Fatalf("expected %q, got %q", "HI", resp)
	}

	workerID, isNew, err := reg.GetOrPlaceAgent(ctx, addressing.AgentId{Type: "echo", Key: "alice"})
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if workerID == "" {
		t.Fatal("expected echo/alice to have a recorded placement")
	}
	if isNew {
		t.Fatal("expected echo/alice to already be placed by the earlier Request, not freshly placed here")
	}
}

// sendRequest issues a bare Request envelope over conn and waits for
// the matching Response.
func sendRequest(ctx context.Context, conn *grpc.ClientConn, payload, targetType, targetKey string) ([]byte, error) {
	client := wire.NewRuntimeClient(conn)
	stream, err := client.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.CloseSend()

	if err := stream.Send(&wire.Envelope{Kind: wire.KindHello, Hello: &wire.Hello{ConnectionId: "test-caller"}}); err != nil {
		return nil, err
	}
	if _, err := stream.Recv(); err != nil {
		return nil, err
	}

	const requestID = "scenario-1-req"
	req := &wire.Request{
		RequestId: requestID,
		Source:    wire.AgentId{Type: "caller", Key: "c0"},
		Target:    wire.AgentId{Type: targetType, Key: targetKey},
		Payload:   []byte(payload),
	}
	if err := stream.Send(&wire.Envelope{Kind: wire.KindRequest, Request: req}); err != nil {
		return nil, err
	}

	for {
		env, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if env.Kind == wire.KindResponse && env.Response != nil && env.Response.RequestId == requestID {
			if env.Response.Error != "" {
				return nil, errors.New(env.Response.Error)
			}
			return env.Response.Payload, nil
		}
	}
}
