package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentmesh/fabric/internal/messageregistry"
	"github.com/agentmesh/fabric/internal/registry"
	"github.com/agentmesh/fabric/internal/statestore"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
)

// testHarness wires a Gateway behind an in-process bufconn listener and
// lets a test open raw OpenChannel streams against it, speaking the
// wire envelope protocol directly rather than through internal/worker,
// so these tests exercise Gateway's fan-out/subscription/buffering
// logic in isolation.
type testHarness struct {
	t   *testing.T
	gw  *Gateway
	lis *bufconn.Listener
}

func newTestHarness(t *testing.T, msgs *messageregistry.Registry) *testHarness {
	t.Helper()

	const bufSize = 1024 * 1024
	lis := bufconn.Listen(bufSize)

	if msgs == nil {
		msgs = messageregistry.New(0, 0, 0)
	}
	gw := New(Config{
		Registry: registry.NewMemory(),
		Subs:     subscription.NewIndex(),
		States:   statestore.NewMemory(),
		Msgs:     msgs,
	})

	srv := grpc.NewServer(grpc.ForceServerCodec(wire.Codec()))
	wire.RegisterRuntimeServer(srv, gw)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &testHarness{t: t, gw: gw, lis: lis}
}

// testConn is one raw OpenChannel stream, used to play a worker.
type testConn struct {
	t      *testing.T
	stream wire.Runtime_OpenChannelClient
}

func (h *testHarness) connect() *testConn {
	h.t.Helper()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return h.lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec())))
	if err != nil {
		h.t.Fatalf("dial bufnet: %v", err)
	}
	h.t.Cleanup(func() { _ = conn.Close() })

	client := wire.NewRuntimeClient(conn)
	stream, err := client.OpenChannel(context.Background())
	if err != nil {
		h.t.Fatalf("open channel: %v", err)
	}
	h.t.Cleanup(func() { _ = stream.CloseSend() })

	if _, err := stream.Recv(); err != nil {
		h.t.Fatalf("await hello: %v", err)
	}

	return &testConn{t: h.t, stream: stream}
}

func (c *testConn) registerAgentType(agentType string) {
	c.t.Helper()
	if err := c.stream.Send(&wire.Envelope{
		Kind:              wire.KindRegisterAgentType,
		RegisterAgentType: &wire.RegisterAgentType{RequestId: "reg-" + agentType, Type: agentType},
	}); err != nil {
		c.t.Fatalf("send RegisterAgentType: %v", err)
	}
	env, err := c.stream.Recv()
	if err != nil {
		c.t.Fatalf("recv RegisterAgentTypeResponse: %v", err)
	}
	if env.Kind != wire.KindRegisterAgentTypeResponse || !env.RegisterAgentTypeResponse.Success {
		c.t.Fatalf("agent type registration failed: %+v", env.RegisterAgentTypeResponse)
	}
}

func (c *testConn) addSubscription(id string, sub wire.SubscriptionDescriptor) {
	c.t.Helper()
	if err := c.stream.Send(&wire.Envelope{
		Kind:            wire.KindAddSubscription,
		AddSubscription: &wire.AddSubscription{RequestId: id, Subscription: sub},
	}); err != nil {
		c.t.Fatalf("send AddSubscription: %v", err)
	}
	env, err := c.stream.Recv()
	if err != nil {
		c.t.Fatalf("recv AddSubscriptionResponse: %v", err)
	}
	if env.Kind != wire.KindAddSubscriptionResponse || !env.AddSubscriptionResponse.Success {
		c.t.Fatalf("add subscription failed: %+v", env.AddSubscriptionResponse)
	}
}

func (c *testConn) publish(ev *wire.Event) {
	c.t.Helper()
	if err := c.stream.Send(&wire.Envelope{Kind: wire.KindEvent, Event: ev}); err != nil {
		c.t.Fatalf("send Event: %v", err)
	}
}

// recvEvent waits up to the given timeout for an Event envelope,
// failing the test on timeout.
func (c *testConn) recvEvent(timeout time.Duration) *wire.Event {
	c.t.Helper()
	type result struct {
		env *wire.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := c.stream.Recv()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			c.t.Fatalf("recv event: %v", r.err)
		}
		if r.env.Kind != wire.KindEvent {
			c.t.Fatalf("expected Event envelope, got %s", r.env.Kind)
		}
		return r.env.Event
	case <-time.After(timeout):
		c.t.Fatal("timed out waiting for event")
		return nil
	}
}

// expectNoEvent asserts no Event envelope arrives within the timeout.
func (c *testConn) expectNoEvent(timeout time.Duration) {
	c.t.Helper()
	type result struct {
		env *wire.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := c.stream.Recv()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && r.env.Kind == wire.KindEvent {
			c.t.Fatalf("expected no event, got %+v", r.env.Event)
		}
	case <-time.After(timeout):
	}
}

// TestEventFanOutToSubscribedWorkers implements scenario 2: two
// workers register type "listener" and subscribe to topic "news"; a
// publish reaches both exactly once.
func TestEventFanOutToSubscribedWorkers(t *testing.T) {
	h := newTestHarness(t, nil)

	w1 := h.connect()
	w1.registerAgentType("listener")
	w1.addSubscription("sub1", wire.SubscriptionDescriptor{Kind: "exact", Topic: "news", AgentType: "listener"})

	w2 := h.connect()
	w2.registerAgentType("listener")
	w2.addSubscription("sub2", wire.SubscriptionDescriptor{Kind: "exact", Topic: "news", AgentType: "listener"})

	publisher := h.connect()
	publisher.publish(&wire.Event{
		Id:      "ev1",
		Topic:   wire.TopicId{Type: "news", Source: "default"},
		Source:  "w3/reporter",
		Payload: []byte("update"),
	})

	ev1 := w1.recvEvent(2 * time.Second)
	if string(ev1.Payload) != "update" {
		t.Fatalf("expected payload %q, got %q", "update", ev1.Payload)
	}
	ev2 := w2.recvEvent(2 * time.Second)
	if string(ev2.Payload) != "update" {
		t.Fatalf("expected payload %q, got %q", "update", ev2.Payload)
	}
}

// TestPrefixSubscriptionMatchesOnlyPrefixedTopic implements scenario 3:
// a prefix subscription on "alerts." receives "alerts.fire" but not
// "weather".
func TestPrefixSubscriptionMatchesOnlyPrefixedTopic(t *testing.T) {
	h := newTestHarness(t, messageregistry.New(0, 0, 0))

	siren := h.connect()
	siren.registerAgentType("siren")
	siren.addSubscription("sub1", wire.SubscriptionDescriptor{Kind: "prefix", Topic: "alerts.", AgentType: "siren"})

	publisher := h.connect()
	publisher.publish(&wire.Event{
		Id:      "ev-fire",
		Topic:   wire.TopicId{Type: "alerts.fire", Source: "default"},
		Source:  "station/1",
		Payload: []byte("fire"),
	})
	publisher.publish(&wire.Event{
		Id:      "ev-weather",
		Topic:   wire.TopicId{Type: "weather", Source: "default"},
		Source:  "station/1",
		Payload: []byte("sunny"),
	})

	ev := siren.recvEvent(2 * time.Second)
	if ev.Topic.Type != "alerts.fire" {
		t.Fatalf("expected alerts.fire event, got topic %q", ev.Topic.Type)
	}
	siren.expectNoEvent(300 * time.Millisecond)
}

// TestEventBufferedForLateSubscriber implements scenario 6: a publish
// with no matching subscriber is buffered, then delivered once a
// matching subscription is added within the hold window.
func TestEventBufferedForLateSubscriber(t *testing.T) {
	h := newTestHarness(t, messageregistry.New(5*time.Second, 1024*1024, 1024*1024))

	publisher := h.connect()
	publisher.publish(&wire.Event{
		Id:      "ev-late",
		Topic:   wire.TopicId{Type: "late", Source: "default"},
		Source:  "station/1",
		Payload: []byte("buffered"),
	})

	lateListener := h.connect()
	lateListener.registerAgentType("late-listener")
	lateListener.addSubscription("sub1", wire.SubscriptionDescriptor{Kind: "exact", Topic: "late", AgentType: "late-listener"})

	ev := lateListener.recvEvent(2 * time.Second)
	if string(ev.Payload) != "buffered" {
		t.Fatalf("expected buffered payload %q, got %q", "buffered", ev.Payload)
	}
}
