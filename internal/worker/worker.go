package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/agent"
	"github.com/agentmesh/fabric/internal/observability"
	"github.com/agentmesh/fabric/internal/rtstatus"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
)

const (
	// mailboxSize bounds how many undelivered tasks an activated agent
	// will queue before the worker starts rejecting further enqueues.
	mailboxSize = 64

	// enqueueTimeout bounds how long the worker blocks trying to hand a
	// task to a full mailbox before giving up on that one delivery.
	enqueueTimeout = 5 * time.Second

	// controlTimeout bounds how long RegisterAgentType/AddSubscription
	// wait for their acknowledgement envelope.
	controlTimeout = 10 * time.Second
)

// Config bundles a Worker's collaborators.
type Config struct {
	Client  wire.RuntimeClient
	Traces  *observability.TraceManager
	Metrics *observability.MetricsManager
	Logger  *slog.Logger
}

// Worker is the mailbox and dispatcher: it holds one
// channel open against the gateway, activates agents lazily from their
// registered factories, and runs each activated agent's handler on its
// own goroutine so a slow agent never blocks the rest of the worker.
type Worker struct {
	client  wire.RuntimeClient
	traces  *observability.TraceManager
	metrics *observability.MetricsManager
	logger  *slog.Logger

	stream wire.Runtime_OpenChannelClient
	sendMu sync.Mutex

	connID string

	factoriesMu sync.RWMutex
	factories   map[string]agent.Factory

	agentsMu sync.Mutex
	agents   map[string]*activeAgent

	subs *subscription.Index

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Response

	controlMu sync.Mutex
	control   map[string]chan *wire.Envelope
}

// New constructs a Worker. Call Run to open the channel and start
// dispatching; register agent types and subscriptions once Run has been
// started (e.g. right after `go w.Run(ctx)`): RegisterAgentType and
// AddSubscription wait up to controlTimeout for the channel to open,
// then block on an acknowledgement from the gateway.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client:    cfg.Client,
		traces:    cfg.Traces,
		metrics:   cfg.Metrics,
		logger:    logger,
		factories: make(map[string]agent.Factory),
		agents:    make(map[string]*activeAgent),
		subs:      subscription.NewIndex(),
		pending:   make(map[string]chan *wire.Response),
		control:   make(map[string]chan *wire.Envelope),
	}
}

// RegisterFactory associates agentType with factory for lazy local
// activation. It does not by itself tell the gateway this worker can
// host agentType; call RegisterAgentType for that once the channel is
// open.
func (w *Worker) RegisterFactory(agentType string, factory agent.Factory) {
	w.factoriesMu.Lock()
	defer w.factoriesMu.Unlock()
	w.factories[agentType] = factory
}

// Run opens the channel, completes the Hello handshake, and drives the
// envelope-dispatch loop until ctx is cancelled or the stream breaks.
func (w *Worker) Run(ctx context.Context) error {
	stream, err := w.client.OpenChannel(ctx)
	if err != nil {
		return fmt.Errorf("worker: open channel: %w", err)
	}
	w.sendMu.Lock()
	w.stream = stream
	w.sendMu.Unlock()

	env, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("worker: waiting for hello: %w", err)
	}
	if env.Kind != wire.KindHello || env.Hello == nil {
		return fmt.Errorf("worker: expected hello, got %s", env.Kind)
	}
	w.connID = env.Hello.ConnectionId
	w.logger.Info("channel open", "connection_id", w.connID)

	for {
		env, err := stream.Recv()
		if err != nil {
			return err
		}
		w.dispatch(ctx, env)
	}
}

func (w *Worker) dispatch(ctx context.Context, env *wire.Envelope) {
	switch env.Kind {
	case wire.KindRequest:
		w.handleInboundRequest(ctx, env.Request)
	case wire.KindEvent:
		w.handleInboundEvent(ctx, env.Event)
	case wire.KindResponse:
		w.deliverResponse(env.Response)
	case wire.KindAddSubscriptionResponse:
		w.deliverControl(env.AddSubscriptionResponse.RequestId, env)
	case wire.KindRegisterAgentTypeResponse:
		w.deliverControl(env.RegisterAgentTypeResponse.RequestId, env)
	default:
		w.logger.Warn("dropping envelope of unexpected kind on stream", "kind", env.Kind.String())
	}
}

// sendEnvelope writes env to the channel, waiting up to controlTimeout
// for Run to open it when it is not open yet.
func (w *Worker) sendEnvelope(env *wire.Envelope) error {
	deadline := time.Now().Add(controlTimeout)
	for {
		w.sendMu.Lock()
		if w.stream != nil {
			defer w.sendMu.Unlock()
			return w.stream.Send(env)
		}
		w.sendMu.Unlock()
		if time.Now().After(deadline) {
			return rtstatus.New(rtstatus.Unavailable, "channel not open within %s", controlTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (w *Worker) deliverResponse(resp *wire.Response) {
	w.pendingMu.Lock()
	ch, ok := w.pending[resp.RequestId]
	if ok {
		delete(w.pending, resp.RequestId)
	}
	w.pendingMu.Unlock()
	if !ok {
		w.logger.Warn("response for unknown or already-resolved request", "request_id", resp.RequestId)
		return
	}
	ch <- resp
}

func (w *Worker) deliverControl(requestID string, env *wire.Envelope) {
	w.controlMu.Lock()
	ch, ok := w.control[requestID]
	if ok {
		delete(w.control, requestID)
	}
	w.controlMu.Unlock()
	if !ok {
		w.logger.Warn("control ack for unknown request", "request_id", requestID, "kind", env.Kind.String())
		return
	}
	ch <- env
}

// awaitControl registers a one-shot channel for requestID and blocks
// until it is delivered, ctx is done, or controlTimeout elapses.
func (w *Worker) awaitControl(ctx context.Context, requestID string) (*wire.Envelope, error) {
	ch := make(chan *wire.Envelope, 1)
	w.controlMu.Lock()
	w.control[requestID] = ch
	w.controlMu.Unlock()

	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		w.controlMu.Lock()
		delete(w.control, requestID)
		w.controlMu.Unlock()
		return nil, ctx.Err()
	case <-time.After(controlTimeout):
		w.controlMu.Lock()
		delete(w.control, requestID)
		w.controlMu.Unlock()
		return nil, rtstatus.New(rtstatus.DeadlineExceeded, "no acknowledgement within %s", controlTimeout)
	}
}

// RegisterAgentType registers factory for agentType locally and
// declares the capability to the gateway over the open channel.
func (w *Worker) RegisterAgentType(ctx context.Context, agentType string, factory agent.Factory) error {
	w.RegisterFactory(agentType, factory)

	requestID := uuid.NewString()
	env := &wire.Envelope{
		Kind:              wire.KindRegisterAgentType,
		RegisterAgentType: &wire.RegisterAgentType{RequestId: requestID, Type: agentType},
	}
	if err := w.sendEnvelope(env); err != nil {
		return fmt.Errorf("worker: register agent type %q: %w", agentType, err)
	}

	ack, err := w.awaitControl(ctx, requestID)
	if err != nil {
		return fmt.Errorf("worker: register agent type %q: %w", agentType, err)
	}
	if !ack.RegisterAgentTypeResponse.Success {
		return rtstatus.New(rtstatus.Internal, "register agent type %q: %s", agentType, ack.RegisterAgentTypeResponse.Error)
	}
	return nil
}

// AddSubscription registers sub with the gateway and mirrors it locally
// so inbound Events can be matched back to the locally-hosted agent
// type without another round trip.
func (w *Worker) AddSubscription(ctx context.Context, sub addressing.Subscription) error {
	requestID := uuid.NewString()
	env := &wire.Envelope{
		Kind:            wire.KindAddSubscription,
		AddSubscription: &wire.AddSubscription{RequestId: requestID, Subscription: toWireSubscriptionDescriptor(sub)},
	}
	if err := w.sendEnvelope(env); err != nil {
		return fmt.Errorf("worker: add subscription: %w", err)
	}

	ack, err := w.awaitControl(ctx, requestID)
	if err != nil {
		return fmt.Errorf("worker: add subscription: %w", err)
	}
	if !ack.AddSubscriptionResponse.Success {
		return rtstatus.New(rtstatus.Internal, "add subscription: %s", ack.AddSubscriptionResponse.Error)
	}

	w.subs.Add(sub)
	return nil
}

func toWireSubscriptionDescriptor(sub addressing.Subscription) wire.SubscriptionDescriptor {
	d := wire.SubscriptionDescriptor{AgentType: sub.AgentType}
	if sub.Kind == addressing.TypePrefixSubscription {
		d.Kind = "prefix"
		d.Topic = sub.Prefix
	} else {
		d.Kind = "exact"
		d.Topic = sub.Topic
	}
	return d
}

// Shutdown closes every activated agent and tears down the channel.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.agentsMu.Lock()
	agents := make([]*activeAgent, 0, len(w.agents))
	for _, aa := range w.agents {
		agents = append(agents, aa)
	}
	w.agents = make(map[string]*activeAgent)
	w.agentsMu.Unlock()

	for _, aa := range agents {
		close(aa.tasks)
		if err := aa.instance.Close(ctx); err != nil {
			w.logger.Warn("agent close returned error", "agent_id", aa.id.String(), "error", err)
		}
	}

	return w.stream.CloseSend()
}
