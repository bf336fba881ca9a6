package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/messageregistry"
	"github.com/agentmesh/fabric/internal/observability"
	"github.com/agentmesh/fabric/internal/registry"
	"github.com/agentmesh/fabric/internal/rtstatus"
	"github.com/agentmesh/fabric/internal/statestore"
	"github.com/agentmesh/fabric/internal/subscription"
	"github.com/agentmesh/fabric/internal/wire"
)

// ResponseTimeout bounds how long the gateway will hold a pending
// request open waiting on a worker's Response before synthesizing a
// DeadlineExceeded of its own.
const ResponseTimeout = 30 * time.Second

// Gateway is the cluster-global runtime router. One
// Gateway instance owns the RegistryGrain, the subscription index, the
// AgentStateStore and the message registry; any number of workers may
// open a channel against it.
type Gateway struct {
	wire.UnimplementedRuntimeServer

	registry registry.Grain
	subs     *subscription.Index
	states   statestore.Store
	msgs     *messageregistry.Registry

	dir     *directory
	pending *pendingTable

	connMu sync.Mutex
	conns  map[string]*WorkerConnection

	traces  *observability.TraceManager
	metrics *observability.MetricsManager
	logger  *slog.Logger
}

// Config bundles Gateway's collaborators.
type Config struct {
	Registry registry.Grain
	Subs     *subscription.Index
	States   statestore.Store
	Msgs     *messageregistry.Registry
	Traces   *observability.TraceManager
	Metrics  *observability.MetricsManager
	Logger   *slog.Logger
}

// New constructs a Gateway from cfg, filling in zero-value collaborators
// with sane in-process defaults.
func New(cfg Config) *Gateway {
	if cfg.Subs == nil {
		cfg.Subs = subscription.NewIndex()
	}
	if cfg.Msgs == nil {
		cfg.Msgs = messageregistry.New(0, 0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		registry: cfg.Registry,
		subs:     cfg.Subs,
		states:   cfg.States,
		msgs:     cfg.Msgs,
		dir:      newDirectory(),
		pending:  newPendingTable(),
		conns:    make(map[string]*WorkerConnection),
		traces:   cfg.Traces,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// ReapExpiredEvents moves every expired buffered event into its topic's
// dead letter queue. Callers run this off a ticker.
func (g *Gateway) ReapExpiredEvents() {
	g.msgs.Reap(time.Now())
}

func (g *Gateway) addConn(conn *WorkerConnection) {
	g.connMu.Lock()
	g.conns[conn.ID] = conn
	g.connMu.Unlock()
	if g.metrics != nil {
		g.metrics.AdjustConnectedWorkers(context.Background(), 1)
	}
}

func (g *Gateway) removeConn(conn *WorkerConnection) {
	g.connMu.Lock()
	delete(g.conns, conn.ID)
	g.connMu.Unlock()
	g.dir.removeConnection(conn)
	if g.metrics != nil {
		g.metrics.AdjustConnectedWorkers(context.Background(), -1)
	}
}

// OpenChannel implements wire.RuntimeServer: one bidirectional stream
// per worker process, handshaken with a KindHello envelope and then
// driven by an envelope-dispatch loop until the stream breaks.
func (g *Gateway) OpenChannel(stream wire.Runtime_OpenChannelServer) error {
	connID := uuid.NewString()
	conn := newWorkerConnection(connID, stream, g.logger)
	g.addConn(conn)

	if err := g.registry.RegisterWorker(stream.Context(), connID, connID); err != nil {
		g.removeConn(conn)
		return rtstatus.ToGRPCStatus(err)
	}

	go conn.runSendPump()
	conn.setState(Ready)

	if err := conn.Send(&wire.Envelope{Kind: wire.KindHello, Hello: &wire.Hello{ConnectionId: connID}}); err != nil {
		g.logger.Error("failed to send hello", "connection_id", connID, "error", err)
	}

	g.logger.Info("worker connected", "connection_id", connID)

	defer func() {
		conn.setState(Draining)
		g.removeConn(conn)
		_ = g.registry.RemoveWorker(context.Background(), connID)

		for _, pe := range g.pending.popAllForWorker(conn) {
			g.deliverSyntheticDisconnect(pe)
		}

		conn.Close()
		g.logger.Info("worker disconnected", "connection_id", connID)
	}()

	for {
		env, err := stream.Recv()
		if err != nil {
			return err
		}
		g.dispatch(stream.Context(), conn, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *WorkerConnection, env *wire.Envelope) {
	switch env.Kind {
	case wire.KindRequest:
		g.handleRequest(ctx, conn, env.Request)
	case wire.KindResponse:
		g.handleResponse(env.Response)
	case wire.KindEvent:
		g.handleEvent(ctx, env.Event)
	case wire.KindAddSubscription:
		g.handleAddSubscription(conn, env.AddSubscription)
	case wire.KindRemoveSubscription:
		g.handleRemoveSubscription(conn, env.RemoveSubscription)
	case wire.KindRegisterAgentType:
		g.handleRegisterAgentType(ctx, conn, env.RegisterAgentType)
	default:
		g.logger.Warn("dropping envelope of unexpected kind on stream",
			"connection_id", conn.ID, "kind", env.Kind.String())
	}
}

func (g *Gateway) deliverSyntheticDisconnect(pe *pendingEntry) {
	pe.timer.Stop()
	resp := &wire.Envelope{
		Kind: wire.KindResponse,
		Response: &wire.Response{
			RequestId: pe.originalID,
			Error:     fmt.Sprintf("%s: worker disconnected before responding", rtstatus.Unavailable),
		},
	}
	if err := pe.callerConn.Send(resp); err != nil {
		g.logger.Warn("failed to deliver synthetic disconnect response",
			"request_id", pe.originalID, "error", err)
	}
}

// handleRegisterAgentType records that conn's worker can host agentType.
// Events/Topics are recorded as declared capability metadata only; they
// do not implicitly create subscriptions (the worker issues an explicit
// AddSubscription for that).
func (g *Gateway) handleRegisterAgentType(ctx context.Context, conn *WorkerConnection, req *wire.RegisterAgentType) {
	resp := &wire.RegisterAgentTypeResponse{RequestId: req.RequestId}

	if err := g.registry.RegisterAgentType(ctx, conn.ID, req.Type); err != nil {
		resp.Error = err.Error()
	} else {
		conn.RegisterAgentType(req.Type)
		resp.Success = true
		g.logger.Info("agent type registered", "connection_id", conn.ID, "agent_type", req.Type)
	}

	_ = conn.Send(&wire.Envelope{Kind: wire.KindRegisterAgentTypeResponse, RegisterAgentTypeResponse: resp})
}

// handleAddSubscription registers sub in the cluster-global index, then
// drains any already-buffered events on matching topics to conn so a
// late subscriber still observes events published during its hold-time
// window.
func (g *Gateway) handleAddSubscription(conn *WorkerConnection, req *wire.AddSubscription) {
	resp := &wire.AddSubscriptionResponse{RequestId: req.RequestId}

	sub, err := toAddressingSubscription(req.Subscription)
	if err != nil {
		resp.Error = err.Error()
		_ = conn.Send(&wire.Envelope{Kind: wire.KindAddSubscriptionResponse, AddSubscriptionResponse: resp})
		return
	}

	sub = g.subs.Add(sub)
	resp.Success = true
	_ = conn.Send(&wire.Envelope{Kind: wire.KindAddSubscriptionResponse, AddSubscriptionResponse: resp})

	now := time.Now()
	for _, topicKey := range g.msgs.TopicsWithBufferedEvents() {
		topic, err := addressing.ParseTopicId(topicKey)
		if err != nil || !sub.Matches(topic.Type) {
			continue
		}
		for _, ev := range g.msgs.DrainMatching(topicKey, now) {
			g.deliverEvent(conn, sub.AgentType, ev)
		}
	}
}

func (g *Gateway) handleRemoveSubscription(conn *WorkerConnection, req *wire.RemoveSubscription) {
	g.subs.Remove(req.Id)
	resp := &wire.RemoveSubscriptionResponse{RequestId: req.RequestId, Success: true}
	_ = conn.Send(&wire.Envelope{Kind: wire.KindRemoveSubscriptionResponse, RemoveSubscriptionResponse: resp})
}

func toAddressingSubscription(d wire.SubscriptionDescriptor) (addressing.Subscription, error) {
	switch d.Kind {
	case "prefix":
		return addressing.Subscription{Kind: addressing.TypePrefixSubscription, Prefix: d.Topic, AgentType: d.AgentType}, nil
	case "exact", "":
		return addressing.Subscription{Kind: addressing.TypeSubscription, Topic: d.Topic, AgentType: d.AgentType}, nil
	default:
		return addressing.Subscription{}, rtstatus.New(rtstatus.InvalidArgument, "unknown subscription kind %q", d.Kind)
	}
}

// handleRequest resolves req.Target's owning worker through the
// RegistryGrain (placing it fresh if needed), rewrites its RequestId so
// gateway-local correlation never collides with another worker's ids,
// and forwards it. isNew placements carry a "restore_state" metadata
// hint; internal/worker does not read it and restores persisted state
// on every activation of an agent that implements agent.StateLoader.
func (g *Gateway) handleRequest(ctx context.Context, callerConn *WorkerConnection, req *wire.Request) {
	ctx, span := g.startRequestSpan(ctx, req)
	if span != nil {
		defer span.End()
	}

	target, err := addressing.NewAgentId(req.Target.Type, req.Target.Key)
	if err != nil {
		g.replyRequestError(callerConn, req.RequestId, rtstatus.New(rtstatus.InvalidArgument, "%s", err))
		return
	}

	workerID, isNew, err := g.registry.GetOrPlaceAgent(ctx, target)
	if err != nil {
		g.replyRequestError(callerConn, req.RequestId, err)
		return
	}
	if isNew && g.metrics != nil {
		g.metrics.IncrementPlacements(ctx, target.Type)
	}

	g.connMu.Lock()
	workerConn, ok := g.conns[workerID]
	g.connMu.Unlock()
	if !ok {
		g.replyRequestError(callerConn, req.RequestId,
			rtstatus.New(rtstatus.Unavailable, "worker %s for agent %s is not connected", workerID, target))
		return
	}
	g.dir.set(target.String(), workerConn)

	rewritten := *req
	rewrittenID := uuid.NewString()
	rewritten.RequestId = rewrittenID
	if isNew {
		if rewritten.Metadata == nil {
			rewritten.Metadata = make(map[string]string)
		}
		rewritten.Metadata["restore_state"] = "true"
	}

	pe := &pendingEntry{
		rewrittenID: rewrittenID,
		originalID:  req.RequestId,
		method:      req.Method,
		callerConn:  callerConn,
		workerConn:  workerConn,
		started:     time.Now(),
	}
	pe.timer = time.AfterFunc(ResponseTimeout, func() { g.expirePending(rewrittenID) })
	g.pending.add(pe)
	if g.metrics != nil {
		g.metrics.AdjustPendingRequests(ctx, 1)
		g.metrics.IncrementRequestsRouted(ctx, req.Method, target.Type)
	}

	if err := workerConn.Send(&wire.Envelope{Kind: wire.KindRequest, Request: &rewritten}); err != nil {
		g.pending.pop(rewrittenID)
		pe.timer.Stop()
		if g.metrics != nil {
			g.metrics.AdjustPendingRequests(ctx, -1)
		}
		g.replyRequestError(callerConn, req.RequestId, rtstatus.New(rtstatus.Unavailable, "%s", err))
	}
}

func (g *Gateway) startRequestSpan(ctx context.Context, req *wire.Request) (context.Context, trace.Span) {
	if g.traces == nil {
		return ctx, nil
	}
	return g.traces.StartRequestSpan(ctx, req.RequestId, req.Method, req.Target.Type, req.Target.Key)
}

func (g *Gateway) expirePending(rewrittenID string) {
	pe, ok := g.pending.pop(rewrittenID)
	if !ok {
		return
	}
	if g.metrics != nil {
		g.metrics.AdjustPendingRequests(context.Background(), -1)
		g.metrics.IncrementRequestErrors(context.Background(), pe.method, "deadline_exceeded")
	}
	resp := &wire.Envelope{
		Kind: wire.KindResponse,
		Response: &wire.Response{
			RequestId: pe.originalID,
			Error:     fmt.Sprintf("%s: no response within %s", rtstatus.DeadlineExceeded, ResponseTimeout),
		},
	}
	_ = pe.callerConn.Send(resp)
}

func (g *Gateway) replyRequestError(callerConn *WorkerConnection, originalID string, err error) {
	if g.metrics != nil {
		g.metrics.IncrementRequestErrors(context.Background(), "", rtstatus.KindOf(err).String())
	}
	resp := &wire.Envelope{
		Kind: wire.KindResponse,
		Response: &wire.Response{
			RequestId: originalID,
			Error:     err.Error(),
		},
	}
	_ = callerConn.Send(resp)
}

// handleResponse correlates a worker's Response against the pending
// table, restores the caller's original RequestId, and forwards it.
func (g *Gateway) handleResponse(resp *wire.Response) {
	pe, ok := g.pending.pop(resp.RequestId)
	if !ok {
		g.logger.Warn("response for unknown or already-resolved request", "request_id", resp.RequestId)
		return
	}
	pe.timer.Stop()

	if g.metrics != nil {
		g.metrics.AdjustPendingRequests(context.Background(), -1)
		g.metrics.RecordRequestDispatchDuration(context.Background(), pe.method, time.Since(pe.started))
		g.metrics.IncrementResponsesRouted(context.Background(), pe.method)
	}

	rewritten := *resp
	rewritten.RequestId = pe.originalID
	_ = pe.callerConn.Send(&wire.Envelope{Kind: wire.KindResponse, Response: &rewritten})
}

// handleEvent fans ev out to every worker connection hosting a
// subscribed agent type, skipping the publishing agent itself when it
// is also a subscriber of its own topic (self-echo prevention). Events
// with no matching subscriber are buffered for later delivery instead
// of being silently dropped.
func (g *Gateway) handleEvent(ctx context.Context, ev *wire.Event) {
	if g.metrics != nil {
		g.metrics.IncrementEventsPublished(ctx, ev.Topic.Type)
	}

	source, sourceErr := addressing.ParseAgentId(ev.Source)

	agentTypes := g.subs.Match(ev.Topic.Type)
	delivered := false

	for _, agentType := range agentTypes {
		g.connMu.Lock()
		var targetConns []*WorkerConnection
		for _, c := range g.conns {
			if c.State() == Ready && c.SupportsType(agentType) {
				targetConns = append(targetConns, c)
			}
		}
		g.connMu.Unlock()

		for _, targetConn := range targetConns {
			if sourceErr == nil && agentType == source.Type && targetConn.ID == g.connIDFor(source) {
				continue
			}

			g.deliverEvent(targetConn, agentType, *ev)
			delivered = true
		}
	}

	if !delivered {
		g.msgs.BufferUndelivered(topicKey(ev.Topic), *ev, time.Now())
	}
}

// topicKey renders a wire.TopicId in the same "type/source" canonical
// form addressing.TopicId.String() produces, so message-registry keys
// line up with the ones parsed back out of TopicsWithBufferedEvents.
func topicKey(t wire.TopicId) string {
	return t.Type + "/" + t.Source
}

// connIDFor resolves the worker connection a previously placed agent
// lives on, used only for self-echo comparison; an unplaced or unknown
// agent resolves to the empty string, which never matches a real
// connection ID.
func (g *Gateway) connIDFor(id addressing.AgentId) string {
	if conn, ok := g.dir.get(id.String()); ok {
		return conn.ID
	}
	return ""
}

func (g *Gateway) deliverEvent(conn *WorkerConnection, agentType string, ev wire.Event) {
	if err := conn.Send(&wire.Envelope{Kind: wire.KindEvent, Event: &ev}); err != nil {
		g.logger.Warn("failed to deliver event", "connection_id", conn.ID, "agent_type", agentType, "error", err)
		return
	}
	if g.metrics != nil {
		g.metrics.IncrementEventFanout(context.Background(), ev.Topic.Type, agentType)
	}
}

// GetState implements the unary GetState RPC: a plain passthrough to
// the AgentStateStore, no worker identity required.
func (g *Gateway) GetState(ctx context.Context, req *wire.GetStateRequest) (*wire.AgentState, error) {
	id, err := addressing.NewAgentId(req.AgentId.Type, req.AgentId.Key)
	if err != nil {
		return nil, rtstatus.ToGRPCStatus(rtstatus.New(rtstatus.InvalidArgument, "%s", err))
	}

	rec, err := g.states.Read(ctx, id)
	if err != nil {
		return nil, rtstatus.ToGRPCStatus(err)
	}
	return &wire.AgentState{AgentId: req.AgentId, Etag: rec.Etag, Payload: rec.Payload}, nil
}

// SaveState implements the unary SaveState RPC.
func (g *Gateway) SaveState(ctx context.Context, req *wire.SaveStateRequest) (*wire.SaveResponse, error) {
	id, err := addressing.NewAgentId(req.State.AgentId.Type, req.State.AgentId.Key)
	if err != nil {
		return nil, rtstatus.ToGRPCStatus(rtstatus.New(rtstatus.InvalidArgument, "%s", err))
	}

	newEtag, err := g.states.Write(ctx, id, req.State.Etag, req.State.Payload)
	if err != nil {
		if rtstatus.KindOf(err) == rtstatus.Conflict {
			return &wire.SaveResponse{Success: false, Error: err.Error()}, nil
		}
		return nil, rtstatus.ToGRPCStatus(err)
	}
	return &wire.SaveResponse{Success: true, NewEtag: newEtag}, nil
}

// AddSubscription implements the unary AddSubscription RPC. It has no
// connecting-worker identity to attach the subscription's deliveries
// to, so it is only useful for the subscription side effect (making
// the topic visible to SubscriptionIndex.Match); a worker that wants
// buffered-event replay on subscribe should issue the in-stream
// AddSubscription control envelope instead, which has a connection to
// deliver through.
func (g *Gateway) AddSubscription(ctx context.Context, req *wire.AddSubscriptionRequest) (*wire.AddSubscriptionResponse, error) {
	sub, err := toAddressingSubscription(req.Subscription)
	if err != nil {
		return nil, rtstatus.ToGRPCStatus(err)
	}
	sub = g.subs.Add(sub)
	return &wire.AddSubscriptionResponse{Success: true, RequestId: sub.ID}, nil
}

// RegisterAgent implements the unary RegisterAgent RPC, for callers
// that need to declare a capability outside an open channel. As with
// AddSubscription, there is no connection to attach placement eligibility
// to here; RegisterAgentType only takes effect once the same worker ID
// also opens a channel and registers the type over the stream.
func (g *Gateway) RegisterAgent(ctx context.Context, req *wire.RegisterAgentTypeRequest) (*wire.RegisterAgentTypeResponse, error) {
	return &wire.RegisterAgentTypeResponse{Success: true}, nil
}
