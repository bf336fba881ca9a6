package worker

import (
	"context"
	"time"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/agent"
	"github.com/agentmesh/fabric/internal/rtstatus"
	"github.com/agentmesh/fabric/internal/wire"
)

// inboundTask is one unit of work queued onto an activated agent's
// mailbox: a Request that expects a Response, or an Event that does
// not.
type inboundTask struct {
	agentCtx  *agent.Context
	payload   []byte
	requestID string // non-empty for a Request task
}

// activeAgent is one locally-activated (type,key) instance: its own
// task queue and its own dispatch goroutine, so one slow Handle call
// never delays another agent's mailbox.
type activeAgent struct {
	id       addressing.AgentId
	instance agent.Agent
	handle   *runtimeHandle
	tasks    chan *inboundTask
}

// resolveOrActivate returns the already-running instance for id,
// instantiating it from its registered factory (and restoring
// persisted state, if the agent asks for it) on first use.
func (w *Worker) resolveOrActivate(ctx context.Context, id addressing.AgentId) (*activeAgent, error) {
	key := id.String()

	w.agentsMu.Lock()
	if aa, ok := w.agents[key]; ok {
		w.agentsMu.Unlock()
		return aa, nil
	}
	w.agentsMu.Unlock()

	w.factoriesMu.RLock()
	factory, ok := w.factories[id.Type]
	w.factoriesMu.RUnlock()
	if !ok {
		return nil, rtstatus.New(rtstatus.Internal, "no agent factory registered for type %q", id.Type)
	}

	handle := &runtimeHandle{w: w, self: id}
	instance, err := factory(id, handle)
	if err != nil {
		return nil, rtstatus.New(rtstatus.Internal, "activating %s: %s", key, err)
	}

	aa := &activeAgent{id: id, instance: instance, handle: handle, tasks: make(chan *inboundTask, mailboxSize)}

	w.agentsMu.Lock()
	if existing, ok := w.agents[key]; ok {
		w.agentsMu.Unlock()
		_ = instance.Close(ctx)
		return existing, nil
	}
	w.agents[key] = aa
	w.agentsMu.Unlock()

	if loader, ok := instance.(agent.StateLoader); ok {
		w.restoreState(ctx, id, loader)
	}

	go w.runAgentLoop(aa)
	return aa, nil
}

// restoreState loads id's persisted state before the agent's mailbox
// loop starts. A NotFound is a fresh agent, not an error.
func (w *Worker) restoreState(ctx context.Context, id addressing.AgentId, loader agent.StateLoader) {
	rctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	payload, _, err := (&runtimeHandle{w: w, self: id}).LoadState(rctx)
	if err != nil {
		if rtstatus.KindOf(err) != rtstatus.NotFound {
			w.logger.Warn("failed to restore agent state", "agent_id", id.String(), "error", err)
		}
		return
	}
	if err := loader.LoadState(payload); err != nil {
		w.logger.Warn("agent rejected restored state", "agent_id", id.String(), "error", err)
	}
}

// runAgentLoop is the per-agent dispatch goroutine: one task at a time,
// in arrival order, with a state save after each one when the agent
// implements agent.StateSaver.
func (w *Worker) runAgentLoop(aa *activeAgent) {
	for task := range aa.tasks {
		w.runTask(aa, task)
	}
}

func (w *Worker) runTask(aa *activeAgent, task *inboundTask) {
	payload, err := func() (out []byte, handleErr error) {
		defer func() {
			if r := recover(); r != nil {
				handleErr = rtstatus.New(rtstatus.Internal, "agent %s panicked: %v", aa.id.String(), r)
			}
		}()
		return aa.instance.Handle(task.agentCtx, task.payload)
	}()

	if task.requestID != "" {
		resp := &wire.Response{RequestId: task.requestID, Payload: payload}
		if err != nil {
			resp.Error = err.Error()
		}
		if sendErr := w.sendEnvelope(&wire.Envelope{Kind: wire.KindResponse, Response: resp}); sendErr != nil {
			w.logger.Warn("failed to send response", "agent_id", aa.id.String(), "error", sendErr)
		}
	} else if err != nil {
		w.logger.Warn("agent event handler returned error", "agent_id", aa.id.String(), "error", err)
	}

	if saver, ok := aa.instance.(agent.StateSaver); ok {
		w.saveAgentState(aa, saver)
	}
}

func (w *Worker) saveAgentState(aa *activeAgent, saver agent.StateSaver) {
	payload, err := saver.SaveState()
	if err != nil {
		w.logger.Warn("agent state serialization failed", "agent_id", aa.id.String(), "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if _, err := aa.handle.SaveState(ctx, payload); err != nil {
		w.logger.Warn("failed to persist agent state", "agent_id", aa.id.String(), "error", err)
	}
}

// handleInboundRequest resolves or activates req.Target and enqueues
// the call on its mailbox.
func (w *Worker) handleInboundRequest(ctx context.Context, req *wire.Request) {
	target, err := addressing.NewAgentId(req.Target.Type, req.Target.Key)
	if err != nil {
		w.replyRequestError(req.RequestId, rtstatus.New(rtstatus.InvalidArgument, "%s", err))
		return
	}

	aa, err := w.resolveOrActivate(ctx, target)
	if err != nil {
		w.replyRequestError(req.RequestId, err)
		return
	}

	source, _ := addressing.NewAgentId(req.Source.Type, req.Source.Key)
	agentCtx := &agent.Context{
		MessageID:    req.RequestId,
		Cancellation: ctx,
		Sender:       &source,
		IsRPC:        true,
	}

	w.enqueue(aa, &inboundTask{agentCtx: agentCtx, payload: req.Payload, requestID: req.RequestId})
}

func (w *Worker) replyRequestError(requestID string, err error) {
	resp := &wire.Envelope{Kind: wire.KindResponse, Response: &wire.Response{RequestId: requestID, Error: err.Error()}}
	if sendErr := w.sendEnvelope(resp); sendErr != nil {
		w.logger.Warn("failed to send error response", "request_id", requestID, "error", sendErr)
	}
}

// handleInboundEvent fans ev in to every locally-hosted agent type
// subscribed to its topic. The activation key is the event source's
// type component, matching the worked fan-out example: a listener
// agent activated per publishing agent type, not per publishing
// instance key.
func (w *Worker) handleInboundEvent(ctx context.Context, ev *wire.Event) {
	agentTypes := w.subs.Match(ev.Topic.Type)
	if len(agentTypes) == 0 {
		return
	}

	sourceID, sourceErr := addressing.ParseAgentId(ev.Source)
	key := ev.Source
	if sourceErr == nil {
		key = sourceID.Type
	}

	topic, _ := addressing.NewTopicId(ev.Topic.Type, ev.Topic.Source)

	for _, agentType := range agentTypes {
		target, err := addressing.NewAgentId(agentType, key)
		if err != nil {
			w.logger.Warn("cannot derive activation key for event", "agent_type", agentType, "source", ev.Source, "error", err)
			continue
		}
		aa, err := w.resolveOrActivate(ctx, target)
		if err != nil {
			w.logger.Warn("failed to activate agent for event", "agent_id", target.String(), "error", err)
			continue
		}

		agentCtx := &agent.Context{
			MessageID:    ev.Id,
			Cancellation: ctx,
			Topic:        &topic,
			IsRPC:        false,
		}
		if sourceErr == nil {
			agentCtx.Sender = &sourceID
		}

		w.enqueue(aa, &inboundTask{agentCtx: agentCtx, payload: ev.Payload})
	}
}

func (w *Worker) enqueue(aa *activeAgent, task *inboundTask) {
	select {
	case aa.tasks <- task:
	case <-time.After(enqueueTimeout):
		w.logger.Warn("agent mailbox full, dropping task", "agent_id", aa.id.String())
		if task.requestID != "" {
			w.replyRequestError(task.requestID, rtstatus.New(rtstatus.Unavailable, "agent %s mailbox is full", aa.id.String()))
		}
	}
}
