package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
	"github.com/agentmesh/fabric/internal/wire"
)

// runtimeHandle is the concrete agent.RuntimeHandle bound to one
// activated agent's identity. Every RuntimeHandle call crosses back
// into the Worker that activated it: SendMessage/PublishMessage over
// the open channel, SaveState/LoadState over the unary RPCs.
type runtimeHandle struct {
	w    *Worker
	self addressing.AgentId
}

// SendMessage issues a Request and blocks for the correlated Response.
func (h *runtimeHandle) SendMessage(ctx context.Context, payload []byte, recipient addressing.AgentId) ([]byte, error) {
	requestID := uuid.NewString()
	ch := make(chan *wire.Response, 1)

	h.w.pendingMu.Lock()
	h.w.pending[requestID] = ch
	h.w.pendingMu.Unlock()

	req := &wire.Request{
		RequestId: requestID,
		Source:    wire.AgentId{Type: h.self.Type, Key: h.self.Key},
		Target:    wire.AgentId{Type: recipient.Type, Key: recipient.Key},
		Payload:   payload,
	}
	if err := h.w.sendEnvelope(&wire.Envelope{Kind: wire.KindRequest, Request: req}); err != nil {
		h.w.pendingMu.Lock()
		delete(h.w.pending, requestID)
		h.w.pendingMu.Unlock()
		return nil, rtstatus.New(rtstatus.Unavailable, "%s", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, rtstatus.New(rtstatus.Internal, "%s", resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		h.w.pendingMu.Lock()
		delete(h.w.pending, requestID)
		h.w.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// PublishMessage publishes an Event; delivery is best-effort and there
// is no response to wait for.
func (h *runtimeHandle) PublishMessage(ctx context.Context, payload []byte, topic addressing.TopicId) error {
	ev := &wire.Event{
		Id:      uuid.NewString(),
		Topic:   wire.TopicId{Type: topic.Type, Source: topic.Source},
		Source:  h.self.String(),
		Payload: payload,
	}
	if err := h.w.sendEnvelope(&wire.Envelope{Kind: wire.KindEvent, Event: ev}); err != nil {
		return rtstatus.New(rtstatus.Unavailable, "%s", err)
	}
	return nil
}

// SaveState reads the agent's current etag, then writes payload under
// it, so callers never need to track etags themselves.
func (h *runtimeHandle) SaveState(ctx context.Context, payload []byte) (string, error) {
	etag := ""
	if cur, err := h.w.client.GetState(ctx, &wire.GetStateRequest{AgentId: wire.AgentId{Type: h.self.Type, Key: h.self.Key}}); err == nil {
		etag = cur.Etag
	} else if rtErr := rtstatus.FromGRPCStatus(err); rtstatus.KindOf(rtErr) != rtstatus.NotFound {
		return "", rtErr
	}

	resp, err := h.w.client.SaveState(ctx, &wire.SaveStateRequest{
		State: wire.AgentState{AgentId: wire.AgentId{Type: h.self.Type, Key: h.self.Key}, Etag: etag, Payload: payload},
	})
	if err != nil {
		return "", rtstatus.FromGRPCStatus(err)
	}
	if !resp.Success {
		return "", rtstatus.New(rtstatus.Conflict, "%s", resp.Error)
	}
	return resp.NewEtag, nil
}

// LoadState returns the agent's persisted state, or a NotFound *Error
// if none has ever been saved.
func (h *runtimeHandle) LoadState(ctx context.Context) ([]byte, string, error) {
	state, err := h.w.client.GetState(ctx, &wire.GetStateRequest{AgentId: wire.AgentId{Type: h.self.Type, Key: h.self.Key}})
	if err != nil {
		return nil, "", rtstatus.FromGRPCStatus(err)
	}
	return state.Payload, state.Etag, nil
}

// GetAgentMetadata returns the AgentId this handle is bound to.
func (h *runtimeHandle) GetAgentMetadata() addressing.AgentId {
	return h.self
}

