package agent

import (
	"context"

	"github.com/agentmesh/fabric/internal/addressing"
)

// Context is passed to Handle for every inbound message, carrying the
// identifying details the handler needs without exposing any wire or
// worker-internal types.
type Context struct {
	// MessageID is the Request's requestId, or the Event's id.
	MessageID string

	// Cancellation is cancelled if the underlying RPC is cancelled or
	// the worker is shutting down.
	Cancellation context.Context

	// Sender is the originating AgentId, when known (Requests always
	// carry one; Events carry one when Source parses as a canonical
	// AgentId).
	Sender *addressing.AgentId

	// Topic is set for Event deliveries, nil for Requests.
	Topic *addressing.TopicId

	// IsRPC is true for a Request (a response is expected) and false
	// for an Event (the return value, if any, is discarded).
	IsRPC bool
}

// Agent is the handler contract every worker-hosted agent implements.
// Handle is called for every Request or Event routed to this agent's
// (type, key). Close is called by Worker.Shutdown, and on an instance
// that lost a concurrent activation race; it is not called when the
// channel breaks without a Shutdown.
type Agent interface {
	Handle(ctx *Context, payload []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// StateSaver is an optional Agent extension: an agent that wants its
// state persisted implements SaveState, called by the worker after
// every message the agent handles. It is not called before Close.
type StateSaver interface {
	SaveState() ([]byte, error)
}

// StateLoader is an optional Agent extension: implemented by an agent
// that wants its persisted state restored at activation, before the
// first message is dispatched to it.
type StateLoader interface {
	LoadState([]byte) error
}

// Factory constructs a new Agent instance for id, wired to rt for
// runtime callbacks. Registered per agent type; invoked once per
// (type,key) activation.
type Factory func(id addressing.AgentId, rt RuntimeHandle) (Agent, error)
