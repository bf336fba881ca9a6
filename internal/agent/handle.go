package agent

import (
	"context"

	"github.com/agentmesh/fabric/internal/addressing"
)

// RuntimeHandle is the agent-to-runtime side of the contract: the operations an
// Agent implementation may call back into the worker with. The concrete
// implementation lives in internal/worker, which is the only package
// that can see the gateway connection and mailbox this handle is bound
// to; Agent implementations only ever see this interface.
type RuntimeHandle interface {
	// SendMessage issues a point-to-point Request to recipient and
	// blocks until the correlated Response arrives or ctx is done.
	SendMessage(ctx context.Context, payload []byte, recipient addressing.AgentId) ([]byte, error)

	// PublishMessage publishes payload to topic. There is no response;
	// delivery is best-effort.
	PublishMessage(ctx context.Context, payload []byte, topic addressing.TopicId) error

	// SaveState persists payload for the calling agent's own AgentId
	// under optimistic concurrency, returning the new etag.
	SaveState(ctx context.Context, payload []byte) (etag string, err error)

	// LoadState returns the calling agent's own persisted state, or a
	// rtstatus NotFound error if none exists yet.
	LoadState(ctx context.Context) (payload []byte, etag string, err error)

	// GetAgentMetadata returns the AgentId this handle is bound to.
	GetAgentMetadata() addressing.AgentId
}
