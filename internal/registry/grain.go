package registry

import (
	"context"

	"github.com/agentmesh/fabric/internal/addressing"
)

// Grain is the RegistryGrain contract: cluster-global agent-type →
// worker membership, and per-agent placement with an at-most-one
// invariant.
type Grain interface {
	// RegisterWorker makes workerID eligible to host agents, reachable
	// at addr. Re-registering an already-known workerID updates addr.
	RegisterWorker(ctx context.Context, workerID, addr string) error

	// RemoveWorker drops workerID from the registry. Every agent
	// previously placed on it becomes unplaced and eligible for
	// re-placement on its next GetOrPlaceAgent call.
	RemoveWorker(ctx context.Context, workerID string) error

	// RegisterAgentType declares that workerID can host agents of
	// agentType. A worker may be registered for any number of types.
	RegisterAgentType(ctx context.Context, workerID, agentType string) error

	// GetOrPlaceAgent returns the worker hosting id, placing it on a
	// fresh candidate if it has never been placed (or was unplaced by a
	// RemoveWorker). isNew reports whether this call made the placement
	// (as opposed to returning an existing one), which the gateway uses
	// to decide whether to restore persisted state before delivering the
	// first request. Returns a NotFound rtstatus error if agentType has
	// no registered workers.
	GetOrPlaceAgent(ctx context.Context, id addressing.AgentId) (workerID string, isNew bool, err error)

	// WorkerAddr returns the dial address for a registered worker.
	WorkerAddr(ctx context.Context, workerID string) (addr string, err error)

	// Close releases any resources held by the registry.
	Close() error
}
