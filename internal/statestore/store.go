package statestore

import (
	"context"

	"github.com/agentmesh/fabric/internal/addressing"
)

// Record is the persisted form of an agent's state: an opaque payload
// plus the etag it was last written with.
type Record struct {
	Payload []byte
	Etag    string
}

// Store is the AgentStateStore contract. Implementations must serialize
// concurrent writes to the same agent so the etag check in Write is
// race-free.
type Store interface {
	// Read returns the current record for id, or a rtstatus NotFound
	// error if no state has ever been saved for it.
	Read(ctx context.Context, id addressing.AgentId) (Record, error)

	// Write persists payload for id. expectedEtag must match the
	// currently stored etag (or be empty, meaning "must not exist yet");
	// on mismatch Write returns a rtstatus Conflict error and leaves the
	// stored record untouched. On success it returns the new etag.
	Write(ctx context.Context, id addressing.AgentId, expectedEtag string, payload []byte) (newEtag string, err error)

	// Close releases any resources held by the store (file handles,
	// background goroutines). Memory-backed stores may treat this as a
	// no-op.
	Close() error
}
