package statestore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
)

// Memory is the default process-local AgentStateStore. It is the right
// choice for a single-gateway deployment or for tests; state does not
// survive a restart.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Read(_ context.Context, id addressing.AgentId) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id.String()]
	if !ok {
		return Record{}, rtstatus.New(rtstatus.NotFound, "no state for agent %s", id)
	}
	return rec, nil
}

func (m *Memory) Write(_ context.Context, id addressing.AgentId, expectedEtag string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := id.String()
	current, exists := m.records[key]

	if expectedEtag == "" {
		if exists {
			return "", rtstatus.New(rtstatus.Conflict, "agent %s already has state", id)
		}
	} else if !exists || current.Etag != expectedEtag {
		return "", rtstatus.New(rtstatus.Conflict, "etag mismatch for agent %s", id)
	}

	newEtag := uuid.NewString()
	m.records[key] = Record{Payload: payload, Etag: newEtag}
	return newEtag, nil
}

func (m *Memory) Close() error { return nil }
