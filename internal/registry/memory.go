package registry

import (
	"context"
	"math/rand"
	"sync"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
)

// Memory is the default process-local RegistryGrain. It is correct for
// a single gateway process; a multi-gateway deployment needs Raft so
// every gateway observes the same placement decisions.
type Memory struct {
	mu sync.Mutex

	workerAddrs map[string]string   // workerID -> dial address
	candidates  map[string][]string // agentType -> []workerID
	placements  map[string]string   // agent canonical string -> workerID
	lastPlaced  map[string]uint64   // workerID -> logical clock of its last placement
	clock       uint64
}

// NewMemory constructs an empty Memory registry.
func NewMemory() *Memory {
	return &Memory{
		workerAddrs: make(map[string]string),
		candidates:  make(map[string][]string),
		placements:  make(map[string]string),
		lastPlaced:  make(map[string]uint64),
	}
}

func (m *Memory) RegisterWorker(_ context.Context, workerID, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workerAddrs[workerID] = addr
	return nil
}

func (m *Memory) RemoveWorker(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workerAddrs, workerID)
	delete(m.lastPlaced, workerID)

	for agentType, workers := range m.candidates {
		m.candidates[agentType] = removeString(workers, workerID)
	}
	for agent, worker := range m.placements {
		if worker == workerID {
			delete(m.placements, agent)
		}
	}
	return nil
}

func (m *Memory) RegisterAgentType(_ context.Context, workerID, agentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workerAddrs[workerID]; !ok {
		return rtstatus.New(rtstatus.NotFound, "unknown worker %s", workerID)
	}
	for _, existing := range m.candidates[agentType] {
		if existing == workerID {
			return nil
		}
	}
	m.candidates[agentType] = append(m.candidates[agentType], workerID)
	return nil
}

func (m *Memory) GetOrPlaceAgent(_ context.Context, id addressing.AgentId) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := id.String()
	if workerID, ok := m.placements[key]; ok {
		return workerID, false, nil
	}

	candidates := m.candidates[id.Type]
	if len(candidates) == 0 {
		return "", false, rtstatus.New(rtstatus.NotFound, "no worker registered for agent type %s", id.Type)
	}

	workerID := pickLeastRecentlyPlaced(candidates, m.lastPlaced)

	m.clock++
	m.lastPlaced[workerID] = m.clock
	m.placements[key] = workerID
	return workerID, true, nil
}

func (m *Memory) WorkerAddr(_ context.Context, workerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.workerAddrs[workerID]
	if !ok {
		return "", rtstatus.New(rtstatus.NotFound, "unknown worker %s", workerID)
	}
	return addr, nil
}

func (m *Memory) Close() error { return nil }

// pickLeastRecentlyPlaced selects the candidate with the smallest
// lastPlaced clock value, breaking ties (including the all-zero case of
// workers that have never hosted anything) with a uniform random choice
// among the tied set.
func pickLeastRecentlyPlaced(candidates []string, lastPlaced map[string]uint64) string {
	var min uint64 = ^uint64(0)
	for _, c := range candidates {
		if v := lastPlaced[c]; v < min {
			min = v
		}
	}

	var tied []string
	for _, c := range candidates {
		if lastPlaced[c] == min {
			tied = append(tied, c)
		}
	}

	return tied[rand.Intn(len(tied))]
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
