package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
)

// command is one entry in the Raft log: an operation name plus its
// JSON-encoded arguments, applied to the in-memory fsmState by fsm.Apply.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opRegisterWorker    = "register_worker"
	opRemoveWorker      = "remove_worker"
	opRegisterAgentType = "register_agent_type"
	opPlaceAgent        = "place_agent"
)

// Raft is a RegistryGrain backed by a single-node (by default) Raft
// group, so placement decisions are durable across a gateway restart
// and, with AddVoter, consistent across a replicated gateway cluster.
type Raft struct {
	raft *raft.Raft
	fsm  *fsm
}

// RaftConfig configures a new Raft-backed registry.
type RaftConfig struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
}

// NewRaft opens (or creates) the on-disk Raft log/stable/snapshot stores
// under cfg.DataDir and, if cfg.Bootstrap is set, bootstraps a
// single-node cluster with this node as its only member.
func NewRaft(cfg RaftConfig) (*Raft, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create data dir: %w", err)
	}

	f := newFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("registry: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("registry: create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("registry: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("registry: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("registry: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, f, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("registry: create raft: %w", err)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{
				{ID: raftConfig.LocalID, Address: transport.LocalAddr()},
			},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("registry: bootstrap cluster: %w", err)
		}
	}

	return &Raft{raft: r, fsm: f}, nil
}

// AddVoter grows the Raft cluster by one member. Must be called against
// the current leader.
func (r *Raft) AddVoter(nodeID, addr string) error {
	future := r.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

func (r *Raft) apply(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("registry: marshal %s command: %w", op, err)
	}
	cmdBytes, err := json.Marshal(command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("registry: marshal command envelope: %w", err)
	}

	future := r.raft.Apply(cmdBytes, 5*time.Second)
	if err := future.Error(); err != nil {
		return rtstatus.New(rtstatus.Unavailable, "registry: raft apply %s: %v", op, err)
	}
	if resp := future.Response(); resp != nil {
		if respErr, ok := resp.(error); ok && respErr != nil {
			return respErr
		}
	}
	return nil
}

func (r *Raft) RegisterWorker(_ context.Context, workerID, addr string) error {
	return r.apply(opRegisterWorker, registerWorkerCmd{WorkerID: workerID, Addr: addr})
}

func (r *Raft) RemoveWorker(_ context.Context, workerID string) error {
	return r.apply(opRemoveWorker, removeWorkerCmd{WorkerID: workerID})
}

func (r *Raft) RegisterAgentType(_ context.Context, workerID, agentType string) error {
	return r.apply(opRegisterAgentType, registerAgentTypeCmd{WorkerID: workerID, AgentType: agentType})
}

func (r *Raft) GetOrPlaceAgent(_ context.Context, id addressing.AgentId) (string, bool, error) {
	if workerID, ok := r.fsm.lookupPlacement(id.String()); ok {
		return workerID, false, nil
	}

	workerID, err := r.fsm.choosePlacement(id.Type)
	if err != nil {
		return "", false, err
	}

	if err := r.apply(opPlaceAgent, placeAgentCmd{AgentKey: id.String(), WorkerID: workerID}); err != nil {
		return "", false, err
	}

	// The FSM may have placed the agent on a different candidate than
	// the one we chose, if a concurrent Apply raced ahead of us; trust
	// the committed outcome. isNew is reported true in both cases, so
	// two racing callers can both see isNew for the same placement.
	if committed, ok := r.fsm.lookupPlacement(id.String()); ok {
		return committed, true, nil
	}
	return workerID, true, nil
}

func (r *Raft) WorkerAddr(_ context.Context, workerID string) (string, error) {
	return r.fsm.lookupWorkerAddr(workerID)
}

func (r *Raft) Close() error {
	return r.raft.Shutdown().Error()
}

type registerWorkerCmd struct {
	WorkerID string `json:"worker_id"`
	Addr     string `json:"addr"`
}

type removeWorkerCmd struct {
	WorkerID string `json:"worker_id"`
}

type registerAgentTypeCmd struct {
	WorkerID  string `json:"worker_id"`
	AgentType string `json:"agent_type"`
}

type placeAgentCmd struct {
	AgentKey string `json:"agent_key"`
	WorkerID string `json:"worker_id"`
}

// fsm applies committed registry commands to an in-memory Memory
// registry, which also answers the read-only lookups used between
// Apply calls.
type fsm struct {
	mem *Memory
}

func newFSM() *fsm {
	return &fsm{mem: NewMemory()}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("registry: unmarshal command: %w", err)
	}

	ctx := context.Background()
	switch cmd.Op {
	case opRegisterWorker:
		var c registerWorkerCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.mem.RegisterWorker(ctx, c.WorkerID, c.Addr)

	case opRemoveWorker:
		var c removeWorkerCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.mem.RemoveWorker(ctx, c.WorkerID)

	case opRegisterAgentType:
		var c registerAgentTypeCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.mem.RegisterAgentType(ctx, c.WorkerID, c.AgentType)

	case opPlaceAgent:
		var c placeAgentCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		f.mem.mu.Lock()
		defer f.mem.mu.Unlock()
		if _, exists := f.mem.placements[c.AgentKey]; !exists {
			f.mem.clock++
			f.mem.lastPlaced[c.WorkerID] = f.mem.clock
			f.mem.placements[c.AgentKey] = c.WorkerID
		}
		return nil

	default:
		return fmt.Errorf("registry: unknown command %q", cmd.Op)
	}
}

func (f *fsm) lookupPlacement(agentKey string) (string, bool) {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	workerID, ok := f.mem.placements[agentKey]
	return workerID, ok
}

func (f *fsm) choosePlacement(agentType string) (string, error) {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()

	candidates := f.mem.candidates[agentType]
	if len(candidates) == 0 {
		return "", rtstatus.New(rtstatus.NotFound, "no worker registered for agent type %s", agentType)
	}
	return pickLeastRecentlyPlaced(candidates, f.mem.lastPlaced), nil
}

func (f *fsm) lookupWorkerAddr(workerID string) (string, error) {
	return f.mem.WorkerAddr(context.Background(), workerID)
}

type fsmSnapshot struct {
	Workers    map[string]string   `json:"workers"`
	Candidates map[string][]string `json:"candidates"`
	Placements map[string]string   `json:"placements"`
	LastPlaced map[string]uint64   `json:"last_placed"`
	Clock      uint64              `json:"clock"`
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()

	snap := &fsmSnapshot{
		Workers:    copyStringMap(f.mem.workerAddrs),
		Candidates: copyStringSliceMap(f.mem.candidates),
		Placements: copyStringMap(f.mem.placements),
		LastPlaced: copyUint64Map(f.mem.lastPlaced),
		Clock:      f.mem.clock,
	}
	return snap, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("registry: decode snapshot: %w", err)
	}

	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	f.mem.workerAddrs = snap.Workers
	f.mem.candidates = snap.Candidates
	f.mem.placements = snap.Placements
	f.mem.lastPlaced = snap.LastPlaced
	f.mem.clock = snap.Clock
	return nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringSliceMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func copyUint64Map(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
