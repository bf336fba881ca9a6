package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func newTestRaftRegistry(t *testing.T) *Raft {
	t.Helper()
	dir := t.TempDir()

	reg, err := NewRaft(RaftConfig{
		NodeID:    "node-0",
		BindAddr:  "127.0.0.1:0",
		DataDir:   filepath.Join(dir, "raft"),
		Bootstrap: true,
	})
	if err != nil {
		t.Fatalf("NewRaft: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	waitForLeader(t, reg)
	return reg
}

func waitForLeader(t *testing.T, reg *Raft) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reg.raft.State() == raft.Leader {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("raft node never became leader")
}

func TestRaftRegisterAndPlace(t *testing.T) {
	reg := newTestRaftRegistry(t)
	ctx := context.Background()

	if err := reg.RegisterWorker(ctx, "w1", "localhost:9001"); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if err := reg.RegisterAgentType(ctx, "w1", "echo"); err != nil {
		t.Fatalf("RegisterAgentType: %v", err)
	}

	id := mustAgentID(t, "echo", "a1")
	first, isNew, err := reg.GetOrPlaceAgent(ctx, id)
	if err != nil {
		t.Fatalf("GetOrPlaceAgent: %v", err)
	}
	if first != "w1" {
		t.Fatalf("expected placement on w1, got %s", first)
	}
	if !isNew {
		t.Fatalf("expected first placement to be new")
	}

	again, isNew, err := reg.GetOrPlaceAgent(ctx, id)
	if err != nil {
		t.Fatalf("GetOrPlaceAgent repeat: %v", err)
	}
	if again != first {
		t.Fatalf("placement not stable across calls: %s != %s", again, first)
	}
	if isNew {
		t.Fatalf("expected repeat placement not to be new")
	}

	addr, err := reg.WorkerAddr(ctx, "w1")
	if err != nil {
		t.Fatalf("WorkerAddr: %v", err)
	}
	if addr != "localhost:9001" {
		t.Fatalf("unexpected worker addr %q", addr)
	}
}
