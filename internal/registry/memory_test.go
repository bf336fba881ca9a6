package registry

import (
	"context"
	"testing"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
)

func mustAgentID(t *testing.T, typ, key string) addressing.AgentId {
	t.Helper()
	id, err := addressing.NewAgentId(typ, key)
	if err != nil {
		t.Fatalf("NewAgentId: %v", err)
	}
	return id
}

func TestGetOrPlaceAgentNoCandidatesIsNotFound(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	_, _, err := reg.GetOrPlaceAgent(ctx, mustAgentID(t, "echo", "a1"))
	if rtstatus.KindOf(err) != rtstatus.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestGetOrPlaceAgentIsIdempotent(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	if err := reg.RegisterWorker(ctx, "w1", "localhost:1"); err != nil {
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
	if !isNew {
		t.Fatalf("expected first placement to be new")
	}
	for i := 0; i < 5; i++ {
		again, isNew, err := reg.GetOrPlaceAgent(ctx, id)
		if err != nil {
			t.Fatalf("GetOrPlaceAgent repeat: %v", err)
		}
		if again != first {
			t.Fatalf("placement changed across calls: %s != %s", again, first)
		}
		if isNew {
			t.Fatalf("expected repeat placement not to be new")
		}
	}
}

func TestGetOrPlaceAgentSpreadsAcrossWorkers(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	for _, w := range []string{"w1", "w2", "w3"} {
		if err := reg.RegisterWorker(ctx, w, "localhost:"+w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
		if err := reg.RegisterAgentType(ctx, w, "echo"); err != nil {
			t.Fatalf("RegisterAgentType: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		id := mustAgentID(t, "echo", "a"+string(rune('0'+i%10))+string(rune('a'+i/10)))
		workerID, _, err := reg.GetOrPlaceAgent(ctx, id)
		if err != nil {
			t.Fatalf("GetOrPlaceAgent: %v", err)
		}
		seen[workerID] = true
	}

	if len(seen) < 2 {
		t.Fatalf("expected placements to spread across multiple workers, got %v", seen)
	}
}

func TestRemoveWorkerFreesItsPlacements(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	if err := reg.RegisterWorker(ctx, "w1", "localhost:1"); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if err := reg.RegisterAgentType(ctx, "w1", "echo"); err != nil {
		t.Fatalf("RegisterAgentType: %v", err)
	}

	id := mustAgentID(t, "echo", "a1")
	if _, _, err := reg.GetOrPlaceAgent(ctx, id); err != nil {
		t.Fatalf("GetOrPlaceAgent: %v", err)
	}

	if err := reg.RemoveWorker(ctx, "w1"); err != nil {
		t.Fatalf("RemoveWorker: %v", err)
	}

	if _, _, err := reg.GetOrPlaceAgent(ctx, id); rtstatus.KindOf(err) != rtstatus.NotFound {
		t.Fatalf("want NotFound after removing only candidate, got %v", err)
	}
}

func TestRegisterAgentTypeUnknownWorker(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	err := reg.RegisterAgentType(ctx, "ghost", "echo")
	if rtstatus.KindOf(err) != rtstatus.NotFound {
		t.Fatalf("want NotFound for unregistered worker, got %v", err)
	}
}
