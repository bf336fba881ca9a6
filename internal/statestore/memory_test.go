package statestore

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

func TestMemoryReadMissingIsNotFound(t *testing.T) {
	store := NewMemory()
	_, err := store.Read(context.Background(), mustAgentID(t, "echo", "a1"))
	if rtstatus.KindOf(err) != rtstatus.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestMemoryWriteThenRead(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	id := mustAgentID(t, "echo", "a1")

	etag, err := store.Write(ctx, id, "", []byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if etag == "" {
		t.Fatal("expected non-empty etag")
	}

	rec, err := store.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(rec.Payload) != "hello" || rec.Etag != etag {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestMemoryWriteRejectsCreateWhenExists(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	id := mustAgentID(t, "echo", "a1")

	if _, err := store.Write(ctx, id, "", []byte("v1")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := store.Write(ctx, id, "", []byte("v2")); rtstatus.KindOf(err) != rtstatus.Conflict {
		t.Fatalf("want Conflict on create-over-existing, got %v", err)
	}
}

func TestMemoryWriteRejectsStaleEtag(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	id := mustAgentID(t, "echo", "a1")

	etag, err := store.Write(ctx, id, "", []byte("v1"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}

	if _, err := store.Write(ctx, id, "stale-etag", []byte("v2")); rtstatus.KindOf(err) != rtstatus.Conflict {
		t.Fatalf("want Conflict on stale etag, got %v", err)
	}

	newEtag, err := store.Write(ctx, id, etag, []byte("v2"))
	if err != nil {
		t.Fatalf("write with correct etag: %v", err)
	}
	if newEtag == etag {
		t.Fatal("expected etag to change on successful write")
	}
}
