package statestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentmesh/fabric/internal/rtstatus"
)

func TestBoltWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBolt(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := mustAgentID(t, "echo", "a1")

	etag, err := store.Write(ctx, id, "", []byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec, err := store.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(rec.Payload) != "hello" || rec.Etag != etag {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	id := mustAgentID(t, "echo", "a1")
	ctx := context.Background()

	store, err := NewBolt(path)
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	etag, err := store.Write(ctx, id, "", []byte("v1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBolt(path)
	if err != nil {
		t.Fatalf("NewBolt (reopen): %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if rec.Etag != etag || string(rec.Payload) != "v1" {
		t.Fatalf("state did not survive reopen: %+v", rec)
	}
}

func TestBoltWriteRejectsStaleEtag(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBolt(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := mustAgentID(t, "echo", "a1")

	if _, err := store.Write(ctx, id, "", []byte("v1")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := store.Write(ctx, id, "bogus", []byte("v2")); rtstatus.KindOf(err) != rtstatus.Conflict {
		t.Fatalf("want Conflict, got %v", err)
	}
}

func TestBoltReadMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBolt(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	defer store.Close()

	_, err = store.Read(context.Background(), mustAgentID(t, "echo", "missing"))
	if rtstatus.KindOf(err) != rtstatus.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}
