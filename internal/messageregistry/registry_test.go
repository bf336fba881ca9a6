package messageregistry

import (
	"testing"
	"time"

	"github.com/agentmesh/fabric/internal/wire"
)

func mkEvent(id string, payload []byte) wire.Event {
	return wire.Event{
		Id:      id,
		Topic:   wire.TopicId{Type: "alerts", Source: "default"},
		Source:  "monitor/m1",
		Payload: payload,
	}
}

func TestBufferUndeliveredThenDrainMatching(t *testing.T) {
	reg := New(5*time.Second, 0, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("a")), now)
	reg.BufferUndelivered("alerts/default", mkEvent("e2", []byte("b")), now)

	out := reg.DrainMatching("alerts/default", now.Add(1*time.Second))
	if len(out) != 2 {
		t.Fatalf("expected 2 drained events, got %d", len(out))
	}

	// A second drain finds nothing: DrainMatching consumes the buffer.
	out2 := reg.DrainMatching("alerts/default", now.Add(2*time.Second))
	if len(out2) != 0 {
		t.Fatalf("expected empty second drain, got %d", len(out2))
	}
}

func TestDrainMatchingExcludesExpiredEntries(t *testing.T) {
	reg := New(1*time.Second, 0, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("a")), now)

	out := reg.DrainMatching("alerts/default", now.Add(2*time.Second))
	if len(out) != 0 {
		t.Fatalf("expected expired entry to be excluded, got %d", len(out))
	}
}

func TestReapMovesExpiredEntriesToDeadLetterQueue(t *testing.T) {
	reg := New(1*time.Second, 0, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("a")), now)
	reg.Reap(now.Add(2 * time.Second))

	dlq := reg.Peek("alerts/default")
	if len(dlq) != 1 || dlq[0].Id != "e1" {
		t.Fatalf("expected reaped entry in dead letter queue, got %v", dlq)
	}

	// A fresh DrainMatching after Reap should find nothing left in buffer.
	out := reg.DrainMatching("alerts/default", now.Add(3*time.Second))
	if len(out) != 0 {
		t.Fatalf("expected buffer empty after reap, got %d", len(out))
	}
}

func TestPeekDoesNotClearDeadLetterQueue(t *testing.T) {
	reg := New(1*time.Second, 0, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("a")), now)
	reg.Reap(now.Add(2 * time.Second))

	first := reg.Peek("alerts/default")
	second := reg.Peek("alerts/default")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected Peek to be idempotent, got %v then %v", first, second)
	}
}

func TestDrainClearsDeadLetterQueue(t *testing.T) {
	reg := New(1*time.Second, 0, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("a")), now)
	reg.Reap(now.Add(2 * time.Second))

	drained := reg.Drain("alerts/default")
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained dead letter, got %d", len(drained))
	}

	again := reg.Peek("alerts/default")
	if len(again) != 0 {
		t.Fatalf("expected dead letter queue empty after Drain, got %d", len(again))
	}
}

func TestOversizedEventGoesStraightToDeadLetterQueue(t *testing.T) {
	reg := New(5*time.Second, 4, 0)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("big", []byte("too-large")), now)

	if out := reg.DrainMatching("alerts/default", now); len(out) != 0 {
		t.Fatalf("expected oversized event not to sit in the buffer, got %d", len(out))
	}
	if dlq := reg.Peek("alerts/default"); len(dlq) != 1 || dlq[0].Id != "big" {
		t.Fatalf("expected oversized event dead-lettered immediately, got %v", dlq)
	}
}

func TestQueueOverflowEvictsOldestEntryFirst(t *testing.T) {
	reg := New(5*time.Second, 100, 10)
	now := time.Now()

	reg.BufferUndelivered("alerts/default", mkEvent("e1", []byte("1234567")), now)
	reg.BufferUndelivered("alerts/default", mkEvent("e2", []byte("1234567")), now)

	out := reg.DrainMatching("alerts/default", now)
	if len(out) != 1 || out[0].Id != "e2" {
		t.Fatalf("expected only newest entry to survive overflow eviction, got %v", out)
	}
}
