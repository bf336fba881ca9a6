package subscription

import (
	"testing"

	"github.com/agentmesh/fabric/internal/addressing"
)

func TestIndexExactMatch(t *testing.T) {
	idx := NewIndex()
	idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})

	got := idx.Match("news")
	if len(got) != 1 || got[0] != "listener" {
		t.Fatalf("expected [listener], got %v", got)
	}

	if got := idx.Match("weather"); len(got) != 0 {
		t.Fatalf("expected no match for weather, got %v", got)
	}
}

func TestIndexPrefixMatch(t *testing.T) {
	idx := NewIndex()
	idx.Add(addressing.Subscription{Kind: addressing.TypePrefixSubscription, Prefix: "alerts.", AgentType: "siren"})

	if got := idx.Match("alerts.fire"); len(got) != 1 || got[0] != "siren" {
		t.Fatalf("expected [siren], got %v", got)
	}
	if got := idx.Match("weather"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}
}

func TestIndexDeduplicatesAgentType(t *testing.T) {
	idx := NewIndex()
	idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})
	idx.Add(addressing.Subscription{Kind: addressing.TypePrefixSubscription, Prefix: "ne", AgentType: "listener"})

	got := idx.Match("news")
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery per agent type, got %v", got)
	}
}

func TestIndexAddIsIdempotent(t *testing.T) {
	idx := NewIndex()
	first := idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})
	second := idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})

	if first.ID != second.ID {
		t.Fatalf("expected idempotent add to return the same subscription ID, got %s vs %s", first.ID, second.ID)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewIndex()
	sub := idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})

	idx.Remove(sub.ID)

	if got := idx.Match("news"); len(got) != 0 {
		t.Fatalf("expected no subscribers after remove, got %v", got)
	}

	// Removing again is a no-op.
	idx.Remove(sub.ID)
	idx.Remove("unknown-id")
}

func TestIndexByAgentType(t *testing.T) {
	idx := NewIndex()
	idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "news", AgentType: "listener"})
	idx.Add(addressing.Subscription{Kind: addressing.TypePrefixSubscription, Prefix: "alerts.", AgentType: "listener"})
	idx.Add(addressing.Subscription{Kind: addressing.TypeSubscription, Topic: "weather", AgentType: "other"})

	got := idx.ByAgentType("listener")
	if len(got) != 2 {
		t.Fatalf("expected 2 subscriptions for listener, got %d", len(got))
	}
}
