package addressing

import "testing"

func TestSubscriptionMatchesExact(t *testing.T) {
	sub := Subscription{Kind: TypeSubscription, Topic: "news", AgentType: "listener"}

	if !sub.Matches("news") {
		t.Fatal("expected exact match on news")
	}
	if sub.Matches("news.extra") {
		t.Fatal("exact subscription must not match a different topic type")
	}
}

func TestSubscriptionMatchesPrefix(t *testing.T) {
	sub := Subscription{Kind: TypePrefixSubscription, Prefix: "alerts.", AgentType: "siren"}

	if !sub.Matches("alerts.fire") {
		t.Fatal("expected prefix match on alerts.fire")
	}
	if sub.Matches("weather") {
		t.Fatal("prefix subscription must not match unrelated topic")
	}
	if sub.Matches("alerts") {
		t.Fatal("prefix subscription must not match the bare prefix without the separator content")
	}
}

func TestSubscriptionKeyIdempotency(t *testing.T) {
	a := Subscription{Kind: TypeSubscription, Topic: "news", AgentType: "listener"}
	b := Subscription{ID: "different-id", Kind: TypeSubscription, Topic: "news", AgentType: "listener"}

	if a.Key() != b.Key() {
		t.Fatalf("subscriptions with same selector/agentType should have equal keys: %q vs %q", a.Key(), b.Key())
	}
}
