package addressing

import "fmt"

// SubscriptionKind distinguishes an exact topic-type match from a
// prefix match.
type SubscriptionKind int

const (
	// TypeSubscription matches a TopicId whose Type equals Topic exactly.
	TypeSubscription SubscriptionKind = iota
	// TypePrefixSubscription matches a TopicId whose Type begins with
	// TopicPrefix.
	TypePrefixSubscription
)

func (k SubscriptionKind) String() string {
	switch k {
	case TypeSubscription:
		return "exact"
	case TypePrefixSubscription:
		return "prefix"
	default:
		return "unknown"
	}
}

// Subscription binds a topic (exact or prefix) to an agent type. ID is
// assigned by whoever registers the subscription (the gateway) and is
// unique within the registry's lifetime.
type Subscription struct {
	ID        string
	Kind      SubscriptionKind
	Topic     string // exact topic type, when Kind == TypeSubscription
	Prefix    string // topic type prefix, when Kind == TypePrefixSubscription
	AgentType string
}

// Key identifies a subscription's (topic-selector, agentType) pair for
// idempotency checks, independent of its assigned ID.
func (s Subscription) Key() string {
	switch s.Kind {
	case TypePrefixSubscription:
		return fmt.Sprintf("prefix:%s:%s", s.Prefix, s.AgentType)
	default:
		return fmt.Sprintf("exact:%s:%s", s.Topic, s.AgentType)
	}
}

// Matches reports whether the subscription's topic selector matches the
// given topic type.
func (s Subscription) Matches(topicType string) bool {
	switch s.Kind {
	case TypePrefixSubscription:
		return len(topicType) >= len(s.Prefix) && topicType[:len(s.Prefix)] == s.Prefix
	default:
		return s.Topic == topicType
	}
}
