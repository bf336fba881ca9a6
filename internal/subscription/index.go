package subscription

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentmesh/fabric/internal/addressing"
)

// Index maintains the topic-type → agent-type mapping used to resolve
// event fan-out. It is safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	exact map[string]map[string]addressing.Subscription // topic type -> agent type -> subscription
	// prefix is ordered by insertion; order does not affect correctness
	// (match results are deduplicated per agent type) but keeps Add
	// cheap and the prefix part of Match's result in insertion order.
	prefix []addressing.Subscription

	byID  map[string]addressing.Subscription
	byKey map[string]string // Subscription.Key() -> ID, for idempotency
}

// NewIndex creates an empty subscription index.
func NewIndex() *Index {
	return &Index{
		exact: make(map[string]map[string]addressing.Subscription),
		byID:  make(map[string]addressing.Subscription),
		byKey: make(map[string]string),
	}
}

// Add registers a subscription and returns it with a runtime-unique ID
// assigned. Re-adding an equivalent (topic selector, agentType) pair is
// idempotent: it returns the existing subscription unchanged.
func (idx *Index) Add(sub addressing.Subscription) addressing.Subscription {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := sub.Key()
	if existingID, ok := idx.byKey[key]; ok {
		return idx.byID[existingID]
	}

	sub.ID = uuid.NewString()
	idx.byKey[key] = sub.ID
	idx.byID[sub.ID] = sub

	switch sub.Kind {
	case addressing.TypePrefixSubscription:
		idx.prefix = append(idx.prefix, sub)
	default:
		byAgent, ok := idx.exact[sub.Topic]
		if !ok {
			byAgent = make(map[string]addressing.Subscription)
			idx.exact[sub.Topic] = byAgent
		}
		byAgent[sub.AgentType] = sub
	}

	return sub
}

// Remove deletes a subscription by ID. It is idempotent: removing an
// unknown ID is a no-op.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sub, ok := idx.byID[id]
	if !ok {
		return
	}
	delete(idx.byID, id)
	delete(idx.byKey, sub.Key())

	switch sub.Kind {
	case addressing.TypePrefixSubscription:
		for i, p := range idx.prefix {
			if p.ID == id {
				idx.prefix = append(idx.prefix[:i], idx.prefix[i+1:]...)
				break
			}
		}
	default:
		if byAgent, ok := idx.exact[sub.Topic]; ok {
			delete(byAgent, sub.AgentType)
			if len(byAgent) == 0 {
				delete(idx.exact, sub.Topic)
			}
		}
	}
}

// Match returns the set of distinct agent types subscribed to the given
// topic type, via exact match union prefix match, deduplicated.
func (idx *Index) Match(topicType string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string

	for agentType := range idx.exact[topicType] {
		if _, ok := seen[agentType]; !ok {
			seen[agentType] = struct{}{}
			out = append(out, agentType)
		}
	}

	for _, p := range idx.prefix {
		if !p.Matches(topicType) {
			continue
		}
		if _, ok := seen[p.AgentType]; ok {
			continue
		}
		seen[p.AgentType] = struct{}{}
		out = append(out, p.AgentType)
	}

	return out
}

// ByAgentType returns every subscription currently registered for a given
// agent type. Nothing in the gateway or worker calls it.
func (idx *Index) ByAgentType(agentType string) []addressing.Subscription {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []addressing.Subscription
	for _, sub := range idx.byID {
		if sub.AgentType == agentType {
			out = append(out, sub)
		}
	}
	return out
}
