// Package gateway implements the cluster-global runtime gateway.
// It accepts worker connections, relays agent-type and
// subscription registration, routes Requests via the RegistryGrain and
// its local connection directory, fans Events out via the
// SubscriptionIndex, and correlates Responses through a pending-request
// table. It is the only component that rewrites a RequestId, and the
// only component that persists AgentState (through a pluggable
// statestore.Store).
package gateway
