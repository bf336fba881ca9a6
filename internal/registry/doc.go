// Package registry implements the RegistryGrain: the cluster-global
// directory mapping an agent type to the set of workers that can host
// it, and the per-agent placement decision that turns "an agent of this
// type" into "this one worker owns this one instance" (at-most-one
// placement).
//
// GetOrPlaceAgent is idempotent: once an agent has been placed, every
// subsequent call returns the same worker until that worker is removed
// from the registry, at which point the agent is free to be re-placed.
// Placement among first-time candidates goes to the eligible worker that
// was least recently given a new placement, with a uniform random choice
// among workers tied on that — see memory.go for the selection algorithm.
//
// Two backends are provided: Memory (default, single gateway process)
// and Raft (hashicorp/raft-backed, for a gateway deployed as a
// replicated cluster so the placement table survives a leader failover).
package registry
