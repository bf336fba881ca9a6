// Package statestore implements the AgentStateStore: per-agent opaque
// payload persistence with optimistic concurrency via an etag.
//
// Read returns the current payload and etag for an agent, or a NotFound
// error if the agent has never been saved. Write accepts the caller's
// last-observed etag; if it no longer matches the stored value the write
// is rejected with a Conflict error and the caller must re-read before
// retrying. A zero-value etag on Write means "create only": the write
// fails with Conflict if a record already exists.
//
// Two backends are provided: Memory (default, process-local) and Bolt
// (durable, go.etcd.io/bbolt-backed, one bucket per agent type).
package statestore
