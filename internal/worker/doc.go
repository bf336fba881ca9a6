// Package worker implements the worker-side dispatcher: one
// bidirectional channel to the gateway, a map of locally-hosted agent
// instances keyed by (type,key), a type->factory registry, a local
// subscription mirror, and the per-agent task dispatch that keeps a
// slow handler from blocking the rest of the worker.
//
// Activation is lazy: the first Request or Event addressed to a
// (type,key) this worker has not yet seen instantiates the agent from
// its registered factory and, if the agent implements agent.StateLoader,
// restores its persisted state from the gateway before the first
// message is dispatched.
package worker
