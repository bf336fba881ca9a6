// Package agent defines the contract a worker-hosted agent implements:
// the Agent interface itself, the per-message Context the dispatcher
// hands a handler, and the RuntimeHandle an agent uses to call back
// into the runtime (send, publish, load/save state, inspect metadata).
package agent
