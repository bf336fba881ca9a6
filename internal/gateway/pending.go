package gateway

import (
	"sync"
	"time"
)

// pendingEntry is one row of the gateway's PendingRequest table: a
// rewritten requestId waiting on a Response from workerConn, to be
// delivered back to callerConn under its originalID.
type pendingEntry struct {
	rewrittenID string
	originalID  string
	method      string
	callerConn  *WorkerConnection
	workerConn  *WorkerConnection
	timer       *time.Timer
	started     time.Time
}

type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) add(e *pendingEntry) {
	t.mu.Lock()
	t.entries[e.rewrittenID] = e
	t.mu.Unlock()
}

// pop removes and returns the entry for rewrittenID, if present.
func (t *pendingTable) pop(rewrittenID string) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[rewrittenID]
	if ok {
		delete(t.entries, rewrittenID)
	}
	return e, ok
}

// popAllForWorker removes and returns every entry owed by workerConn,
// used when that connection disconnects.
func (t *pendingTable) popAllForWorker(conn *WorkerConnection) []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*pendingEntry
	for id, e := range t.entries {
		if e.workerConn == conn {
			out = append(out, e)
			delete(t.entries, id)
		}
	}
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
