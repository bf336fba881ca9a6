package gateway

import (
	"log/slog"
	"sync"

	"github.com/agentmesh/fabric/internal/rtstatus"
	"github.com/agentmesh/fabric/internal/wire"
)

// sendQueueDepth bounds the per-connection outbound envelope queue.
const sendQueueDepth = 256

// WorkerConnection is one bidirectional OpenChannel stream to a worker,
// with its own send pump and lifecycle state.
type WorkerConnection struct {
	ID     string
	stream wire.Runtime_OpenChannelServer
	logger *slog.Logger

	send chan *wire.Envelope
	done chan struct{}

	mu         sync.Mutex
	state      ConnState
	agentTypes map[string]bool

	closeOnce sync.Once
}

func newWorkerConnection(id string, stream wire.Runtime_OpenChannelServer, logger *slog.Logger) *WorkerConnection {
	return &WorkerConnection{
		ID:         id,
		stream:     stream,
		logger:     logger,
		send:       make(chan *wire.Envelope, sendQueueDepth),
		done:       make(chan struct{}),
		state:      Connecting,
		agentTypes: make(map[string]bool),
	}
}

// State returns the connection's current lifecycle state.
func (c *WorkerConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WorkerConnection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// RegisterAgentType records that this connection's worker hosts
// agentType. Idempotent.
func (c *WorkerConnection) RegisterAgentType(agentType string) {
	c.mu.Lock()
	c.agentTypes[agentType] = true
	c.mu.Unlock()
}

// SupportsType reports whether this connection's worker has registered
// agentType.
func (c *WorkerConnection) SupportsType(agentType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentTypes[agentType]
}

// Send enqueues env for delivery on this connection's stream. It fails
// with Unavailable once the connection has left READY.
func (c *WorkerConnection) Send(env *wire.Envelope) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Draining || state == Closed {
		return rtstatus.New(rtstatus.Unavailable, "worker connection %s is %s", c.ID, state)
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return rtstatus.New(rtstatus.Unavailable, "worker connection %s is closed", c.ID)
	}
}

// runSendPump drains the send queue onto the stream until the
// connection closes or a write fails, at which point it transitions the
// connection through DRAINING to CLOSED.
func (c *WorkerConnection) runSendPump() {
	for {
		select {
		case env := <-c.send:
			if err := c.stream.Send(env); err != nil {
				c.logger.Warn("worker connection send failed, draining",
					"connection_id", c.ID, "error", err)
				c.setState(Draining)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close transitions the connection to CLOSED and unblocks any pending
// Send calls. Safe to call multiple times and concurrently.
func (c *WorkerConnection) Close() {
	c.closeOnce.Do(func() {
		c.setState(Closed)
		close(c.done)
	})
}
