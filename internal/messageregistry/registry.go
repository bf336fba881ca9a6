package messageregistry

import (
	"sync"
	"time"

	"github.com/agentmesh/fabric/internal/wire"
)

// DefaultHoldTime is the default EventBuffer retention window.
const DefaultHoldTime = 5 * time.Second

// DefaultMaxEventBytes is the default per-entry size cap.
const DefaultMaxEventBytes = 10 * 1024 * 1024

// DefaultMaxQueueBytes is the default per-topic, per-queue size cap.
const DefaultMaxQueueBytes = 10 * 1024 * 1024

type entry struct {
	event    wire.Event
	size     int
	enqueued time.Time
}

type topicQueues struct {
	buffer []entry
	dlq    []entry
}

// Registry holds the per-topic EventBuffer and DeadLetterQueue.
type Registry struct {
	mu sync.Mutex

	holdTime      time.Duration
	maxEventBytes int
	maxQueueBytes int

	topics map[string]*topicQueues
}

// New constructs a Registry. A zero value for any limit falls back to
// its Default.
func New(holdTime time.Duration, maxEventBytes, maxQueueBytes int) *Registry {
	if holdTime <= 0 {
		holdTime = DefaultHoldTime
	}
	if maxEventBytes <= 0 {
		maxEventBytes = DefaultMaxEventBytes
	}
	if maxQueueBytes <= 0 {
		maxQueueBytes = DefaultMaxQueueBytes
	}
	return &Registry{
		holdTime:      holdTime,
		maxEventBytes: maxEventBytes,
		maxQueueBytes: maxQueueBytes,
		topics:        make(map[string]*topicQueues),
	}
}

func eventSize(ev wire.Event) int {
	return len(ev.Payload)
}

func (r *Registry) topic(key string) *topicQueues {
	tq, ok := r.topics[key]
	if !ok {
		tq = &topicQueues{}
		r.topics[key] = tq
	}
	return tq
}

// BufferUndelivered holds ev for topic until a matching subscription
// drains it or holdTime elapses. Events larger than maxEventBytes are
// dead-lettered immediately with no buffering wait, since they could
// never have been delivered whole.
func (r *Registry) BufferUndelivered(topicKey string, ev wire.Event, now time.Time) {
	size := eventSize(ev)
	r.mu.Lock()
	defer r.mu.Unlock()

	tq := r.topic(topicKey)
	e := entry{event: ev, size: size, enqueued: now}

	if size > r.maxEventBytes {
		appendBounded(&tq.dlq, e, r.maxQueueBytes)
		return
	}
	appendBounded(&tq.buffer, e, r.maxQueueBytes)
}

// appendBounded appends e to *queue, evicting from the front until the
// queue's total size is within maxBytes. The newest entry is always
// kept, even when it alone exceeds maxBytes.
func appendBounded(queue *[]entry, e entry, maxBytes int) {
	*queue = append(*queue, e)
	total := 0
	for _, x := range *queue {
		total += x.size
	}
	for total > maxBytes && len(*queue) > 1 {
		total -= (*queue)[0].size
		*queue = (*queue)[1:]
	}
}

// DrainMatching empties topicKey's buffer and returns its non-expired
// events, for delivery to a subscription that was just added. Expired
// entries are discarded, not moved to the dead letter queue.
func (r *Registry) DrainMatching(topicKey string, now time.Time) []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	tq, ok := r.topics[topicKey]
	if !ok {
		return nil
	}

	out := make([]wire.Event, 0, len(tq.buffer))
	for _, e := range tq.buffer {
		if now.Sub(e.enqueued) <= r.holdTime {
			out = append(out, e.event)
		}
	}
	tq.buffer = nil
	return out
}

// Reap moves every buffered entry older than holdTime into its topic's
// dead letter queue. Call periodically (the gateway runs this off a
// ticker); it is also safe to call opportunistically before a Peek/Drain.
func (r *Registry) Reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tq := range r.topics {
		var stillFresh []entry
		for _, e := range tq.buffer {
			if now.Sub(e.enqueued) > r.holdTime {
				appendBounded(&tq.dlq, e, r.maxQueueBytes)
			} else {
				stillFresh = append(stillFresh, e)
			}
		}
		tq.buffer = stillFresh
	}
}

// Peek returns a copy of topicKey's dead letter queue without clearing it.
func (r *Registry) Peek(topicKey string) []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	tq, ok := r.topics[topicKey]
	if !ok {
		return nil
	}
	out := make([]wire.Event, len(tq.dlq))
	for i, e := range tq.dlq {
		out[i] = e.event
	}
	return out
}

// TopicsWithBufferedEvents returns every topic key currently holding at
// least one buffered (not yet expired or delivered) event. A newly added
// subscription is checked against this list so it can pick up events
// that arrived before it existed.
func (r *Registry) TopicsWithBufferedEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for k, tq := range r.topics {
		if len(tq.buffer) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Drain returns topicKey's dead letter queue and clears it.
func (r *Registry) Drain(topicKey string) []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	tq, ok := r.topics[topicKey]
	if !ok {
		return nil
	}
	out := make([]wire.Event, len(tq.dlq))
	for i, e := range tq.dlq {
		out[i] = e.event
	}
	tq.dlq = nil
	return out
}
