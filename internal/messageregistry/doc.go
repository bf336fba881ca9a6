// Package messageregistry implements the gateway's store-and-forward
// path for events published to a topic with no subscriber yet: a
// bounded EventBuffer holds them for a configurable hold-time in case a
// matching subscription arrives shortly after, and a DeadLetterQueue
// holds whatever expires from the buffer still undelivered, for later
// inspection or draining.
//
// Both queues are bounded per topic by a per-queue byte cap; exceeding
// it evicts the oldest entry first. An event larger than the per-entry
// byte cap is not buffered at all but dead-lettered immediately.
package messageregistry
