package orch

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// Bus is the orchestrator's contract with the message broker: ordered,
// timestamped delivery per topic, with the latest message retrievable as
// a non-blocking snapshot. Delivery is at-least-once; consumers treat a
// repeated (topic, sim_time) pair as a no-op. The core never locks over
// the bus; consistent per-topic read order is the adapter's job.
type Bus interface {
	// Publish appends a message to a topic, stamped with the
	// simulation time of the tick that produced it.
	Publish(ctx context.Context, topic string, simTime time.Duration, payload Record) error
	// Latest returns the most recent message on a topic, if any. It
	// never blocks; a topic with no message yet simply reports false.
	Latest(topic string) (Envelope, bool)
}

// MemoryBus is the in-process Bus used for local runs and tests. Topics
// are created on first use and hold only their latest envelope; the
// orchestrator's read model is "current snapshot", not replay.
type MemoryBus struct {
	topics *haxmap.Map[string, *topicState]
}

type topicState struct {
	mu     sync.RWMutex
	latest Envelope
	has    bool
}

// NewMemoryBus builds an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: haxmap.New[string, *topicState]()}
}

// Publish stores the envelope as the topic's latest message. Duplicate
// delivery of an already-seen sim time leaves the snapshot untouched, so
// at-least-once redelivery upstream cannot double-trigger the barrier.
// A message older than the current snapshot is likewise dropped; sim
// time per topic is append-only from the orchestrator's point of view.
func (b *MemoryBus) Publish(_ context.Context, topic string, simTime time.Duration, payload Record) error {
	st, _ := b.topics.GetOrCompute(topic, func() *topicState { return &topicState{} })
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.has && simTime <= st.latest.SimTime {
		return nil
	}
	st.latest = Envelope{Topic: topic, SimTime: simTime, Payload: payload}
	st.has = true
	return nil
}

// Latest returns the topic's current snapshot without blocking.
func (b *MemoryBus) Latest(topic string) (Envelope, bool) {
	st, ok := b.topics.Get(topic)
	if !ok {
		return Envelope{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.has {
		return Envelope{}, false
	}
	return st.latest, true
}

// Cursor tracks the most recent sim time one consumer has observed on
// one topic, separating "fresh for this tick" from stale or duplicated
// delivery.
type Cursor struct {
	last time.Duration
	seen bool
}

// Observe reports whether simTime is new to this cursor, advancing it
// when so. Re-observing an already-seen sim time returns false, which is
// what makes duplicate broker delivery idempotent downstream.
func (c *Cursor) Observe(simTime time.Duration) bool {
	if c.seen && simTime <= c.last {
		return false
	}
	c.last = simTime
	c.seen = true
	return true
}

// Last returns the most recently observed sim time, and whether any
// message has been observed at all.
func (c *Cursor) Last() (time.Duration, bool) {
	return c.last, c.seen
}
