package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSBus adapts an external NATS broker to the Bus contract, for runs
// where components and renderers live in separate processes. Topic names
// map directly onto NATS subjects. The barrier's freshness checks read a
// local snapshot cache maintained by the subscriptions, so Latest stays
// a non-blocking local read; the broker itself remains a black box.
type NATSBus struct {
	conn  *nats.Conn
	cache *MemoryBus
	subs  []*nats.Subscription
}

// NewNATSBus connects the adapter to a broker and subscribes to every
// topic the scenario declares. Messages published by other processes
// become visible through Latest as they arrive; NATS gives per-subject
// ordering, which is all the snapshot cache needs.
func NewNATSBus(conn *nats.Conn, topics []string) (*NATSBus, error) {
	b := &NATSBus{conn: conn, cache: NewMemoryBus()}
	for _, topic := range topics {
		sub, err := conn.Subscribe(topic, b.onMessage)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		b.subs = append(b.subs, sub)
	}
	return b, nil
}

func (b *NATSBus) onMessage(msg *nats.Msg) {
	env, err := DecodeEnvelope(msg.Data)
	if err != nil {
		logrus.Errorf("dropping undecodable message on %s: %v", msg.Subject, err)
		return
	}
	// Duplicate and out-of-order redelivery is absorbed by the cache.
	_ = b.cache.Publish(context.Background(), env.Topic, env.SimTime, env.Payload)
}

// Publish sends the envelope to the broker and feeds the local cache
// directly, so a publisher's own barrier check does not wait on broker
// loopback delivery.
func (b *NATSBus) Publish(ctx context.Context, topic string, simTime time.Duration, payload Record) error {
	env := Envelope{Topic: topic, SimTime: simTime, Payload: payload}
	data, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", topic, err)
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return b.cache.Publish(ctx, topic, simTime, payload)
}

// Latest returns the local snapshot for a topic.
func (b *NATSBus) Latest(topic string) (Envelope, bool) {
	return b.cache.Latest(topic)
}

// Close drops all subscriptions. The underlying connection is owned by
// the caller.
func (b *NATSBus) Close() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			logrus.Warnf("unsubscribing %s: %v", sub.Subject, err)
		}
	}
	b.subs = nil
}
