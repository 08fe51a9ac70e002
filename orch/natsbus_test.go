package orch

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The broker side needs a live server; these tests cover the adapter's
// local half, which is what the barrier and the routers actually touch.

func TestNATSBus_OnMessageFeedsCache(t *testing.T) {
	// GIVEN an envelope arriving from another process
	b := &NATSBus{cache: NewMemoryBus()}
	data, err := EncodeEnvelope(Envelope{
		Topic:   "veh.state",
		SimTime: 40 * time.Millisecond,
		Payload: Record{"position": map[string]any{"north": 1.5}},
	})
	require.NoError(t, err)

	// WHEN the subscription callback handles it
	b.onMessage(&nats.Msg{Subject: "veh.state", Data: data})

	// THEN Latest serves it without touching the broker
	env, ok := b.Latest("veh.state")
	require.True(t, ok)
	assert.Equal(t, 40*time.Millisecond, env.SimTime)
	north, present := env.Payload.Field("position.north")
	require.True(t, present)
	assert.InDelta(t, 1.5, north, 1e-9)
}

func TestNATSBus_OnMessageDropsUndecodable(t *testing.T) {
	b := &NATSBus{cache: NewMemoryBus()}

	b.onMessage(&nats.Msg{Subject: "veh.state", Data: []byte("not json")})

	_, ok := b.Latest("veh.state")
	assert.False(t, ok)
}

func TestNATSBus_RedeliveryKeepsNewestSnapshot(t *testing.T) {
	// GIVEN tick 2 already cached
	b := &NATSBus{cache: NewMemoryBus()}
	newer, err := EncodeEnvelope(Envelope{Topic: "veh.state", SimTime: 40 * time.Millisecond, Payload: Record{"tick": 2.0}})
	require.NoError(t, err)
	older, err := EncodeEnvelope(Envelope{Topic: "veh.state", SimTime: 20 * time.Millisecond, Payload: Record{"tick": 1.0}})
	require.NoError(t, err)
	b.onMessage(&nats.Msg{Subject: "veh.state", Data: newer})

	// WHEN tick 1 is redelivered late
	b.onMessage(&nats.Msg{Subject: "veh.state", Data: older})

	// THEN the snapshot does not rewind
	env, ok := b.Latest("veh.state")
	require.True(t, ok)
	assert.Equal(t, 40*time.Millisecond, env.SimTime)
}
