package orch

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Record is a message payload: a nested string-keyed document, the wire
// shape every topic carries. Records are treated as immutable once
// published; readers get the same map the publisher handed over and must
// not write into it.
type Record map[string]any

// Envelope is one published message: a payload on a topic, stamped with
// the simulation time of the tick that produced it. Envelopes are
// immutable once published.
type Envelope struct {
	Topic   string        `json:"topic"`
	SimTime time.Duration `json:"sim_time"`
	Payload Record        `json:"payload"`
}

// Field resolves a dotted path ("state.velocity.x") inside the record.
// The second result is false when any path segment is absent or a
// non-record value is traversed into.
func (r Record) Field(path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any = map[string]any(r)
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			if rec, isRec := cur.(Record); isRec {
				m = rec
			} else {
				return nil, false
			}
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetField writes a value at a dotted path, creating intermediate records
// as needed. Used by the router when scattering component outputs into
// destination messages.
func (r Record) SetField(path string, value any) {
	segs := strings.Split(path, ".")
	m := map[string]any(r)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
}

// EncodeEnvelope serializes an envelope for transports that move bytes
// (the NATS adapter). The in-memory bus never round-trips through this.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
