package orch

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Router resolves one component's variable routing: which topic fields
// feed which unit variables on the way in, and which unit variables land
// in which messages on the way out. The tables are built once from a
// validated ComponentSpec; after that, routing is pure lookup; no
// blocking, no side effects, no config access in the tick loop.
type Router struct {
	component string
	inputs    []inputRule
	outputs   []outputRule
}

// An inputRule feeds one unit variable. Whole rules apply a topic's
// entire payload to the variable named after its message type; aux rules
// pick a single field out of the message.
type inputRule struct {
	topic    string
	variable string
	field    string // empty for whole-message rules
	whole    bool
}

type outputRule struct {
	topic    string
	variable string
	field    string
	whole    bool
}

// NewRouter builds the routing tables for a component. Declared input
// and output topics route whole messages to the variable derived from
// their message type (aerosim::types::VehicleState -> vehicle_state),
// matching how the co-simulation models declare their interface
// variables; aux mappings route individual fields. Collisions between
// the two layers are configuration errors caught here, before any run.
func NewRouter(spec ComponentSpec) (*Router, error) {
	r := &Router{component: spec.ID}

	inTargets := make(map[string]string) // variable -> source description, for conflict reporting
	addInput := func(rule inputRule, source string) error {
		if prev, dup := inTargets[rule.variable]; dup {
			return &ConfigError{
				Field:  fmt.Sprintf("components[%s]", spec.ID),
				Reason: fmt.Sprintf("input variable %q fed by both %s and %s", rule.variable, prev, source),
			}
		}
		inTargets[rule.variable] = source
		r.inputs = append(r.inputs, rule)
		return nil
	}

	for _, ref := range spec.InputTopics {
		rule := inputRule{topic: ref.Topic, variable: rootVariable(ref.MsgType), whole: true}
		if err := addInput(rule, "input topic "+ref.Topic); err != nil {
			return nil, err
		}
	}
	for _, topic := range sortedKeys(spec.AuxInputMapping) {
		vars := spec.AuxInputMapping[topic]
		for _, variable := range sortedKeys(vars) {
			rule := inputRule{topic: topic, variable: variable, field: vars[variable]}
			if err := addInput(rule, "aux mapping on "+topic); err != nil {
				return nil, err
			}
		}
	}

	for _, ref := range spec.OutputTopics {
		r.outputs = append(r.outputs, outputRule{topic: ref.Topic, variable: rootVariable(ref.MsgType), whole: true})
	}
	for _, topic := range sortedKeys(spec.AuxOutputMapping) {
		vars := spec.AuxOutputMapping[topic]
		for _, variable := range sortedKeys(vars) {
			r.outputs = append(r.outputs, outputRule{topic: topic, variable: variable, field: vars[variable]})
		}
	}
	return r, nil
}

// InputVariables lists every unit variable the router can feed, in rule
// order. The driver uses this to seed last-known values from the
// component's declared initial values.
func (r *Router) InputVariables() []string {
	vars := make([]string, 0, len(r.inputs))
	for _, rule := range r.inputs {
		vars = append(vars, rule.variable)
	}
	return vars
}

// OutputVariables lists every unit variable the router reads back after
// a step, deduplicated in rule order.
func (r *Router) OutputVariables() []string {
	seen := make(map[string]bool)
	vars := make([]string, 0, len(r.outputs))
	for _, rule := range r.outputs {
		if !seen[rule.variable] {
			seen[rule.variable] = true
			vars = append(vars, rule.variable)
		}
	}
	return vars
}

// Topics lists every topic the router touches, inputs then outputs,
// deduplicated.
func (r *Router) Topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, rule := range r.inputs {
		if !seen[rule.topic] {
			seen[rule.topic] = true
			topics = append(topics, rule.topic)
		}
	}
	for _, rule := range r.outputs {
		if !seen[rule.topic] {
			seen[rule.topic] = true
			topics = append(topics, rule.topic)
		}
	}
	return topics
}

// GatherInputs resolves the current value of every input rule against a
// bus snapshot. A topic with no message yet is a timing condition; the
// rule is skipped and the driver falls back to the last-known value. A
// present message missing a mapped field is a schema mismatch and fails
// with MissingFieldError; the run must not silently substitute defaults
// for a miswired mapping.
func (r *Router) GatherInputs(snapshot func(topic string) (Envelope, bool)) (map[string]any, error) {
	values := make(map[string]any, len(r.inputs))
	for _, rule := range r.inputs {
		env, ok := snapshot(rule.topic)
		if !ok {
			continue
		}
		if rule.whole {
			values[rule.variable] = env.Payload
			continue
		}
		v, present := env.Payload.Field(rule.field)
		if !present {
			return nil, &MissingFieldError{Component: r.component, Topic: rule.topic, Field: rule.field}
		}
		values[rule.variable] = v
	}
	return values, nil
}

// ScatterOutputs builds the tick's outbound messages from the unit's
// output variables: one envelope per destination topic, merging every
// variable that maps into the same message. Envelope order follows rule
// declaration order, so publishes are deterministic tick to tick.
func (r *Router) ScatterOutputs(values map[string]any, simTime time.Duration) []Envelope {
	payloads := make(map[string]Record)
	var order []string
	payloadFor := func(topic string) Record {
		if rec, ok := payloads[topic]; ok {
			return rec
		}
		rec := Record{}
		payloads[topic] = rec
		order = append(order, topic)
		return rec
	}

	for _, rule := range r.outputs {
		v, ok := values[rule.variable]
		if !ok {
			continue
		}
		rec := payloadFor(rule.topic)
		if rule.whole {
			if whole, isRec := toRecord(v); isRec {
				for k, fv := range whole {
					rec[k] = fv
				}
			} else {
				rec[rule.variable] = v
			}
			continue
		}
		rec.SetField(rule.field, v)
	}

	envs := make([]Envelope, 0, len(order))
	for _, topic := range order {
		envs = append(envs, Envelope{Topic: topic, SimTime: simTime, Payload: payloads[topic]})
	}
	return envs
}

func toRecord(v any) (Record, bool) {
	switch rec := v.(type) {
	case Record:
		return rec, true
	case map[string]any:
		return Record(rec), true
	default:
		return nil, false
	}
}

// rootVariable derives the unit variable name carrying a whole message:
// the final type segment in snake case, e.g. "aerosim::types::VehicleState"
// -> "vehicle_state".
func rootVariable(msgType string) string {
	name := msgType
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if j := strings.LastIndex(name, "."); j >= 0 {
		name = name[j+1:]
	}
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
