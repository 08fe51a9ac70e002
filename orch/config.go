package orch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Scenario is the orchestrator's configuration: the clock, the sync
// topics the barrier enforces, and the components to drive. Loaded once
// before a run starts and immutable thereafter.
type Scenario struct {
	Description  string             `json:"description" yaml:"description"`
	Clock        ClockConfig        `json:"clock" yaml:"clock"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Components   []ComponentSpec    `json:"components" yaml:"components"`
}

// ClockConfig selects the step size and pacing for the run.
type ClockConfig struct {
	StepSizeMS  uint32 `json:"step_size_ms" yaml:"step_size_ms"`
	Pace1xScale bool   `json:"pace_1x_scale" yaml:"pace_1x_scale"`
}

// StepSize returns the configured step as a Duration.
func (c ClockConfig) StepSize() time.Duration {
	return time.Duration(c.StepSizeMS) * time.Millisecond
}

// Mode returns the pacing mode the flag selects.
func (c ClockConfig) Mode() PacingMode {
	if c.Pace1xScale {
		return PaceRealTime
	}
	return PaceFastAsPossible
}

// OrchestratorConfig holds the barrier's sync topic declarations.
type OrchestratorConfig struct {
	SyncTopics []SyncTopicSpec `json:"sync_topics" yaml:"sync_topics"`
}

// SyncTopicSpec declares that a topic must produce one fresh message per
// interval of simulation time for the run to be considered advancing
// consistently.
type SyncTopicSpec struct {
	Topic      string `json:"topic" yaml:"topic"`
	IntervalMS uint32 `json:"interval_ms" yaml:"interval_ms"`
}

// Interval returns the declared publication interval as a Duration.
func (s SyncTopicSpec) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// TopicRef names a topic together with the message schema it carries.
type TopicRef struct {
	MsgType string `json:"msg_type" yaml:"msg_type"`
	Topic   string `json:"topic" yaml:"topic"`
}

// AuxMapping routes between topic message fields and a unit's named
// variables, keyed topic -> component variable -> field path. For input
// mappings the field is the source read out of the topic's message; for
// output mappings it is the destination written into the published
// message.
type AuxMapping map[string]map[string]string

// ComponentSpec describes one co-simulation component: the model to
// load, the topics it consumes and produces, its aux variable routing,
// and the initial values applied before the first step.
type ComponentSpec struct {
	ID               string         `json:"id" yaml:"id"`
	ModelReference   string         `json:"model_reference" yaml:"model_reference"`
	InputTopics      []TopicRef     `json:"input_topics" yaml:"input_topics"`
	OutputTopics     []TopicRef     `json:"output_topics" yaml:"output_topics"`
	AuxInputMapping  AuxMapping     `json:"aux_input_mapping" yaml:"aux_input_mapping"`
	AuxOutputMapping AuxMapping     `json:"aux_output_mapping" yaml:"aux_output_mapping"`
	InitialValues    map[string]any `json:"initial_values" yaml:"initial_values"`
}

// LoadScenario reads a scenario file, JSON or YAML by extension, and
// validates it. Returns *ConfigError for anything that would make the
// run inconsistent; the orchestrator never enters Running on such input.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate applies every load-time check: clock sanity, sync topic
// alignment, unique component identity, mapping conflicts, and dangling
// topic references. Catching these here is what keeps mapping errors out
// of the tick loop; routing tables are built from a validated scenario
// and never consult the config again.
func (sc *Scenario) Validate() error {
	if sc.Clock.StepSizeMS == 0 {
		return &ConfigError{Field: "clock.step_size_ms", Reason: "must be positive"}
	}

	published := sc.publishedTopics()

	seenIDs := make(map[string]bool)
	for i, comp := range sc.Components {
		field := fmt.Sprintf("components[%d]", i)
		if comp.ID == "" {
			return &ConfigError{Field: field + ".id", Reason: "must not be empty"}
		}
		if seenIDs[comp.ID] {
			return &ConfigError{Field: field + ".id", Reason: fmt.Sprintf("duplicate component id %q", comp.ID)}
		}
		seenIDs[comp.ID] = true
		if comp.ModelReference == "" {
			return &ConfigError{Field: field + ".model_reference", Reason: "must not be empty"}
		}
		for _, ref := range append(append([]TopicRef{}, comp.InputTopics...), comp.OutputTopics...) {
			if ref.Topic == "" {
				return &ConfigError{Field: field, Reason: "topic name must not be empty"}
			}
		}
		if err := comp.validateMappings(field, published); err != nil {
			return err
		}
	}

	seenSync := make(map[string]bool)
	for i, st := range sc.Orchestrator.SyncTopics {
		field := fmt.Sprintf("orchestrator.sync_topics[%d]", i)
		if st.Topic == "" {
			return &ConfigError{Field: field + ".topic", Reason: "must not be empty"}
		}
		if seenSync[st.Topic] {
			return &ConfigError{Field: field + ".topic", Reason: fmt.Sprintf("duplicate sync topic %q", st.Topic)}
		}
		seenSync[st.Topic] = true
		if st.IntervalMS == 0 {
			return &ConfigError{Field: field + ".interval_ms", Reason: "must be positive"}
		}
		if st.IntervalMS%sc.Clock.StepSizeMS != 0 {
			return &ConfigError{
				Field:  field + ".interval_ms",
				Reason: fmt.Sprintf("%dms is not a multiple of step_size_ms %d", st.IntervalMS, sc.Clock.StepSizeMS),
			}
		}
		if !published[st.Topic] {
			return &ConfigError{
				Field:  field + ".topic",
				Reason: fmt.Sprintf("no component publishes %q; the barrier could never be satisfied", st.Topic),
			}
		}
	}
	return nil
}

// validateMappings rejects write-write conflicts and dangling topic
// references in one component's aux mappings.
func (c *ComponentSpec) validateMappings(field string, published map[string]bool) error {
	// Two input rules feeding the same component variable is a
	// configuration error, not something to resolve at runtime.
	targets := make(map[string]string) // variable -> topic it is fed from
	for topic, vars := range c.AuxInputMapping {
		if !published[topic] {
			return &ConfigError{
				Field:  field + ".aux_input_mapping",
				Reason: fmt.Sprintf("topic %q is not published by any component", topic),
			}
		}
		for variable, src := range vars {
			if variable == "" || src == "" {
				return &ConfigError{Field: field + ".aux_input_mapping", Reason: "variable and field names must not be empty"}
			}
			if prev, dup := targets[variable]; dup {
				return &ConfigError{
					Field:  field + ".aux_input_mapping",
					Reason: fmt.Sprintf("variable %q mapped from both %q and %q", variable, prev, topic),
				}
			}
			targets[variable] = topic
		}
	}
	// Output side: two variables landing on the same field of the same
	// destination message would silently overwrite each other.
	for topic, vars := range c.AuxOutputMapping {
		if topic == "" {
			return &ConfigError{Field: field + ".aux_output_mapping", Reason: "topic name must not be empty"}
		}
		dests := make(map[string]string) // field path -> variable
		for variable, dst := range vars {
			if variable == "" || dst == "" {
				return &ConfigError{Field: field + ".aux_output_mapping", Reason: "variable and field names must not be empty"}
			}
			if prev, dup := dests[dst]; dup {
				return &ConfigError{
					Field:  field + ".aux_output_mapping",
					Reason: fmt.Sprintf("field %q written by both %q and %q on topic %s", dst, prev, variable, topic),
				}
			}
			dests[dst] = variable
		}
	}
	return nil
}

// publishedTopics collects every topic some component produces, from its
// declared output topics or its aux output mappings.
func (sc *Scenario) publishedTopics() map[string]bool {
	out := make(map[string]bool)
	for _, comp := range sc.Components {
		for _, ref := range comp.OutputTopics {
			out[ref.Topic] = true
		}
		for topic := range comp.AuxOutputMapping {
			out[topic] = true
		}
	}
	return out
}

// Topics returns every topic the scenario mentions; published,
// consumed, or synchronized; sorted and deduplicated. Transport
// adapters use this to know what to subscribe to.
func (sc *Scenario) Topics() []string {
	set := sc.publishedTopics()
	for _, comp := range sc.Components {
		for _, ref := range comp.InputTopics {
			set[ref.Topic] = true
		}
		for topic := range comp.AuxInputMapping {
			set[topic] = true
		}
	}
	for _, st := range sc.Orchestrator.SyncTopics {
		set[st.Topic] = true
	}
	return sortedKeys(set)
}

// PublisherOf returns the id of the component that publishes a topic,
// or "" when the scenario does not declare one. Used to name the stalled
// component in sync timeout reports.
func (sc *Scenario) PublisherOf(topic string) string {
	for _, comp := range sc.Components {
		for _, ref := range comp.OutputTopics {
			if ref.Topic == topic {
				return comp.ID
			}
		}
		for t := range comp.AuxOutputMapping {
			if t == topic {
				return comp.ID
			}
		}
	}
	return ""
}

// Summary renders a human-readable digest of the scenario: components,
// their topic wiring, and the barrier's sync topics.
func (sc *Scenario) Summary() string {
	var b strings.Builder
	if sc.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", sc.Description)
	}
	fmt.Fprintf(&b, "clock: step %dms, pacing %s\n", sc.Clock.StepSizeMS, pacingName(sc.Clock.Mode()))
	fmt.Fprintf(&b, "sync topics (%d):\n", len(sc.Orchestrator.SyncTopics))
	for _, st := range sc.Orchestrator.SyncTopics {
		fmt.Fprintf(&b, "  %-40s every %dms (publisher: %s)\n", st.Topic, st.IntervalMS, orDash(sc.PublisherOf(st.Topic)))
	}
	fmt.Fprintf(&b, "components (%d):\n", len(sc.Components))
	for _, comp := range sc.Components {
		fmt.Fprintf(&b, "  %s (%s)\n", comp.ID, comp.ModelReference)
		for _, ref := range comp.InputTopics {
			fmt.Fprintf(&b, "    <- %s [%s]\n", ref.Topic, ref.MsgType)
		}
		for topic := range comp.AuxInputMapping {
			fmt.Fprintf(&b, "    <- %s [aux, %d vars]\n", topic, len(comp.AuxInputMapping[topic]))
		}
		for _, ref := range comp.OutputTopics {
			fmt.Fprintf(&b, "    -> %s [%s]\n", ref.Topic, ref.MsgType)
		}
		for topic := range comp.AuxOutputMapping {
			fmt.Fprintf(&b, "    -> %s [aux, %d vars]\n", topic, len(comp.AuxOutputMapping[topic]))
		}
	}
	return b.String()
}

func pacingName(m PacingMode) string {
	if m == PaceRealTime {
		return "real-time"
	}
	return "fast-as-possible"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
