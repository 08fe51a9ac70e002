package orch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing scenario: %v", err)
	}
	return path
}

// baseScenario is a minimal consistent configuration used as the
// starting point for mutation in validation tests.
func baseScenario() *Scenario {
	return &Scenario{
		Clock: ClockConfig{StepSizeMS: 20},
		Orchestrator: OrchestratorConfig{SyncTopics: []SyncTopicSpec{
			{Topic: "aerosim.actor1.vehicle_state", IntervalMS: 20},
		}},
		Components: []ComponentSpec{
			{
				ID:             "vehicle_1",
				ModelReference: "builtin://pointmass",
				OutputTopics: []TopicRef{
					{MsgType: "aerosim::types::VehicleState", Topic: "aerosim.actor1.vehicle_state"},
				},
			},
		},
	}
}

func TestLoadScenario_JSON(t *testing.T) {
	path := writeScenario(t, "scenario.json", `{
		"description": "single vehicle",
		"clock": {"step_size_ms": 20, "pace_1x_scale": true},
		"orchestrator": {"sync_topics": [{"topic": "aerosim.actor1.vehicle_state", "interval_ms": 20}]},
		"components": [{
			"id": "vehicle_1",
			"model_reference": "builtin://pointmass",
			"output_topics": [{"msg_type": "aerosim::types::VehicleState", "topic": "aerosim.actor1.vehicle_state"}],
			"initial_values": {"velocity_north": 10.0}
		}]
	}`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), sc.Clock.StepSizeMS)
	assert.Equal(t, PaceRealTime, sc.Clock.Mode())
	require.Len(t, sc.Components, 1)
	assert.Equal(t, "vehicle_1", sc.Components[0].ID)
	assert.Equal(t, 10.0, sc.Components[0].InitialValues["velocity_north"])
}

func TestLoadScenario_YAML(t *testing.T) {
	path := writeScenario(t, "scenario.yaml", `
description: single vehicle
clock:
  step_size_ms: 20
  pace_1x_scale: false
orchestrator:
  sync_topics:
    - topic: aerosim.actor1.vehicle_state
      interval_ms: 40
components:
  - id: vehicle_1
    model_reference: builtin://pointmass
    output_topics:
      - msg_type: aerosim::types::VehicleState
        topic: aerosim.actor1.vehicle_state
    aux_output_mapping:
      aerosim.actor1.telemetry:
        position_north: position.north
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, PaceFastAsPossible, sc.Clock.Mode())
	assert.Equal(t, uint32(40), sc.Orchestrator.SyncTopics[0].IntervalMS)
	assert.Equal(t, "position.north",
		sc.Components[0].AuxOutputMapping["aerosim.actor1.telemetry"]["position_north"])
}

func TestLoadScenario_MalformedJSON(t *testing.T) {
	path := writeScenario(t, "broken.json", `{"clock": `)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestScenarioValidate_ZeroStepSize(t *testing.T) {
	sc := baseScenario()
	sc.Clock.StepSizeMS = 0
	assertConfigError(t, sc.Validate(), "step_size_ms")
}

func TestScenarioValidate_DuplicateComponentID(t *testing.T) {
	sc := baseScenario()
	sc.Components = append(sc.Components, ComponentSpec{
		ID: "vehicle_1", ModelReference: "builtin://gain",
	})
	assertConfigError(t, sc.Validate(), "duplicate component id")
}

func TestScenarioValidate_EmptyModelReference(t *testing.T) {
	sc := baseScenario()
	sc.Components[0].ModelReference = ""
	assertConfigError(t, sc.Validate(), "model_reference")
}

func TestScenarioValidate_SyncIntervalNotMultipleOfStep(t *testing.T) {
	// GIVEN a 20ms step and a 30ms sync interval; the non-integer tick
	// alignment the orchestrator refuses to guess rounding for
	sc := baseScenario()
	sc.Orchestrator.SyncTopics[0].IntervalMS = 30
	assertConfigError(t, sc.Validate(), "not a multiple")
}

func TestScenarioValidate_SyncTopicNobodyPublishes(t *testing.T) {
	sc := baseScenario()
	sc.Orchestrator.SyncTopics = append(sc.Orchestrator.SyncTopics,
		SyncTopicSpec{Topic: "ghost.topic", IntervalMS: 20})
	assertConfigError(t, sc.Validate(), "no component publishes")
}

func TestScenarioValidate_DuplicateSyncTopic(t *testing.T) {
	sc := baseScenario()
	sc.Orchestrator.SyncTopics = append(sc.Orchestrator.SyncTopics, sc.Orchestrator.SyncTopics[0])
	assertConfigError(t, sc.Validate(), "duplicate sync topic")
}

func TestScenarioValidate_AuxInputWriteWriteConflict(t *testing.T) {
	// GIVEN one component variable fed from two different topics
	sc := baseScenario()
	sc.Components = append(sc.Components, ComponentSpec{
		ID:             "autopilot_1",
		ModelReference: "builtin://gain",
		OutputTopics: []TopicRef{
			{MsgType: "aerosim::types::EffectorState", Topic: "aerosim.actor1.effector1.state"},
		},
		AuxInputMapping: AuxMapping{
			"aerosim.actor1.vehicle_state":   {"altitude": "position.down"},
			"aerosim.actor1.effector1.state": {"altitude": "value"},
		},
	})

	// THEN validation rejects the write-write conflict at load time
	assertConfigError(t, sc.Validate(), "altitude")
}

func TestScenarioValidate_AuxInputUnknownTopic(t *testing.T) {
	sc := baseScenario()
	sc.Components[0].AuxInputMapping = AuxMapping{
		"nobody.publishes.this": {"x": "field"},
	}
	assertConfigError(t, sc.Validate(), "not published")
}

func TestScenarioValidate_AuxOutputFieldConflict(t *testing.T) {
	// GIVEN two variables scattering onto the same destination field
	sc := baseScenario()
	sc.Components[0].AuxOutputMapping = AuxMapping{
		"aerosim.actor1.telemetry": {
			"position_north": "pos.n",
			"velocity_north": "pos.n",
		},
	}
	assertConfigError(t, sc.Validate(), "pos.n")
}

func TestScenario_TopicsAndPublisherOf(t *testing.T) {
	sc := baseScenario()
	sc.Components[0].AuxOutputMapping = AuxMapping{
		"aerosim.actor1.telemetry": {"position_north": "pos.n"},
	}
	sc.Components = append(sc.Components, ComponentSpec{
		ID:             "gnss_1",
		ModelReference: "builtin://gain",
		InputTopics: []TopicRef{
			{MsgType: "aerosim::types::VehicleState", Topic: "aerosim.actor1.vehicle_state"},
		},
		AuxOutputMapping: AuxMapping{"aerosim.actor1.sensor.gnss": {"value": "fix"}},
	})
	require.NoError(t, sc.Validate())

	topics := sc.Topics()
	for _, want := range []string{
		"aerosim.actor1.vehicle_state",
		"aerosim.actor1.telemetry",
		"aerosim.actor1.sensor.gnss",
	} {
		assert.Contains(t, topics, want)
	}

	assert.Equal(t, "vehicle_1", sc.PublisherOf("aerosim.actor1.vehicle_state"))
	assert.Equal(t, "gnss_1", sc.PublisherOf("aerosim.actor1.sensor.gnss"))
	assert.Equal(t, "", sc.PublisherOf("unknown.topic"))
}

func TestScenario_Summary(t *testing.T) {
	sc := baseScenario()
	sc.Description = "single vehicle"
	out := sc.Summary()
	for _, want := range []string{"single vehicle", "vehicle_1", "builtin://pointmass", "aerosim.actor1.vehicle_state"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func assertConfigError(t *testing.T, err error, contains string) {
	t.Helper()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if !strings.Contains(err.Error(), contains) {
		t.Errorf("error %q does not mention %q", err.Error(), contains)
	}
}
