package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/models"
)

func newScenarioDetector(t *testing.T, cfg map[string]any, src *fakeSource) Detector {
	t.Helper()
	det, err := NewScenario(&models.DetectorConfig{
		Name:          "pipeline-scenario",
		Variant:       VariantScenario,
		Configuration: cfg,
	}, Deps{Readings: src})
	require.NoError(t, err)
	return det
}

func scenarioReading(scenario string, raw map[string]any) models.Reading {
	r := reading("scenario_data", "loc-1", "Westgate", day(1), 150)
	r.Raw = map[string]any{
		"should_trigger_alert": true,
		"scenario":             scenario,
	}
	for k, v := range raw {
		r.Raw[k] = v
	}
	return r
}

func TestScenario_FiresWithTargetConfidence(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		scenarioReading("Conflict Escalation", map[string]any{"confidence_target": 0.9}),
	}}
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"}, src)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Conflict", out[0].Category)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, "Conflict detected in Westgate", out[0].Title)
}

func TestScenario_BelowMinimumConfidence(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		scenarioReading("Conflict Escalation", map[string]any{"confidence_target": 0.5}),
	}}
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"}, src)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScenario_UnmappedScenarioIgnored(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		scenarioReading("Alien Invasion", map[string]any{"confidence_target": 0.9}),
	}}
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"}, src)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScenario_NotTriggeredFlag(t *testing.T) {
	r := scenarioReading("Conflict Escalation", nil)
	r.Raw["should_trigger_alert"] = false
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"},
		&fakeSource{readings: []models.Reading{r}})

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScenario_ResourceAvailabilityInverseConfidence(t *testing.T) {
	r := scenarioReading("Food Crisis", map[string]any{
		"variable":  "resource_availability",
		"threshold": 100.0,
	})
	r.Value = 25 // low availability, high confidence
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"},
		&fakeSource{readings: []models.Reading{r}})

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Food security", out[0].Category)
	assert.InDelta(t, 0.75, out[0].Confidence, 1e-9)
}

func TestScenario_ThresholdRatioConfidence(t *testing.T) {
	r := scenarioReading("Conflict Escalation", map[string]any{"threshold": 100.0})
	r.Value = 180 // 80% past threshold -> 0.9
	det := newScenarioDetector(t, map[string]any{"variable_code": "scenario_data"},
		&fakeSource{readings: []models.Reading{r}})

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
}

func TestScenario_CustomMappings(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		scenarioReading("Flood Watch", map[string]any{"confidence_target": 0.95}),
	}}
	det := newScenarioDetector(t, map[string]any{
		"variable_code": "scenario_data",
		"scenarios":     map[string]any{"Flood Watch": "Natural disaster"},
	}, src)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Natural disaster", out[0].Category)
}
