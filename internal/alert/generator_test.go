package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/models"
)

func sampleDetection() *models.Detection {
	d := models.NewDetection("det-1", "displacement-anomaly")
	d.Title = "Anomalous increase (Level 3) in Northville"
	d.Timestamp = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	d.Confidence = 0.85
	d.Category = "Conflict"
	d.Locations = []models.LocationRef{{ID: "loc-1", Name: "Northville", AdminLevel: 2}}
	d.Data = map[string]any{
		"detector_type": "zscore",
		"alert_level":   3,
	}
	return d
}

func TestGenerator_TemplateDrivesContent(t *testing.T) {
	set := NewTemplateSet(&Template{
		Category: "Conflict",
		Active:   true,
		Title:    "{{category}} alert for {{primary_location}}",
		Text:     "Detected on {{detection_timestamp}} ({{confidence_score}})",
	})
	g := NewGenerator(set)

	a := g.Generate(sampleDetection())

	assert.Equal(t, "Conflict alert for Northville", a.Title)
	assert.Equal(t, "Detected on 2025-06-10 (85%)", a.Text)
	assert.Equal(t, "Conflict", a.Category)
	assert.Equal(t, "displacement-anomaly", a.Source)
	assert.Equal(t, 0.85, a.Confidence)
}

func TestGenerator_DefaultContentWithoutTemplate(t *testing.T) {
	g := NewGenerator(nil)

	a := g.Generate(sampleDetection())

	assert.Equal(t, "Anomalous increase (Level 3) in Northville", a.Title)
	assert.Contains(t, a.Text, "A conflict condition has been detected in Northville on 2025-06-10.")
	assert.Contains(t, a.Text, "Detection confidence: 85.0%")
	assert.Contains(t, a.Text, "Detected by: displacement-anomaly")
}

func TestGenerator_DefaultTitleWhenDetectionUntitled(t *testing.T) {
	d := sampleDetection()
	d.Title = ""
	g := NewGenerator(nil)

	a := g.Generate(d)

	assert.Equal(t, "Conflict detected in Northville", a.Title)
}

func TestGenerator_SourceHeadlineAppended(t *testing.T) {
	d := sampleDetection()
	d.Data["text"] = "Clashes reported near the northern border"
	g := NewGenerator(nil)

	a := g.Generate(d)

	assert.Contains(t, a.Text, "Source: Clashes reported near the northern border")
}

func TestGenerator_ValidityByAlertLevel(t *testing.T) {
	g := NewGenerator(nil)

	cases := map[int]int{1: 3, 2: 5, 3: 7, 4: 10}
	for level, days := range cases {
		d := sampleDetection()
		d.Data["alert_level"] = level

		a := g.Generate(d)

		assert.Equal(t, a.ValidFrom.AddDate(0, 0, days), a.ValidUntil, "alert level %d", level)
	}
}

func TestGenerator_DefaultValiditySevenDays(t *testing.T) {
	d := sampleDetection()
	delete(d.Data, "alert_level")
	d.Data["detector_type"] = "passthrough"
	g := NewGenerator(nil)

	a := g.Generate(d)

	assert.Equal(t, a.ValidFrom.AddDate(0, 0, 7), a.ValidUntil)
}

func TestSeverity_ZScoreLevelPlusOne(t *testing.T) {
	d := sampleDetection()
	d.Data["alert_level"] = 4

	assert.Equal(t, 5, severityFor(d))
}

func TestSeverity_ThresholdDifferenceBands(t *testing.T) {
	mk := func(value, threshold float64, operator string) *models.Detection {
		d := models.NewDetection("det-1", "flood-threshold")
		d.Data = map[string]any{
			"detector_type":   "threshold",
			"value":           value,
			"threshold_value": threshold,
			"operator":        operator,
		}
		return d
	}

	assert.Equal(t, 5, severityFor(mk(200, 100, "gt")), "100%% past the threshold")
	assert.Equal(t, 4, severityFor(mk(160, 100, "gt")))
	assert.Equal(t, 3, severityFor(mk(125, 100, "gt")))
	assert.Equal(t, 2, severityFor(mk(112, 100, "gt")))
	assert.Equal(t, 1, severityFor(mk(105, 100, "gt")))
	assert.Equal(t, 3, severityFor(mk(100, 100, "eq")), "equality operators are binary")
}

func TestSeverity_SurgeFactorBands(t *testing.T) {
	mk := func(factor float64) *models.Detection {
		d := models.NewDetection("det-1", "conflict-surge")
		d.Data = map[string]any{"detector_type": "surge", "surge_factor": factor}
		return d
	}

	assert.Equal(t, 5, severityFor(mk(6.0)))
	assert.Equal(t, 4, severityFor(mk(3.5)))
	assert.Equal(t, 3, severityFor(mk(2.1)))
	assert.Equal(t, 2, severityFor(mk(1.7)))
	assert.Equal(t, 1, severityFor(mk(1.2)))
}

func TestSeverity_ConfidenceFallback(t *testing.T) {
	mk := func(confidence float64) *models.Detection {
		d := models.NewDetection("det-1", "report-classifier")
		d.Confidence = confidence
		d.Data = map[string]any{"detector_type": "classifier"}
		return d
	}

	assert.Equal(t, 4, severityFor(mk(0.9)))
	assert.Equal(t, 3, severityFor(mk(0.7)))
	assert.Equal(t, 2, severityFor(mk(0.5)))
	assert.Equal(t, 1, severityFor(mk(0.2)))
	assert.Equal(t, 3, severityFor(mk(0)), "unknown confidence defaults to medium")
}

func TestGenerator_CopiesLocations(t *testing.T) {
	d := sampleDetection()
	g := NewGenerator(nil)

	a := g.Generate(d)
	require.Len(t, a.Locations, 1)

	a.Locations[0].Name = "mutated"
	assert.Equal(t, "Northville", d.Locations[0].Name)
}
