package detector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Scenario is the end-to-end verification variant. Seeded readings
// carry structured flags in their raw payload saying whether and how to
// fire, which makes the whole pipeline testable with predictable
// outcomes.
type Scenario struct {
	cfg      scenarioConfig
	readings store.ReadingSource
}

type scenarioConfig struct {
	VariableCode      string            `json:"variable_code" validate:"required"`
	MinimumConfidence float64           `json:"minimum_confidence" validate:"gte=0,lte=1"`
	Scenarios         map[string]string `json:"scenarios"`
}

func NewScenario(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	sc := scenarioConfig{
		MinimumConfidence: 0.7,
		Scenarios: map[string]string{
			"Conflict Escalation": catConflict,
			"Food Crisis":         catFoodSecurity,
		},
	}
	if err := decodeConfig(cfg.Configuration, &sc); err != nil {
		return nil, err
	}
	if err := validateConfig(sc); err != nil {
		return nil, err
	}
	return &Scenario{cfg: sc, readings: deps.Readings}, nil
}

func (d *Scenario) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	readings, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &start,
		End:          &end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	if len(readings) == 0 {
		log.Printf("No scenario data found in time window")
		return nil, nil
	}

	var out []Candidate
	for _, r := range readings {
		c := d.analyze(r)
		if c != nil {
			out = append(out, *c)
		}
	}
	log.Printf("Scenario detection complete: detections=%d readings=%d", len(out), len(readings))
	return out, nil
}

func (d *Scenario) analyze(r models.Reading) *Candidate {
	shouldTrigger, _ := r.Raw["should_trigger_alert"].(bool)
	if !shouldTrigger {
		return nil
	}

	scenario, _ := r.Raw["scenario"].(string)
	category, ok := d.cfg.Scenarios[scenario]
	if !ok {
		log.Printf("Scenario validation failed: scenario=%q not in configured mappings", scenario)
		return nil
	}

	confidence := d.confidenceFor(r)
	if confidence < d.cfg.MinimumConfidence {
		log.Printf("Scenario confidence too low: %.3f < %.3f", confidence, d.cfg.MinimumConfidence)
		return nil
	}

	var locs []models.LocationRef
	if r.LocationID != "" {
		locs = append(locs, models.LocationRef{ID: r.LocationID, Name: r.LocationName, AdminLevel: r.AdminLevel})
	}
	threshold, _ := asFloat(r.Raw["threshold"])

	return &Candidate{
		Title:      fmt.Sprintf("%s detected in %s", category, r.LocationName),
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
		Category:   category,
		Locations:  locs,
		Data: map[string]any{
			"scenario":      scenario,
			"value":         r.Value,
			"threshold":     threshold,
			"variable_code": r.VariableCode,
			"detector_type": VariantScenario,
		},
	}
}

// confidenceFor prefers an explicit confidence_target from the payload
// so a seeded scenario produces an exact, predictable score. Without
// one, confidence is derived from how far the value sits past its
// threshold.
func (d *Scenario) confidenceFor(r models.Reading) float64 {
	if target, ok := asFloat(r.Raw["confidence_target"]); ok {
		return target
	}

	threshold, _ := asFloat(r.Raw["threshold"])
	variable, _ := r.Raw["variable"].(string)

	if variable == "resource_availability" {
		// Lower availability means higher confidence.
		if threshold == 0 {
			return 0
		}
		return clamp((threshold-r.Value)/threshold, 0, 1)
	}
	if threshold > 0 {
		ratio := r.Value / threshold
		return clamp((ratio-1.0)*0.5+0.5, 0, 1)
	}
	return 0.8
}

func scenarioSchema() Schema {
	return Schema{
		Title: "Scenario Detector Configuration",
		Fields: map[string]Field{
			"variable_code":      {Type: TypeString, Required: true, Description: "Variable code of the seeded scenario data"},
			"minimum_confidence": {Type: TypeNumber, Min: bound(0), Max: bound(1), Default: 0.7, Description: "Minimum confidence required to fire"},
			"scenarios":          {Type: TypeObject, Description: "Scenario name to alert category mapping"},
		},
	}
}
