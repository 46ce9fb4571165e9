package detector

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Threshold fires when a reading crosses a configured numeric threshold.
// Comparison is strict: a value exactly equal to the threshold does not
// satisfy gt or lt.
type Threshold struct {
	cfg      thresholdConfig
	readings store.ReadingSource
}

type thresholdConfig struct {
	VariableCode         string   `json:"variable_code" validate:"required"`
	ThresholdValue       *float64 `json:"threshold_value" validate:"required"`
	Operator             string   `json:"operator" validate:"omitempty,oneof=gt lt gte lte eq ne"`
	AdminLevel           *int     `json:"admin_level" validate:"omitempty,gte=0"`
	UseDynamicConfidence *bool    `json:"use_dynamic_confidence"`
	ConfidenceScore      float64  `json:"confidence_score" validate:"gte=0,lte=1"`
	UseLatestData        bool     `json:"use_latest_data"`
}

var operatorNames = map[string]string{
	"gt":  "greater than",
	"lt":  "less than",
	"gte": "greater than or equal to",
	"lte": "less than or equal to",
	"eq":  "equal to",
	"ne":  "not equal to",
}

func NewThreshold(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	tc := thresholdConfig{Operator: "gt", ConfidenceScore: 1.0}
	if err := decodeConfig(cfg.Configuration, &tc); err != nil {
		return nil, err
	}
	if tc.Operator == "" {
		tc.Operator = "gt"
	}
	if err := validateConfig(tc); err != nil {
		return nil, err
	}
	return &Threshold{cfg: tc, readings: deps.Readings}, nil
}

func (d *Threshold) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	q := store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		AdminLevel:   d.cfg.AdminLevel,
	}
	// use_latest_data ignores the analysis window and checks whatever
	// was fetched most recently.
	if !d.cfg.UseLatestData {
		q.Start = &start
		q.End = &end
	}

	readings, err := d.readings.GetReadings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	threshold := *d.cfg.ThresholdValue
	var out []Candidate
	for _, r := range readings {
		if math.IsNaN(r.Value) {
			log.Printf("Skipping non-numeric value for %s in %s", r.VariableCode, r.LocationName)
			continue
		}
		if !compare(r.Value, threshold, d.cfg.Operator) {
			continue
		}

		confidence := d.cfg.ConfidenceScore
		if d.cfg.UseDynamicConfidence == nil || *d.cfg.UseDynamicConfidence {
			confidence = dynamicConfidence(r.Value, threshold, d.cfg.Operator)
		}

		var locs []models.LocationRef
		if r.LocationID != "" {
			locs = append(locs, models.LocationRef{ID: r.LocationID, Name: r.LocationName, AdminLevel: r.AdminLevel})
		}
		out = append(out, Candidate{
			Title:      fmt.Sprintf("%s: %d in %s", r.VariableName, int(math.Round(r.Value)), r.LocationName),
			Timestamp:  r.EventTime(),
			Confidence: confidence,
			Category:   catNaturalDisaster,
			Locations:  locs,
			Data: map[string]any{
				"variable_code":   r.VariableCode,
				"variable_name":   r.VariableName,
				"value":           r.Value,
				"threshold_value": threshold,
				"operator":        d.cfg.Operator,
				"operator_name":   operatorNames[d.cfg.Operator],
				"location_name":   r.LocationName,
				"admin_level":     r.AdminLevel,
				"detector_type":   VariantThreshold,
			},
		})
	}
	log.Printf("Threshold detection complete: %d detections from %d readings", len(out), len(readings))
	return out, nil
}

func compare(value, threshold float64, operator string) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "lt":
		return value < threshold
	case "gte":
		return value >= threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	case "ne":
		return value != threshold
	}
	return false
}

// dynamicConfidence scales with the relative distance from the
// threshold: just crossing gives 0.5, a 100% or larger difference gives
// 1.0. Equality operators are binary and always score 1.0.
func dynamicConfidence(value, threshold float64, operator string) float64 {
	if operator == "eq" || operator == "ne" {
		return 1.0
	}
	var relDiff float64
	if threshold == 0 {
		if value != 0 {
			relDiff = math.Min(math.Abs(value), 1.0)
		}
	} else {
		relDiff = math.Abs(value-threshold) / math.Abs(threshold)
	}
	return round(0.5+math.Min(relDiff, 1.0)*0.5, 3)
}

func thresholdSchema() Schema {
	return Schema{
		Title: "Threshold Detector Configuration",
		Fields: map[string]Field{
			"variable_code":          {Type: TypeString, Required: true, Description: "Code of the variable to monitor"},
			"threshold_value":        {Type: TypeNumber, Required: true, Description: "Threshold value for comparison"},
			"operator":               {Type: TypeString, Enum: []string{"gt", "lt", "gte", "lte", "eq", "ne"}, Default: "gt", Description: "Comparison operator"},
			"admin_level":            {Type: TypeInteger, Min: bound(0), Description: "Administrative level filter"},
			"use_dynamic_confidence": {Type: TypeBool, Default: true, Description: "Scale confidence by relative distance from the threshold"},
			"confidence_score":       {Type: TypeNumber, Min: bound(0), Max: bound(1), Default: 1.0, Description: "Fixed confidence when dynamic confidence is off"},
			"use_latest_data":        {Type: TypeBool, Default: false, Description: "Ignore the analysis window and check the latest data"},
		},
	}
}
