package detector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Passthrough forwards every reading in the window as a detection at
// full confidence, optionally filtered by simple equality rules against
// the raw payload. Useful for wiring a trusted upstream straight into
// the alert pipeline.
type Passthrough struct {
	cfg      passthroughConfig
	readings store.ReadingSource
}

type passthroughConfig struct {
	VariableCode string              `json:"variable_code" validate:"required"`
	AdminLevel   *int                `json:"admin_level" validate:"omitempty,gte=0,lte=5"`
	Filters      []passthroughFilter `json:"filters"`
}

type passthroughFilter struct {
	VariableName string `json:"variable_name"`
	Value        any    `json:"value"`
}

func NewPassthrough(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	var pc passthroughConfig
	if err := decodeConfig(cfg.Configuration, &pc); err != nil {
		return nil, err
	}
	if err := validateConfig(pc); err != nil {
		return nil, err
	}
	return &Passthrough{cfg: pc, readings: deps.Readings}, nil
}

func (d *Passthrough) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	readings, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &start,
		End:          &end,
		AdminLevel:   d.cfg.AdminLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	var out []Candidate
	for _, r := range readings {
		if !d.passesFilters(r) {
			continue
		}
		var locs []models.LocationRef
		if r.LocationID != "" {
			locs = append(locs, models.LocationRef{ID: r.LocationID, Name: r.LocationName, AdminLevel: r.AdminLevel})
		}
		out = append(out, Candidate{
			Title:      fmt.Sprintf("%s in %s", r.VariableName, r.LocationName),
			Timestamp:  r.EventTime(),
			Confidence: 1.0,
			Locations:  locs,
			Data: map[string]any{
				"variable_code":  r.VariableCode,
				"variable_name":  r.VariableName,
				"original_value": r.Value,
				"location_name":  r.LocationName,
				"admin_level":    r.AdminLevel,
				"detector_type":  VariantPassthrough,
			},
		})
	}
	log.Printf("Passthrough detection complete: %d of %d readings forwarded", len(out), len(readings))
	return out, nil
}

func (d *Passthrough) passesFilters(r models.Reading) bool {
	for _, f := range d.cfg.Filters {
		if f.VariableName == "" || f.Value == nil {
			log.Printf("Skipping invalid passthrough filter: %+v", f)
			continue
		}
		got, ok := r.Raw[f.VariableName]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func passthroughSchema() Schema {
	return Schema{
		Title: "Passthrough Detector Configuration",
		Fields: map[string]Field{
			"variable_code": {Type: TypeString, Required: true, Description: "Code of the variable to forward"},
			"admin_level":   {Type: TypeInteger, Min: bound(0), Max: bound(5), Description: "Administrative level filter"},
			"filters":       {Type: TypeList, Description: "Equality filters against the raw payload"},
		},
	}
}
