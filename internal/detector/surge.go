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

// Surge detects unusual increases in event counts by comparing the
// analysis window against a historical per-period baseline.
type Surge struct {
	cfg      surgeConfig
	readings store.ReadingSource
}

type surgeConfig struct {
	VariableCode        string  `json:"variable_code" validate:"required"`
	ThresholdMultiplier float64 `json:"threshold_multiplier" validate:"omitempty,gte=1,lte=10"`
	MinEvents           float64 `json:"min_events" validate:"omitempty,gte=1,lte=100"`
	LookbackPeriodDays  int     `json:"lookback_period_days" validate:"omitempty,gte=7,lte=365"`
	AdminLevel          int     `json:"admin_level" validate:"gte=0,lte=5"`
}

func NewSurge(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	sc := surgeConfig{
		ThresholdMultiplier: 2.0,
		MinEvents:           5,
		LookbackPeriodDays:  30,
		AdminLevel:          2,
	}
	if err := decodeConfig(cfg.Configuration, &sc); err != nil {
		return nil, err
	}
	if err := validateConfig(sc); err != nil {
		return nil, err
	}
	return &Surge{cfg: sc, readings: deps.Readings}, nil
}

func (d *Surge) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	log.Printf("Starting surge analysis: variable=%s multiplier=%.1f min_events=%.0f",
		d.cfg.VariableCode, d.cfg.ThresholdMultiplier, d.cfg.MinEvents)

	readings, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &start,
		End:          &end,
		AdminLevel:   &d.cfg.AdminLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	if len(readings) == 0 {
		log.Printf("No event data found for surge analysis")
		return nil, nil
	}

	byLocation := make(map[string][]models.Reading)
	for _, r := range readings {
		if r.LocationID == "" {
			continue
		}
		byLocation[r.LocationID] = append(byLocation[r.LocationID], r)
	}

	analysisDays := int(end.Sub(start).Hours() / 24)
	if analysisDays < 1 {
		analysisDays = 1
	}

	var out []Candidate
	for locationID, events := range byLocation {
		c, err := d.analyzeLocation(ctx, locationID, events, start, end, analysisDays)
		if err != nil {
			log.Printf("Surge analysis failed for location %s: %v", locationID, err)
			continue
		}
		if c != nil {
			out = append(out, *c)
		}
	}

	log.Printf("Surge analysis completed: detections=%d locations=%d", len(out), len(byLocation))
	return out, nil
}

func (d *Surge) analyzeLocation(ctx context.Context, locationID string, events []models.Reading, start, end time.Time, analysisDays int) (*Candidate, error) {
	var recent float64
	for _, r := range events {
		recent += r.Value
	}
	if recent < d.cfg.MinEvents {
		return nil, nil
	}

	historicalAvg, err := d.historicalBaseline(ctx, locationID, start, analysisDays)
	if err != nil {
		return nil, err
	}
	if historicalAvg == 0 {
		// No history or a zero baseline: surge is undefined.
		return nil, nil
	}

	surgeFactor := recent / historicalAvg
	if surgeFactor < d.cfg.ThresholdMultiplier {
		return nil, nil
	}

	confidence := clamp((surgeFactor-1.0)/3.0, 0.1, 0.95)
	name := events[0].LocationName

	log.Printf("Surge detected in %s: factor=%.2f recent=%.0f baseline=%.2f confidence=%.3f",
		name, surgeFactor, recent, historicalAvg, confidence)

	return &Candidate{
		Title:      fmt.Sprintf("Event surge in %s (%.1fx baseline)", name, surgeFactor),
		Timestamp:  end,
		Confidence: confidence,
		Category:   catConflict,
		Locations:  []models.LocationRef{{ID: locationID, Name: name, AdminLevel: events[0].AdminLevel}},
		Data: map[string]any{
			"variable_code":        d.cfg.VariableCode,
			"recent_count":         recent,
			"historical_average":   historicalAvg,
			"surge_factor":         surgeFactor,
			"threshold_multiplier": d.cfg.ThresholdMultiplier,
			"analysis_period_days": analysisDays,
			"lookback_period_days": d.cfg.LookbackPeriodDays,
			"events_analyzed":      len(events),
		},
	}, nil
}

// historicalBaseline sums event counts over the lookback period ending
// the day before the analysis window, normalised to the length of the
// analysis window.
func (d *Surge) historicalBaseline(ctx context.Context, locationID string, reference time.Time, analysisDays int) (float64, error) {
	historicalEnd := reference.AddDate(0, 0, -1)
	historicalStart := historicalEnd.AddDate(0, 0, -d.cfg.LookbackPeriodDays)

	history, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &historicalStart,
		End:          &historicalEnd,
		LocationIDs:  []string{locationID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load historical data: %w", err)
	}
	if len(history) == 0 {
		return 0, nil
	}

	var total float64
	for _, r := range history {
		total += r.Value
	}
	equivalentPeriods := math.Max(1, float64(d.cfg.LookbackPeriodDays)/float64(analysisDays))
	return total / equivalentPeriods, nil
}

func surgeSchema() Schema {
	return Schema{
		Title: "Surge Detector Configuration",
		Fields: map[string]Field{
			"variable_code":        {Type: TypeString, Required: true, Description: "Variable code for event count data"},
			"threshold_multiplier": {Type: TypeNumber, Min: bound(1), Max: bound(10), Default: 2.0, Description: "Multiplier over baseline required to fire"},
			"min_events":           {Type: TypeNumber, Min: bound(1), Max: bound(100), Default: 5.0, Description: "Minimum recent events required to fire"},
			"lookback_period_days": {Type: TypeInteger, Min: bound(7), Max: bound(365), Default: 30, Description: "Historical lookback for the baseline"},
			"admin_level":          {Type: TypeInteger, Min: bound(0), Max: bound(5), Default: 2, Description: "Administrative level for analysis"},
		},
	}
}
