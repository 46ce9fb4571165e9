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

// ZScore is the statistical anomaly variant. Each location's readings
// are resampled to a fixed frequency and scored against a trailing
// rolling baseline; observations whose standardized deviation crosses
// one of four ascending thresholds become detections at alert levels
// 1 (low) through 4 (critical).
type ZScore struct {
	cfg      zscoreConfig
	readings store.ReadingSource
}

type zscoreConfig struct {
	VariableCode       string  `json:"variable_code" validate:"required"`
	Threshold1         float64 `json:"zscore_threshold_1" validate:"omitempty,gte=0.5,lte=5"`
	Threshold2         float64 `json:"zscore_threshold_2" validate:"omitempty,gte=1,lte=5"`
	Threshold3         float64 `json:"zscore_threshold_3" validate:"omitempty,gte=1.5,lte=5"`
	Threshold4         float64 `json:"zscore_threshold_4" validate:"omitempty,gte=2,lte=10"`
	WindowSize         int     `json:"window_size" validate:"omitempty,gte=5,lte=365"`
	MinBaselinePeriods int     `json:"min_baseline_periods" validate:"omitempty,gte=3,lte=100"`
	Freq               string  `json:"freq" validate:"omitempty,oneof=1D 1W 1M"`
	MinStd             float64 `json:"min_std" validate:"omitempty,gte=0.01,lte=1"`
	AdminLevel         int     `json:"admin_level" validate:"gte=0,lte=5"`
	MinAlertLevel      int     `json:"min_alert_level" validate:"omitempty,gte=1,lte=4"`
	AggregationFunc    string  `json:"aggregation_func" validate:"omitempty,oneof=mean sum max min std count"`
	CauseVariableCode  string  `json:"cause_variable_code"`
}

var alertLevelNames = map[int]string{0: "No Alert", 1: "Low", 2: "Medium", 3: "High", 4: "Critical"}

func NewZScore(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	zc := zscoreConfig{
		Threshold1:         1.5,
		Threshold2:         2.0,
		Threshold3:         2.5,
		Threshold4:         3.0,
		WindowSize:         30,
		MinBaselinePeriods: 7,
		Freq:               "1D",
		MinStd:             0.1,
		AdminLevel:         2,
		MinAlertLevel:      1,
		AggregationFunc:    "mean",
	}
	if err := decodeConfig(cfg.Configuration, &zc); err != nil {
		return nil, err
	}
	if err := validateConfig(zc); err != nil {
		return nil, err
	}
	return &ZScore{cfg: zc, readings: deps.Readings}, nil
}

func (d *ZScore) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	log.Printf("Starting Z-score anomaly detection: variable=%s window_size=%d thresholds=[%.1f %.1f %.1f %.1f]",
		d.cfg.VariableCode, d.cfg.WindowSize, d.cfg.Threshold1, d.cfg.Threshold2, d.cfg.Threshold3, d.cfg.Threshold4)

	// Extend the load window backwards so the earliest observations in
	// the analysis window still have baseline history behind them.
	extendedStart := start.AddDate(0, 0, -(d.cfg.WindowSize + 30))
	readings, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &extendedStart,
		End:          &end,
		AdminLevel:   &d.cfg.AdminLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	if len(readings) == 0 {
		log.Printf("No data found for Z-score analysis")
		return nil, nil
	}

	var out []Candidate
	processed := 0
	for _, s := range resample(readings, d.cfg.Freq, d.cfg.AggregationFunc) {
		values := make([]float64, len(s.Points))
		for i, p := range s.Points {
			values[i] = p.Value
		}

		for i, p := range s.Points {
			processed++
			b := rollingBaseline(values, i, d.cfg.WindowSize, d.cfg.MinStd)
			z := (p.Value - b.Mean) / b.Std
			absZ := math.Abs(z)

			level := 0
			if b.Periods >= d.cfg.MinBaselinePeriods {
				switch {
				case absZ >= d.cfg.Threshold4:
					level = 4
				case absZ >= d.cfg.Threshold3:
					level = 3
				case absZ >= d.cfg.Threshold2:
					level = 2
				case absZ >= d.cfg.Threshold1:
					level = 1
				}
			}
			if level < d.cfg.MinAlertLevel {
				continue
			}
			if p.Period.Before(start) || p.Period.After(end) {
				continue
			}
			out = append(out, d.buildCandidate(ctx, s, p, b, z, level))
		}
	}

	log.Printf("Z-score anomaly detection completed: detections=%d observations=%d", len(out), processed)
	return out, nil
}

func (d *ZScore) buildCandidate(ctx context.Context, s series, p point, b baseline, z float64, level int) Candidate {
	absZ := math.Abs(z)

	// Confidence grows with deviation magnitude, discounted by how much
	// of the baseline window is actually populated.
	base := clamp((absZ-1.0)/4.0, 0.1, 0.95)
	baselineFactor := math.Min(1.0, float64(b.Periods)/float64(d.cfg.WindowSize))
	confidence := base * baselineFactor

	direction := "above_baseline"
	title := fmt.Sprintf("Anomalous increase (Level %d) in %s", level, s.LocationName)
	if z <= 0 {
		direction = "below_baseline"
		title = fmt.Sprintf("Anomalous decrease (Level %d) in %s", level, s.LocationName)
	}

	percentDeviation := round((p.Value-b.Mean)/math.Max(b.Mean, 0.01)*100, 2)

	thresholdExceeded := 0.0
	switch level {
	case 1:
		thresholdExceeded = d.cfg.Threshold1
	case 2:
		thresholdExceeded = d.cfg.Threshold2
	case 3:
		thresholdExceeded = d.cfg.Threshold3
	case 4:
		thresholdExceeded = d.cfg.Threshold4
	}

	log.Printf("Z-score anomaly detected in %s: level=%d zscore=%.5f value=%.2f baseline_mean=%.5f confidence=%.3f",
		s.LocationName, level, z, p.Value, b.Mean, confidence)

	return Candidate{
		Title:      title,
		Timestamp:  p.Period,
		Confidence: confidence,
		Category:   d.lookupCategory(ctx, s.LocationID, p.Period),
		Locations:  []models.LocationRef{{ID: s.LocationID, Name: s.LocationName, AdminLevel: s.AdminLevel}},
		Data: map[string]any{
			"variable_code":        d.cfg.VariableCode,
			"zscore":               round(z, 5),
			"zscore_abs":           round(absZ, 5),
			"alert_level":          level,
			"alert_level_name":     alertLevelNames[level],
			"baseline_mean":        round(b.Mean, 5),
			"baseline_std":         round(b.Std, 5),
			"baseline_periods":     b.Periods,
			"current_value":        p.Value,
			"percent_deviation":    percentDeviation,
			"threshold_exceeded":   thresholdExceeded,
			"aggregation_func":     d.cfg.AggregationFunc,
			"alert_direction":      direction,
			"window_size":          d.cfg.WindowSize,
			"min_baseline_periods": d.cfg.MinBaselinePeriods,
		},
	}
}

// lookupCategory resolves the alert category from a secondary cause
// variable (reported reason text) for the same location and period.
// Missing or unresolvable causes fall through to the default category.
func (d *ZScore) lookupCategory(ctx context.Context, locationID string, period time.Time) string {
	if d.cfg.CauseVariableCode == "" {
		return categorize("")
	}
	causes, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.CauseVariableCode,
		Start:        &period,
		End:          &period,
		LocationIDs:  []string{locationID},
		Limit:        1,
	})
	if err != nil {
		log.Printf("Failed to load cause variable %s: %v", d.cfg.CauseVariableCode, err)
		return categorize("")
	}
	if len(causes) == 0 {
		return categorize("")
	}
	return categorize(causes[0].Text)
}

func zscoreSchema() Schema {
	return Schema{
		Title: "Z-Score Detector Configuration",
		Fields: map[string]Field{
			"variable_code":        {Type: TypeString, Required: true, Description: "Variable code for the data to analyze"},
			"zscore_threshold_1":   {Type: TypeNumber, Min: bound(0.5), Max: bound(5), Default: 1.5, Description: "Z-score threshold for Low alert (Level 1)"},
			"zscore_threshold_2":   {Type: TypeNumber, Min: bound(1), Max: bound(5), Default: 2.0, Description: "Z-score threshold for Medium alert (Level 2)"},
			"zscore_threshold_3":   {Type: TypeNumber, Min: bound(1.5), Max: bound(5), Default: 2.5, Description: "Z-score threshold for High alert (Level 3)"},
			"zscore_threshold_4":   {Type: TypeNumber, Min: bound(2), Max: bound(10), Default: 3.0, Description: "Z-score threshold for Critical alert (Level 4)"},
			"window_size":          {Type: TypeInteger, Min: bound(5), Max: bound(365), Default: 30, Description: "Number of periods for the rolling baseline window"},
			"min_baseline_periods": {Type: TypeInteger, Min: bound(3), Max: bound(100), Default: 7, Description: "Minimum prior periods required before alerting"},
			"freq":                 {Type: TypeString, Enum: []string{"1D", "1W", "1M"}, Default: "1D", Description: "Data aggregation frequency"},
			"min_std":              {Type: TypeNumber, Min: bound(0.01), Max: bound(1), Default: 0.1, Description: "Standard deviation floor to prevent division by zero"},
			"admin_level":          {Type: TypeInteger, Min: bound(0), Max: bound(5), Default: 2, Description: "Administrative level for analysis"},
			"min_alert_level":      {Type: TypeInteger, Min: bound(1), Max: bound(4), Default: 1, Description: "Minimum alert level to include in detections"},
			"aggregation_func":     {Type: TypeString, Enum: []string{"mean", "sum", "max", "min", "std", "count"}, Default: "mean", Description: "Aggregation function for resampling"},
			"cause_variable_code":  {Type: TypeString, Description: "Secondary variable whose text reports the event cause"},
		},
	}
}
