package models

import "time"

// DetectorConfig is the operator-managed configuration for one detector
// instance. The orchestrator updates the run statistics after every
// execution; the surrounding system owns creation and deletion.
type DetectorConfig struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Variant       string         `json:"variant"` // registry key, e.g. "threshold", "zscore"
	Active        bool           `json:"active"`
	Configuration map[string]any `json:"configuration"`

	LastRun        time.Time `json:"last_run,omitzero"`
	RunCount       int       `json:"run_count"`
	DetectionCount int       `json:"detection_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeduplicationDisabled reports whether the operator opted this detector
// out of the deduplication pass.
func (c *DetectorConfig) DeduplicationDisabled() bool {
	if c.Configuration == nil {
		return false
	}
	disabled, _ := c.Configuration["disable_deduplication"].(bool)
	return disabled
}

// RecordRun updates the run statistics after a completed execution.
func (c *DetectorConfig) RecordRun(startedAt time.Time, detectionsCreated int) {
	c.LastRun = startedAt
	c.RunCount++
	c.DetectionCount += detectionsCreated
	c.UpdatedAt = time.Now().UTC()
}

// AverageDetectionsPerRun is an operator-facing performance metric.
func (c *DetectorConfig) AverageDetectionsPerRun() float64 {
	if c.RunCount == 0 {
		return 0
	}
	return float64(c.DetectionCount) / float64(c.RunCount)
}
