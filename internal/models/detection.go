package models

import (
	"time"

	"github.com/google/uuid"
)

// DetectionStatus tracks the processing lifecycle of a detection.
type DetectionStatus string

const (
	StatusPending   DetectionStatus = "pending"
	StatusProcessed DetectionStatus = "processed"
	StatusDismissed DetectionStatus = "dismissed"
)

// Detection is a candidate event produced by a detector run. It stays
// pending until the alert pass either generates an alert (processed) or
// drops it (dismissed). Duplicates are dismissed with a back-reference
// to the original.
type Detection struct {
	ID           string          `json:"id"`
	DetectorID   string          `json:"detector_id"`
	DetectorName string          `json:"detector_name"`
	Title        string          `json:"title"`
	Timestamp    time.Time       `json:"detection_timestamp"` // when the detected event occurred
	Confidence   float64         `json:"confidence_score"`
	Category     string          `json:"category,omitempty"`
	Locations    []LocationRef   `json:"locations"`
	Data         map[string]any  `json:"detection_data"`
	Status       DetectionStatus `json:"status"`
	AlertID      string          `json:"alert_id,omitempty"`
	DuplicateOf  string          `json:"duplicate_of,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  time.Time       `json:"processed_at,omitzero"`
}

func NewDetection(detectorID, detectorName string) *Detection {
	return &Detection{
		ID:           uuid.NewString(),
		DetectorID:   detectorID,
		DetectorName: detectorName,
		Status:       StatusPending,
		Data:         make(map[string]any),
		CreatedAt:    time.Now().UTC(),
	}
}

// IsDuplicate reports whether this detection has been linked to an original.
func (d *Detection) IsDuplicate() bool {
	return d.DuplicateOf != ""
}

// LocationIDs returns the IDs of all affected locations.
func (d *Detection) LocationIDs() []string {
	ids := make([]string, len(d.Locations))
	for i, loc := range d.Locations {
		ids[i] = loc.ID
	}
	return ids
}

// MarkProcessed transitions the detection to processed, recording the
// generated alert when one was created.
func (d *Detection) MarkProcessed(alertID string) {
	d.Status = StatusProcessed
	d.ProcessedAt = time.Now().UTC()
	if alertID != "" {
		d.AlertID = alertID
	}
}

// MarkDismissed transitions the detection to dismissed without an alert.
func (d *Detection) MarkDismissed() {
	d.Status = StatusDismissed
	d.ProcessedAt = time.Now().UTC()
}

// MarkDuplicate dismisses the detection and links it to the original.
// A detection with a duplicate reference is always dismissed.
func (d *Detection) MarkDuplicate(originalID string) {
	d.DuplicateOf = originalID
	d.Status = StatusDismissed
	d.ProcessedAt = time.Now().UTC()
}
