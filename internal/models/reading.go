package models

import "time"

// Reading is one time-indexed observation of a monitored variable for a
// location. Readings come from the external variable store and are
// read-only in this service.
type Reading struct {
	VariableCode string         `json:"variable_code"`
	VariableName string         `json:"variable_name,omitempty"`
	LocationID   string         `json:"location_id"`
	LocationName string         `json:"location_name,omitempty"`
	AdminLevel   int            `json:"admin_level"`
	Start        time.Time      `json:"start_date"`
	End          time.Time      `json:"end_date"`
	Value        float64        `json:"value"`
	Text         string         `json:"text,omitempty"` // qualitative attribute, e.g. a reported cause
	Raw          map[string]any `json:"raw_data,omitempty"`
}

// EventTime is the timestamp a detection derived from this reading
// should carry. Start is preferred; some sources only report an end date.
func (r *Reading) EventTime() time.Time {
	if !r.Start.IsZero() {
		return r.Start
	}
	return r.End
}
