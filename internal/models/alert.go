package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert is the operator-visible product of a processed detection.
type Alert struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	Category   string        `json:"category,omitempty"`
	EventDate  time.Time     `json:"event_date"`
	Severity   int           `json:"severity"` // 1 (minimal) .. 5 (critical)
	Locations  []LocationRef `json:"locations"`
	Source     string        `json:"source"`
	Confidence float64       `json:"confidence_score"`
	ValidFrom  time.Time     `json:"valid_from"`
	ValidUntil time.Time     `json:"valid_until"`
	CreatedAt  time.Time     `json:"created_at"`
}

func NewAlert() *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:        uuid.NewString(),
		Severity:  3,
		ValidFrom: now,
		CreatedAt: now,
	}
}
