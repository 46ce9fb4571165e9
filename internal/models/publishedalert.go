package models

import (
	"time"

	"github.com/google/uuid"
)

// PublishStatus tracks one alert's publication to one external system.
type PublishStatus string

const (
	PublishPending   PublishStatus = "pending"
	PublishPublished PublishStatus = "published"
	PublishFailed    PublishStatus = "failed"
	PublishUpdated   PublishStatus = "updated"
	PublishCancelled PublishStatus = "cancelled"
)

// PublishedAlert records the publication of a detection to one external
// system in one language. (DetectionID, APIName, Language) is unique;
// transitions are one-way except failed -> published on retry.
type PublishedAlert struct {
	ID          string         `json:"id"`
	DetectionID string         `json:"detection_id"`
	TemplateID  string         `json:"template_id,omitempty"`
	APIName     string         `json:"api_name"`
	ExternalID  string         `json:"external_id,omitempty"`
	Language    string         `json:"language"`
	Status      PublishStatus  `json:"status"`
	PublishedAt time.Time      `json:"published_at,omitzero"`
	LastUpdated time.Time      `json:"last_updated,omitzero"`
	CancelledAt time.Time      `json:"cancelled_at,omitzero"`
	CancelReason string        `json:"cancellation_reason,omitempty"`
	Metadata    map[string]any `json:"publication_metadata,omitempty"`
	LastError   string         `json:"error_message,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewPublishedAlert(detectionID, templateID, apiName, language string) *PublishedAlert {
	return &PublishedAlert{
		ID:          uuid.NewString(),
		DetectionID: detectionID,
		TemplateID:  templateID,
		APIName:     apiName,
		Language:    language,
		Status:      PublishPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// MarkPublished records a successful publication and the external id
// assigned by the remote system.
func (p *PublishedAlert) MarkPublished(externalID string, response map[string]any) {
	p.ExternalID = externalID
	p.Status = PublishPublished
	p.PublishedAt = time.Now().UTC()
	if response != nil {
		p.Metadata = response
	}
}

// MarkFailed records a failed attempt and bumps the retry counter.
func (p *PublishedAlert) MarkFailed(errMsg string) {
	p.Status = PublishFailed
	p.LastError = errMsg
	p.RetryCount++
}

// MarkUpdated records a successful update in the external system.
func (p *PublishedAlert) MarkUpdated(response map[string]any) {
	p.Status = PublishUpdated
	p.LastUpdated = time.Now().UTC()
	if response != nil {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any)
		}
		for k, v := range response {
			p.Metadata[k] = v
		}
	}
}

// MarkCancelled records cancellation in the external system.
func (p *PublishedAlert) MarkCancelled(reason string) {
	p.Status = PublishCancelled
	p.CancelledAt = time.Now().UTC()
	p.CancelReason = reason
}
