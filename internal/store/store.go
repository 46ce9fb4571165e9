package store

import (
	"context"
	"errors"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("store not connected")
)

// ReadingQuery filters the variable reading source. When both Start and
// End are nil the source returns latest-first; otherwise chronological.
type ReadingQuery struct {
	VariableCode string
	Start        *time.Time
	End          *time.Time
	LocationIDs  []string
	AdminLevel   *int
	Limit        int
}

// ReadingSource is the read-only view of the external variable store.
type ReadingSource interface {
	GetReadings(ctx context.Context, q ReadingQuery) ([]models.Reading, error)
}

// DetectorStore manages detector configurations. The core never deletes
// them; it only reads configs and writes back run statistics.
type DetectorStore interface {
	GetDetector(ctx context.Context, id string) (*models.DetectorConfig, error)
	UpdateDetector(ctx context.Context, cfg *models.DetectorConfig) error
	ListDetectors(ctx context.Context, activeOnly bool) ([]*models.DetectorConfig, error)
}

// DetectionStore persists detections and serves the queries the
// deduplication engine and the alert pass depend on.
type DetectionStore interface {
	CreateDetection(ctx context.Context, d *models.Detection) error
	UpdateDetection(ctx context.Context, d *models.Detection) error
	GetDetection(ctx context.Context, id string) (*models.Detection, error)

	// ListPendingDetections returns pending, non-duplicate detections in
	// creation order, up to limit (0 = no limit).
	ListPendingDetections(ctx context.Context, limit int) ([]*models.Detection, error)

	// ListPendingByDetector returns pending, non-duplicate detections of
	// one detector whose event timestamp falls in [from, to], in creation
	// order.
	ListPendingByDetector(ctx context.Context, detectorID string, from, to time.Time) ([]*models.Detection, error)
}

// AlertStore persists generated alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
}

// PublishedAlertStore tracks publications to external systems.
type PublishedAlertStore interface {
	CreatePublishedAlert(ctx context.Context, p *models.PublishedAlert) error
	UpdatePublishedAlert(ctx context.Context, p *models.PublishedAlert) error
	GetPublishedAlert(ctx context.Context, id string) (*models.PublishedAlert, error)

	// FindPublishedAlert looks up the unique (detection, api, language) record.
	FindPublishedAlert(ctx context.Context, detectionID, apiName, language string) (*models.PublishedAlert, error)

	// ListPublishedSince returns alerts published after the cutoff with a
	// recorded external id, for status monitoring.
	ListPublishedSince(ctx context.Context, cutoff time.Time) ([]*models.PublishedAlert, error)
}

// LocationHierarchy answers ancestor/descendant questions for the
// geographic duplicate check. Implementations may return ErrUnavailable
// when no hierarchy data exists; callers treat that as "unrelated".
type LocationHierarchy interface {
	IsAncestor(ctx context.Context, ancestorID, descendantID string) (bool, error)
}

// ErrUnavailable signals that hierarchy data cannot be consulted.
var ErrUnavailable = errors.New("location hierarchy unavailable")

// Store is the full persistence surface the pipeline needs.
type Store interface {
	ReadingSource
	DetectorStore
	DetectionStore
	AlertStore
	PublishedAlertStore
	LocationHierarchy
}
