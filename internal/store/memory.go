package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
)

// Memory is an in-process Store used in tests and single-node dev runs.
// All methods are safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	readings   []models.Reading
	detectors  map[string]*models.DetectorConfig
	detections map[string]*models.Detection
	// creation order of detection IDs, so dedup sees candidates in the
	// order they were produced
	detectionOrder []string
	alerts         map[string]*models.Alert
	published      map[string]*models.PublishedAlert
	locations      map[string]*models.Location
}

func NewMemory() *Memory {
	return &Memory{
		detectors:  make(map[string]*models.DetectorConfig),
		detections: make(map[string]*models.Detection),
		alerts:     make(map[string]*models.Alert),
		published:  make(map[string]*models.PublishedAlert),
		locations:  make(map[string]*models.Location),
	}
}

// AddReading seeds the reading source. Test helper; the core never
// writes readings.
func (m *Memory) AddReading(r models.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
}

// AddLocation seeds the administrative hierarchy.
func (m *Memory) AddLocation(l models.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := l
	m.locations[l.ID] = &loc
}

// PutDetector seeds or replaces a detector configuration.
func (m *Memory) PutDetector(cfg *models.DetectorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.detectors[cfg.ID] = &c
}

func (m *Memory) GetReadings(_ context.Context, q ReadingQuery) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings {
		if r.VariableCode != q.VariableCode {
			continue
		}
		if q.AdminLevel != nil && r.AdminLevel != *q.AdminLevel {
			continue
		}
		if len(q.LocationIDs) > 0 && !containsString(q.LocationIDs, r.LocationID) {
			continue
		}
		// Window overlap semantics: a reading matches when its own span
		// intersects the requested window.
		if q.Start != nil && q.End != nil {
			if r.Start.After(*q.End) || r.End.Before(*q.Start) {
				continue
			}
		} else if q.Start != nil {
			if r.End.Before(*q.Start) {
				continue
			}
		} else if q.End != nil {
			if r.Start.After(*q.End) {
				continue
			}
		}
		out = append(out, r)
	}

	if q.Start == nil && q.End == nil {
		// Latest first when no window is given.
		sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) GetDetector(_ context.Context, id string) (*models.DetectorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.detectors[id]
	if !ok {
		return nil, fmt.Errorf("detector %s: %w", id, ErrNotFound)
	}
	c := *cfg
	return &c, nil
}

func (m *Memory) UpdateDetector(_ context.Context, cfg *models.DetectorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.detectors[cfg.ID]; !ok {
		return fmt.Errorf("detector %s: %w", cfg.ID, ErrNotFound)
	}
	c := *cfg
	m.detectors[cfg.ID] = &c
	return nil
}

func (m *Memory) ListDetectors(_ context.Context, activeOnly bool) ([]*models.DetectorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.DetectorConfig
	for _, cfg := range m.detectors {
		if activeOnly && !cfg.Active {
			continue
		}
		c := *cfg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateDetection(_ context.Context, d *models.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.detections[d.ID]; ok {
		return fmt.Errorf("detection %s already exists", d.ID)
	}
	c := cloneDetection(d)
	m.detections[d.ID] = c
	m.detectionOrder = append(m.detectionOrder, d.ID)
	return nil
}

func (m *Memory) UpdateDetection(_ context.Context, d *models.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.detections[d.ID]; !ok {
		return fmt.Errorf("detection %s: %w", d.ID, ErrNotFound)
	}
	m.detections[d.ID] = cloneDetection(d)
	return nil
}

func (m *Memory) GetDetection(_ context.Context, id string) (*models.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.detections[id]
	if !ok {
		return nil, fmt.Errorf("detection %s: %w", id, ErrNotFound)
	}
	return cloneDetection(d), nil
}

func (m *Memory) ListPendingDetections(_ context.Context, limit int) ([]*models.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Detection
	for _, id := range m.detectionOrder {
		d := m.detections[id]
		if d.Status != models.StatusPending || d.IsDuplicate() {
			continue
		}
		out = append(out, cloneDetection(d))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListPendingByDetector(_ context.Context, detectorID string, from, to time.Time) ([]*models.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Detection
	for _, id := range m.detectionOrder {
		d := m.detections[id]
		if d.DetectorID != detectorID || d.Status != models.StatusPending || d.IsDuplicate() {
			continue
		}
		if d.Timestamp.Before(from) || d.Timestamp.After(to) {
			continue
		}
		out = append(out, cloneDetection(d))
	}
	return out, nil
}

func (m *Memory) CreateAlert(_ context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.alerts[a.ID] = &c
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (m *Memory) CreatePublishedAlert(_ context.Context, p *models.PublishedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.published {
		if existing.DetectionID == p.DetectionID && existing.APIName == p.APIName && existing.Language == p.Language {
			return fmt.Errorf("published alert for detection %s on %s (%s) already exists", p.DetectionID, p.APIName, p.Language)
		}
	}
	c := *p
	m.published[p.ID] = &c
	return nil
}

func (m *Memory) UpdatePublishedAlert(_ context.Context, p *models.PublishedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.published[p.ID]; !ok {
		return fmt.Errorf("published alert %s: %w", p.ID, ErrNotFound)
	}
	c := *p
	m.published[p.ID] = &c
	return nil
}

func (m *Memory) GetPublishedAlert(_ context.Context, id string) (*models.PublishedAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.published[id]
	if !ok {
		return nil, fmt.Errorf("published alert %s: %w", id, ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (m *Memory) FindPublishedAlert(_ context.Context, detectionID, apiName, language string) (*models.PublishedAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.published {
		if p.DetectionID == detectionID && p.APIName == apiName && p.Language == language {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListPublishedSince(_ context.Context, cutoff time.Time) ([]*models.PublishedAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PublishedAlert
	for _, p := range m.published {
		if p.Status == models.PublishPublished && p.ExternalID != "" && p.PublishedAt.After(cutoff) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

func (m *Memory) IsAncestor(_ context.Context, ancestorID, descendantID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.locations) == 0 {
		return false, ErrUnavailable
	}
	seen := make(map[string]struct{})
	current := descendantID
	for current != "" {
		if _, ok := seen[current]; ok {
			break // cycle guard
		}
		seen[current] = struct{}{}
		loc, ok := m.locations[current]
		if !ok {
			break
		}
		if loc.ParentID == ancestorID {
			return true, nil
		}
		current = loc.ParentID
	}
	return false, nil
}

func cloneDetection(d *models.Detection) *models.Detection {
	c := *d
	c.Locations = append([]models.LocationRef(nil), d.Locations...)
	if d.Data != nil {
		c.Data = make(map[string]any, len(d.Data))
		for k, v := range d.Data {
			c.Data[k] = v
		}
	}
	return &c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
