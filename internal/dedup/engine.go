// Package dedup suppresses redundant detections before they generate
// alerts. Three checks run in order and short-circuit on the first
// match: exact (same detector, timestamp, and location set), temporal
// (same detector and category within a proximity window with majority
// location overlap), and geographic (same detector and category in
// hierarchically related locations within a day).
package dedup

import (
	"context"
	"log"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

const (
	temporalProximity  = 6 * time.Hour
	temporalMinOverlap = 0.5
	geographicLookback = 24 * time.Hour
)

// Engine runs duplicate checks against the detection store. Locks is
// optional: when present, duplicate resolution is serialized per
// (detector, time-bucket) so concurrent runs cannot both pass the exact
// check.
type Engine struct {
	detections store.DetectionStore
	hierarchy  store.LocationHierarchy
	locks      *Locks
}

func NewEngine(detections store.DetectionStore, hierarchy store.LocationHierarchy, locks *Locks) *Engine {
	return &Engine{detections: detections, hierarchy: hierarchy, locks: locks}
}

// IsDuplicate reports whether the detection duplicates an existing
// pending detection, marking and persisting the link when it does.
// Internal errors fail open: a detection is never suppressed because a
// check could not run.
func (e *Engine) IsDuplicate(ctx context.Context, detection *models.Detection, cfg *models.DetectorConfig) bool {
	if cfg.DeduplicationDisabled() {
		log.Printf("Deduplication disabled for detector %s, allowing detection %s", cfg.Name, detection.ID)
		return false
	}
	if len(detection.Locations) == 0 {
		return false
	}

	if e.locks != nil {
		release, err := e.locks.Acquire(ctx, detection.DetectorID, detection.Timestamp)
		if err != nil {
			log.Printf("Warning: dedup lock unavailable for detection %s: %v", detection.ID, err)
		} else {
			defer release()
		}
	}

	original := e.findExact(ctx, detection)
	if original == nil {
		original = e.findTemporal(ctx, detection)
	}
	if original == nil {
		original = e.findGeographic(ctx, detection)
	}
	if original == nil {
		if e.locks != nil {
			// Not a duplicate: index the fingerprint so a concurrent
			// run's exact check can see it before the store write is
			// visible everywhere.
			if err := e.locks.RegisterDetection(ctx, detection); err != nil {
				log.Printf("Warning: failed to index detection %s: %v", detection.ID, err)
			}
		}
		return false
	}

	log.Printf("Duplicate found for detection %s (original %s)", detection.ID, original.ID)
	detection.MarkDuplicate(original.ID)
	if err := e.detections.UpdateDetection(ctx, detection); err != nil {
		log.Printf("Failed to persist duplicate link for detection %s: %v", detection.ID, err)
	}
	return true
}

func (e *Engine) findExact(ctx context.Context, detection *models.Detection) *models.Detection {
	// Cheap fingerprint pre-check against the shared index.
	if e.locks != nil {
		if id, err := e.locks.SeenExact(ctx, detection); err == nil && id != "" && id != detection.ID {
			if original, err := e.detections.GetDetection(ctx, id); err == nil &&
				original.Status == models.StatusPending && !original.IsDuplicate() {
				return original
			}
		}
	}

	candidates, err := e.pendingCandidates(ctx, detection, detection.Timestamp, detection.Timestamp)
	if err != nil {
		log.Printf("Exact duplicate check failed for detection %s: %v", detection.ID, err)
		return nil
	}

	want := models.LocationSet(detection.Locations)
	for _, c := range candidates {
		if !c.Timestamp.Equal(detection.Timestamp) {
			continue
		}
		if sameLocationSet(want, models.LocationSet(c.Locations)) {
			return c
		}
	}
	return nil
}

func (e *Engine) findTemporal(ctx context.Context, detection *models.Detection) *models.Detection {
	from := detection.Timestamp.Add(-temporalProximity)
	to := detection.Timestamp.Add(temporalProximity)

	candidates, err := e.pendingCandidates(ctx, detection, from, to)
	if err != nil {
		log.Printf("Temporal duplicate check failed for detection %s: %v", detection.ID, err)
		return nil
	}

	want := models.LocationSet(detection.Locations)
	for _, c := range candidates {
		if c.Category != detection.Category {
			continue
		}
		if jaccard(want, models.LocationSet(c.Locations)) >= temporalMinOverlap {
			return c
		}
	}
	return nil
}

func (e *Engine) findGeographic(ctx context.Context, detection *models.Detection) *models.Detection {
	from := detection.Timestamp.Add(-geographicLookback)

	candidates, err := e.pendingCandidates(ctx, detection, from, detection.Timestamp.Add(geographicLookback))
	if err != nil {
		log.Printf("Geographic duplicate check failed for detection %s: %v", detection.ID, err)
		return nil
	}

	for _, c := range candidates {
		if c.Category != detection.Category {
			continue
		}
		if e.hierarchicallyRelated(ctx, detection.Locations, c.Locations) {
			return c
		}
	}
	return nil
}

func (e *Engine) pendingCandidates(ctx context.Context, detection *models.Detection, from, to time.Time) ([]*models.Detection, error) {
	candidates, err := e.detections.ListPendingByDetector(ctx, detection.DetectorID, from, to)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID != detection.ID {
			out = append(out, c)
		}
	}
	return out, nil
}

// hierarchicallyRelated reports whether any location pair across the
// two sets is in an ancestor/descendant relationship. When hierarchy
// data is unavailable the locations are treated as unrelated.
func (e *Engine) hierarchicallyRelated(ctx context.Context, a, b []models.LocationRef) bool {
	if e.hierarchy == nil {
		return false
	}
	for _, la := range a {
		for _, lb := range b {
			if la.ID == lb.ID {
				continue
			}
			up, err := e.hierarchy.IsAncestor(ctx, la.ID, lb.ID)
			if err != nil {
				log.Printf("Hierarchy lookup failed for %s/%s: %v", la.ID, lb.ID, err)
				continue
			}
			if up {
				return true
			}
			down, err := e.hierarchy.IsAncestor(ctx, lb.ID, la.ID)
			if err != nil {
				log.Printf("Hierarchy lookup failed for %s/%s: %v", lb.ID, la.ID, err)
				continue
			}
			if down {
				return true
			}
		}
	}
	return false
}

func sameLocationSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// jaccard is intersection over union of two location ID sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var intersection int
	for id := range a {
		if _, ok := b[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
