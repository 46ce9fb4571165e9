// Package detector defines the detection contract and the built-in
// detector variants. A detector scans observational readings over a time
// window and yields candidate detections; everything downstream
// (persistence, deduplication, alerting) is the task runner's job.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Candidate is a raw detection produced by a variant before it is
// persisted. The runner turns candidates into models.Detection records.
type Candidate struct {
	Title      string
	Timestamp  time.Time
	Confidence float64
	Category   string
	Locations  []models.LocationRef
	Data       map[string]any
}

// Deps carries the external resources variants may need. Scorers is only
// used by the classifier variant and may be nil for everything else.
type Deps struct {
	Readings store.ReadingSource
	Scorers  *ScorerCache
}

type Detector interface {
	Detect(ctx context.Context, start, end time.Time) ([]Candidate, error)
}

// Factory builds a detector from its stored configuration. Factories
// must reject invalid configuration here, not at detect time.
type Factory func(cfg *models.DetectorConfig, deps Deps) (Detector, error)

// Registry maps variant names to factories and their configuration
// schemas. Lookups for unregistered variants fail loudly so a typo in a
// stored detector config is caught at run dispatch, not silently
// skipped.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	factory Factory
	schema  Schema
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// DefaultRegistry returns a registry with all built-in variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(VariantPassthrough, NewPassthrough, passthroughSchema())
	r.Register(VariantThreshold, NewThreshold, thresholdSchema())
	r.Register(VariantZScore, NewZScore, zscoreSchema())
	r.Register(VariantSurge, NewSurge, surgeSchema())
	r.Register(VariantClassifier, NewClassifier, classifierSchema())
	r.Register(VariantScenario, NewScenario, scenarioSchema())
	return r
}

const (
	VariantPassthrough = "passthrough"
	VariantThreshold   = "threshold"
	VariantZScore      = "zscore"
	VariantSurge       = "surge"
	VariantClassifier  = "classifier"
	VariantScenario    = "scenario"
)

func (r *Registry) Register(variant string, f Factory, s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[variant] = registryEntry{factory: f, schema: s}
}

// New builds a detector for the given stored configuration.
func (r *Registry) New(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	r.mu.RLock()
	e, ok := r.entries[cfg.Variant]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("variant %q: %w", cfg.Variant, ErrUnknownVariant)
	}
	det, err := e.factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("detector %s (%s): %w", cfg.Name, cfg.Variant, err)
	}
	return det, nil
}

// Schema returns the configuration schema for a variant.
func (r *Registry) Schema(variant string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[variant]
	return e.schema, ok
}

// ValidateConfig checks a raw configuration map against the variant's
// schema. Unknown variants and unknown configuration keys are errors.
func (r *Registry) ValidateConfig(variant string, raw map[string]any) error {
	s, ok := r.Schema(variant)
	if !ok {
		return fmt.Errorf("variant %q: %w", variant, ErrUnknownVariant)
	}
	return s.Validate(raw)
}

func (r *Registry) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for v := range r.entries {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
