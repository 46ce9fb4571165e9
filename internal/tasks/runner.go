// Package tasks is the asynchronous execution layer: detector runs,
// pending-detection processing, and alert publication, each an
// independent unit of work with explicit retry/backoff state.
package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earlywatch/sentinel/internal/alert"
	"github.com/earlywatch/sentinel/internal/dedup"
	"github.com/earlywatch/sentinel/internal/detector"
	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

const defaultRunWindow = 7 * 24 * time.Hour

// Events receives pipeline lifecycle notifications. Implementations
// must not block; a nil Events disables notification.
type Events interface {
	DetectionCreated(ctx context.Context, d *models.Detection)
	AlertPublished(ctx context.Context, p *models.PublishedAlert)
}

// Runner executes the pipeline's units of work.
type Runner struct {
	store     store.Store
	registry  *detector.Registry
	deps      detector.Deps
	dedup     *dedup.Engine
	generator *alert.Generator
	publisher *alert.Publisher
	events    Events
	pool      *Pool
	results   sync.Map // task ID -> RunResult

	runPolicy     RetryPolicy
	publishPolicy RetryPolicy
	updatePolicy  RetryPolicy
	cancelPolicy  RetryPolicy

	sleep sleeper
	now   func() time.Time
}

func NewRunner(st store.Store, registry *detector.Registry, deps detector.Deps, dd *dedup.Engine, gen *alert.Generator, pub *alert.Publisher) *Runner {
	return &Runner{
		store:         st,
		registry:      registry,
		deps:          deps,
		dedup:         dd,
		generator:     gen,
		publisher:     pub,
		runPolicy:     runRetryPolicy,
		publishPolicy: publishRetryPolicy,
		updatePolicy:  updateRetryPolicy,
		cancelPolicy:  cancelRetryPolicy,
		sleep:         defaultSleep,
		now:           time.Now,
	}
}

// WithEvents attaches a lifecycle event sink.
func (r *Runner) WithEvents(e Events) *Runner {
	r.events = e
	return r
}

// WithPool attaches a worker pool for async dispatch.
func (r *Runner) WithPool(p *Pool) *Runner {
	r.pool = p
	return r
}

// RunResult is the outcome of one detector run task, including every
// retry attempt.
type RunResult struct {
	DetectorID           string    `json:"detector_id"`
	TaskID               string    `json:"task_id"`
	Mode                 string    `json:"execution_mode"`
	Success              bool      `json:"success"`
	Attempts             int       `json:"attempts"`
	DetectionsCreated    int       `json:"detections_created"`
	DetectionsDuplicates int       `json:"detections_duplicates"`
	AlertsCreated        int       `json:"alerts_created"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
}

// RunDetector executes a detector over the given window, retrying
// transient failures with exponential backoff. A nil start/end defaults
// to the last seven days. Fatal errors (unknown or inactive detector,
// bad configuration) fail immediately.
func (r *Runner) RunDetector(ctx context.Context, detectorID string, start, end *time.Time) RunResult {
	result := RunResult{
		DetectorID: detectorID,
		TaskID:     uuid.NewString(),
		Mode:       "sync",
		StartTime:  r.now().UTC(),
	}

	endTime := r.now().UTC()
	if end != nil {
		endTime = *end
	}
	startTime := endTime.Add(-defaultRunWindow)
	if start != nil {
		startTime = *start
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		err := r.runOnce(ctx, detectorID, startTime, endTime, &result)
		if err == nil {
			result.Success = true
			result.EndTime = r.now().UTC()
			return result
		}

		result.ErrorMessage = err.Error()
		if isFatal(err) || attempt+1 >= r.runPolicy.MaxAttempts || ctx.Err() != nil {
			log.Printf("Detector execution failed: detector=%s attempts=%d error=%v", detectorID, result.Attempts, err)
			result.EndTime = r.now().UTC()
			return result
		}

		delay := r.runPolicy.Backoff(attempt)
		log.Printf("Retrying detector execution: detector=%s attempt=%d backoff=%s error=%v", detectorID, attempt+1, delay, err)
		if err := r.sleep(ctx, delay); err != nil {
			result.ErrorMessage = err.Error()
			result.EndTime = r.now().UTC()
			return result
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, detectorID string, start, end time.Time, result *RunResult) error {
	executionStart := r.now().UTC()

	cfg, err := r.store.GetDetector(ctx, detectorID)
	if err != nil {
		return fmt.Errorf("failed to load detector %s: %w", detectorID, err)
	}
	if !cfg.Active {
		return fmt.Errorf("detector %s: %w", cfg.Name, ErrDetectorInactive)
	}

	log.Printf("Starting detector execution: %s (%s) window=%s..%s",
		cfg.Name, cfg.Variant, start.Format(time.RFC3339), end.Format(time.RFC3339))

	det, err := r.registry.New(cfg, r.deps)
	if err != nil {
		return err
	}

	candidates, err := det.Detect(ctx, start, end)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	created, duplicates := 0, 0
	for _, c := range candidates {
		d, err := r.createDetection(ctx, cfg, c)
		if err != nil {
			log.Printf("Failed to create detection for %s: %v", cfg.Name, err)
			continue
		}
		// Candidates are deduplicated in production order, so an
		// earlier candidate in this batch can be the original a later
		// one is linked to.
		if r.dedup != nil && r.dedup.IsDuplicate(ctx, d, cfg) {
			duplicates++
			continue
		}
		created++
		if r.events != nil {
			r.events.DetectionCreated(ctx, d)
		}
	}
	result.DetectionsCreated = created
	result.DetectionsDuplicates = duplicates

	cfg.RecordRun(executionStart, created)
	if err := r.store.UpdateDetector(ctx, cfg); err != nil {
		log.Printf("Warning: failed to update detector statistics for %s: %v", cfg.Name, err)
	}

	log.Printf("Detector execution completed: %s created=%d duplicates=%d", cfg.Name, created, duplicates)

	if created > 0 {
		processing := r.ProcessPending(ctx, 100)
		result.AlertsCreated = processing.AlertsCreated
		log.Printf("Alert processing completed: %d alerts created from pending detections", processing.AlertsCreated)
	}
	return nil
}

func (r *Runner) createDetection(ctx context.Context, cfg *models.DetectorConfig, c detector.Candidate) (*models.Detection, error) {
	d := models.NewDetection(cfg.ID, cfg.Name)
	d.Title = c.Title
	if d.Title == "" {
		d.Title = fmt.Sprintf("%s detection at %s", cfg.Name, c.Timestamp.Format("2006-01-02"))
	}
	d.Timestamp = c.Timestamp
	d.Confidence = c.Confidence
	d.Category = c.Category
	d.Locations = c.Locations
	d.Data = c.Data
	if err := r.store.CreateDetection(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ProcessResult is the outcome of one pending-detection processing
// pass.
type ProcessResult struct {
	Processed     int `json:"processed"`
	AlertsCreated int `json:"alerts_created"`
	Errors        int `json:"errors"`
}

// ProcessPending turns pending non-duplicate detections into alerts.
// Idempotent: a detection leaves the pending state the first time it is
// processed, so a second pass finds nothing to do.
func (r *Runner) ProcessPending(ctx context.Context, limit int) ProcessResult {
	var result ProcessResult

	pending, err := r.store.ListPendingDetections(ctx, limit)
	if err != nil {
		log.Printf("Detection processing failed: %v", err)
		result.Errors++
		return result
	}

	for _, d := range pending {
		a := r.generator.Generate(d)
		if err := r.store.CreateAlert(ctx, a); err != nil {
			log.Printf("Failed to create alert for detection %s: %v", d.ID, err)
			d.MarkDismissed()
			result.Errors++
		} else {
			d.MarkProcessed(a.ID)
			result.AlertsCreated++
		}
		if err := r.store.UpdateDetection(ctx, d); err != nil {
			log.Printf("Failed to update detection %s: %v", d.ID, err)
			result.Errors++
			continue
		}
		result.Processed++
	}

	log.Printf("Detection processing completed: processed=%d alerts_created=%d errors=%d",
		result.Processed, result.AlertsCreated, result.Errors)
	return result
}
