package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/earlywatch/sentinel/internal/alert"
	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// PublishResult is the outcome of publishing one detection's alert to
// the configured external systems.
type PublishResult struct {
	DetectionID  string          `json:"detection_id"`
	Success      bool            `json:"success"`
	Published    []PublishedInfo `json:"published_alerts"`
	Failed       []FailedInfo    `json:"failed_apis"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type PublishedInfo struct {
	APIName    string `json:"api_name"`
	ExternalID string `json:"external_id"`
}

type FailedInfo struct {
	APIName string `json:"api_name"`
	Error   string `json:"error"`
}

// PublishAlert publishes a processed detection's alert to the named
// external APIs (nil targets every configured API). Publication is
// idempotent per (detection, api, language): a record that already has
// an external ID is not re-sent.
func (r *Runner) PublishAlert(ctx context.Context, detectionID, templateID string, targetAPIs []string, language string) PublishResult {
	result := PublishResult{DetectionID: detectionID}
	if language == "" {
		language = "en"
	}

	d, err := r.store.GetDetection(ctx, detectionID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to load detection: %v", err)
		return result
	}
	if d.AlertID == "" {
		result.ErrorMessage = "detection has no alert to publish"
		return result
	}
	a, err := r.store.GetAlert(ctx, d.AlertID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to load alert: %v", err)
		return result
	}

	payload := alert.BuildPayload(a, d.ID, language)

	apis := targetAPIs
	if len(apis) == 0 {
		apis = r.publisher.Names()
	}

	for _, apiName := range apis {
		info, err := r.publishToAPI(ctx, d, templateID, apiName, language, payload)
		if err != nil {
			result.Failed = append(result.Failed, FailedInfo{APIName: apiName, Error: err.Error()})
			continue
		}
		result.Published = append(result.Published, *info)
	}

	result.Success = len(result.Published) > 0
	log.Printf("Alert publication completed for detection %s: published=%d failed=%d",
		detectionID, len(result.Published), len(result.Failed))
	return result
}

func (r *Runner) publishToAPI(ctx context.Context, d *models.Detection, templateID, apiName, language string, payload alert.Payload) (*PublishedInfo, error) {
	// Idempotency: reuse the existing record, and never re-send an
	// alert that already has an external ID.
	record, err := r.store.FindPublishedAlert(ctx, d.ID, apiName, language)
	switch {
	case err == nil:
		if record.ExternalID != "" {
			log.Printf("Alert for detection %s already published to %s as %s", d.ID, apiName, record.ExternalID)
			return &PublishedInfo{APIName: apiName, ExternalID: record.ExternalID}, nil
		}
	case errors.Is(err, store.ErrNotFound):
		record = models.NewPublishedAlert(d.ID, templateID, apiName, language)
		if err := r.store.CreatePublishedAlert(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to create publication record: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to look up publication record: %w", err)
	}

	client, err := r.publisher.Client(apiName)
	if err != nil {
		r.markFailed(ctx, record, err)
		return nil, err
	}

	var externalID string
	var response map[string]any
	err = r.withRetry(ctx, r.publishPolicy, func() error {
		var callErr error
		externalID, response, callErr = client.Publish(ctx, payload)
		return callErr
	})
	if err != nil {
		r.markFailed(ctx, record, err)
		return nil, err
	}

	record.MarkPublished(externalID, response)
	if err := r.store.UpdatePublishedAlert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record publication: %w", err)
	}
	if r.events != nil {
		r.events.AlertPublished(ctx, record)
	}
	return &PublishedInfo{APIName: apiName, ExternalID: externalID}, nil
}

// UpdatePublishedAlert re-sends the current alert content for an
// already-published record.
func (r *Runner) UpdatePublishedAlert(ctx context.Context, publishedAlertID string) error {
	record, err := r.store.GetPublishedAlert(ctx, publishedAlertID)
	if err != nil {
		return fmt.Errorf("failed to load published alert: %w", err)
	}
	if record.ExternalID == "" {
		return ErrNoExternalID
	}

	d, err := r.store.GetDetection(ctx, record.DetectionID)
	if err != nil {
		return fmt.Errorf("failed to load detection: %w", err)
	}
	a, err := r.store.GetAlert(ctx, d.AlertID)
	if err != nil {
		return fmt.Errorf("failed to load alert: %w", err)
	}

	client, err := r.publisher.Client(record.APIName)
	if err != nil {
		return err
	}

	payload := alert.BuildPayload(a, d.ID, record.Language)
	var response map[string]any
	err = r.withRetry(ctx, r.updatePolicy, func() error {
		var callErr error
		response, callErr = client.Update(ctx, record.ExternalID, payload)
		return callErr
	})
	if err != nil {
		r.markFailed(ctx, record, err)
		return err
	}

	record.MarkUpdated(response)
	if err := r.store.UpdatePublishedAlert(ctx, record); err != nil {
		return fmt.Errorf("failed to record update: %w", err)
	}
	log.Printf("Alert update completed for published alert %s", publishedAlertID)
	return nil
}

// CancelPublishedAlert cancels an alert in its external system.
// Already-cancelled records are a no-op.
func (r *Runner) CancelPublishedAlert(ctx context.Context, publishedAlertID, reason string) error {
	if reason == "" {
		reason = "Alert cancelled"
	}

	record, err := r.store.GetPublishedAlert(ctx, publishedAlertID)
	if err != nil {
		return fmt.Errorf("failed to load published alert: %w", err)
	}
	if record.Status == models.PublishCancelled {
		return nil
	}
	if record.ExternalID == "" {
		return ErrNoExternalID
	}

	client, err := r.publisher.Client(record.APIName)
	if err != nil {
		return err
	}

	err = r.withRetry(ctx, r.cancelPolicy, func() error {
		return client.Cancel(ctx, record.ExternalID, reason)
	})
	if err != nil {
		return err
	}

	record.MarkCancelled(reason)
	if err := r.store.UpdatePublishedAlert(ctx, record); err != nil {
		return fmt.Errorf("failed to record cancellation: %w", err)
	}
	log.Printf("Alert cancellation completed for published alert %s", publishedAlertID)
	return nil
}

// MonitorResult summarises one monitoring sweep over recently published
// alerts.
type MonitorResult struct {
	CheckedAlerts int              `json:"checked_alerts"`
	StatusUpdates int              `json:"status_updates"`
	Errors        int              `json:"errors"`
	APIHealth     map[string]error `json:"-"`
}

// MonitorPublishedAlerts checks external API health and refreshes the
// status metadata of alerts published in the last 24 hours.
func (r *Runner) MonitorPublishedAlerts(ctx context.Context) MonitorResult {
	result := MonitorResult{APIHealth: r.publisher.CheckHealth(ctx)}
	for name, err := range result.APIHealth {
		if err != nil {
			log.Printf("Alert API %s unhealthy: %v", name, err)
		}
	}

	cutoff := r.now().UTC().Add(-24 * time.Hour)
	published, err := r.store.ListPublishedSince(ctx, cutoff)
	if err != nil {
		log.Printf("Alert monitoring failed: %v", err)
		result.Errors++
		return result
	}

	for _, record := range published {
		client, err := r.publisher.Client(record.APIName)
		if err != nil {
			result.Errors++
			continue
		}
		status, err := client.Status(ctx, record.ExternalID)
		if err != nil {
			log.Printf("Failed to check status for alert %s: %v", record.ID, err)
			result.Errors++
			continue
		}
		if record.Metadata == nil {
			record.Metadata = map[string]any{}
		}
		record.Metadata["last_status_check"] = status
		if err := r.store.UpdatePublishedAlert(ctx, record); err != nil {
			log.Printf("Failed to persist status for alert %s: %v", record.ID, err)
			result.Errors++
			continue
		}
		result.StatusUpdates++
		result.CheckedAlerts++
	}

	log.Printf("Alert monitoring completed: checked=%d updates=%d errors=%d",
		result.CheckedAlerts, result.StatusUpdates, result.Errors)
	return result
}

func (r *Runner) withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if isFatal(err) || attempt+1 >= policy.MaxAttempts || ctx.Err() != nil {
			return err
		}
		if sleepErr := r.sleep(ctx, policy.Backoff(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

func (r *Runner) markFailed(ctx context.Context, record *models.PublishedAlert, cause error) {
	record.MarkFailed(cause.Error())
	if err := r.store.UpdatePublishedAlert(ctx, record); err != nil {
		log.Printf("Failed to record publication failure for %s: %v", record.ID, err)
	}
}
