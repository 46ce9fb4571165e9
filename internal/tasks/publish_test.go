package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/alert"
	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// alertAPIServer is a fake external alert API recording every request
// path it serves.
type alertAPIServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	failWith int // when non-zero, POST /alerts responds with this status
}

func newAlertAPIServer(t *testing.T) *alertAPIServer {
	t.Helper()
	s := &alertAPIServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		failWith := s.failWith
		s.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/alerts":
			if failWith != 0 {
				http.Error(w, "boom", failWith)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "ext-1", "status": "accepted"})
		case r.Method == http.MethodPut:
			json.NewEncoder(w).Encode(map[string]any{"status": "updated"})
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			w.WriteHeader(http.StatusNoContent)
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *alertAPIServer) publishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req == "POST /alerts" {
			n++
		}
	}
	return n
}

// seedPublishable stores a processed detection with its alert and
// returns the detection.
func seedPublishable(t *testing.T, mem *store.Memory) *models.Detection {
	t.Helper()

	a := models.NewAlert()
	a.Title = "Conflict alert for Northville"
	a.Text = "Unrest detected."
	a.Category = "Conflict"
	a.EventDate = testTime
	a.Confidence = 0.85
	a.Locations = []models.LocationRef{{ID: "loc-1", Name: "Northville"}}
	require.NoError(t, mem.CreateAlert(context.Background(), a))

	d := models.NewDetection("det-1", "displacement-anomaly")
	d.Timestamp = testTime
	d.Confidence = 0.85
	require.NoError(t, mem.CreateDetection(context.Background(), d))
	d.MarkProcessed(a.ID)
	require.NoError(t, mem.UpdateDetection(context.Background(), d))
	return d
}

func TestPublishAlert_Success(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	result := r.PublishAlert(context.Background(), d.ID, "", nil, "en")

	assert.True(t, result.Success)
	require.Len(t, result.Published, 1)
	assert.Equal(t, "ops-api", result.Published[0].APIName)
	assert.Equal(t, "ext-1", result.Published[0].ExternalID)
	assert.Empty(t, result.Failed)

	record, err := mem.FindPublishedAlert(context.Background(), d.ID, "ops-api", "en")
	require.NoError(t, err)
	assert.Equal(t, models.PublishPublished, record.Status)
	assert.Equal(t, "ext-1", record.ExternalID)
	assert.Equal(t, "accepted", record.Metadata["status"])
}

func TestPublishAlert_SecondCallDoesNotResend(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	first := r.PublishAlert(context.Background(), d.ID, "", nil, "en")
	second := r.PublishAlert(context.Background(), d.ID, "", nil, "en")

	assert.True(t, second.Success)
	require.Len(t, second.Published, 1)
	assert.Equal(t, first.Published[0].ExternalID, second.Published[0].ExternalID)
	assert.Equal(t, 1, srv.publishCount(), "an alert with an external ID is never re-sent")
}

func TestPublishAlert_PerLanguageRecords(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	r.PublishAlert(context.Background(), d.ID, "", nil, "en")
	r.PublishAlert(context.Background(), d.ID, "", nil, "fr")

	assert.Equal(t, 2, srv.publishCount(), "each language is its own publication")
	_, err := mem.FindPublishedAlert(context.Background(), d.ID, "ops-api", "fr")
	assert.NoError(t, err)
}

func TestPublishAlert_WithoutAlert(t *testing.T) {
	mem := store.NewMemory()
	d := models.NewDetection("det-1", "displacement-anomaly")
	d.Timestamp = testTime
	require.NoError(t, mem.CreateDetection(context.Background(), d))

	r, _ := newTestRunner(mem, nil, nil)

	result := r.PublishAlert(context.Background(), d.ID, "", nil, "en")

	assert.False(t, result.Success)
	assert.Equal(t, "detection has no alert to publish", result.ErrorMessage)
}

func TestPublishAlert_UnconfiguredAPIFails(t *testing.T) {
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	r, _ := newTestRunner(mem, nil, alert.NewPublisher())

	result := r.PublishAlert(context.Background(), d.ID, "", []string{"missing-api"}, "en")

	assert.False(t, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "missing-api", result.Failed[0].APIName)
	assert.Contains(t, result.Failed[0].Error, "not configured")
}

func TestPublishAlert_RetriesThenMarksFailed(t *testing.T) {
	srv := newAlertAPIServer(t)
	srv.failWith = http.StatusBadGateway
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, delays := newTestRunner(mem, nil, pub)

	result := r.PublishAlert(context.Background(), d.ID, "", nil, "en")

	assert.False(t, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Error, "502")
	assert.Equal(t, 4, srv.publishCount(), "transient API errors are retried")
	assert.Len(t, *delays, 3)

	record, err := mem.FindPublishedAlert(context.Background(), d.ID, "ops-api", "en")
	require.NoError(t, err)
	assert.Equal(t, models.PublishFailed, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.Contains(t, record.LastError, "502")
}

func TestPublishAlert_RecoveryAfterFailure(t *testing.T) {
	srv := newAlertAPIServer(t)
	srv.failWith = http.StatusBadGateway
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	failed := r.PublishAlert(context.Background(), d.ID, "", nil, "en")
	require.False(t, failed.Success)

	srv.mu.Lock()
	srv.failWith = 0
	srv.mu.Unlock()

	recovered := r.PublishAlert(context.Background(), d.ID, "", nil, "en")
	assert.True(t, recovered.Success, "a failed record without an external ID is retried, not skipped")

	record, err := mem.FindPublishedAlert(context.Background(), d.ID, "ops-api", "en")
	require.NoError(t, err)
	assert.Equal(t, models.PublishPublished, record.Status)
}

func TestUpdatePublishedAlert_RequiresExternalID(t *testing.T) {
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	r, _ := newTestRunner(mem, nil, alert.NewPublisher())

	err := r.UpdatePublishedAlert(context.Background(), record.ID)
	assert.ErrorIs(t, err, ErrNoExternalID)
}

func TestUpdatePublishedAlert_SendsCurrentContent(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	record.MarkPublished("ext-1", nil)
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	err := r.UpdatePublishedAlert(context.Background(), record.ID)
	require.NoError(t, err)

	assert.Contains(t, srv.requests, "PUT /alerts/ext-1")

	stored, err := mem.GetPublishedAlert(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishUpdated, stored.Status)
	assert.Equal(t, "updated", stored.Metadata["status"])
}

func TestCancelPublishedAlert(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	record.MarkPublished("ext-1", nil)
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	err := r.CancelPublishedAlert(context.Background(), record.ID, "no longer relevant")
	require.NoError(t, err)

	assert.Contains(t, srv.requests, "POST /alerts/ext-1/cancel")

	stored, err := mem.GetPublishedAlert(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishCancelled, stored.Status)
	assert.Equal(t, "no longer relevant", stored.CancelReason)
}

func TestCancelPublishedAlert_AlreadyCancelledIsNoOp(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	record.MarkPublished("ext-1", nil)
	record.MarkCancelled("done")
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)

	err := r.CancelPublishedAlert(context.Background(), record.ID, "again")
	require.NoError(t, err)
	assert.Empty(t, srv.requests, "cancelling a cancelled alert does not reach the API")
}

func TestMonitorPublishedAlerts_RefreshesStatus(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	record.MarkPublished("ext-1", nil)
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)
	// Monitoring only considers the last 24 hours, so pin "now" just
	// after the publication timestamp.
	r.now = func() time.Time { return record.PublishedAt.Add(time.Hour) }

	result := r.MonitorPublishedAlerts(context.Background())

	assert.Equal(t, 1, result.StatusUpdates)
	assert.Equal(t, 1, result.CheckedAlerts)
	assert.Equal(t, 0, result.Errors)
	assert.NoError(t, result.APIHealth["ops-api"])
	assert.Contains(t, srv.requests, "GET /alerts/ext-1/status")

	stored, err := mem.GetPublishedAlert(context.Background(), record.ID)
	require.NoError(t, err)
	status, ok := stored.Metadata["last_status_check"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", status["status"])
}

func TestMonitorPublishedAlerts_IgnoresOldPublications(t *testing.T) {
	srv := newAlertAPIServer(t)
	mem := store.NewMemory()
	d := seedPublishable(t, mem)

	record := models.NewPublishedAlert(d.ID, "", "ops-api", "en")
	record.MarkPublished("ext-1", nil)
	require.NoError(t, mem.CreatePublishedAlert(context.Background(), record))

	pub := alert.NewPublisher(alert.NewAPIClient("ops-api", srv.URL, "secret", 0))
	r, _ := newTestRunner(mem, nil, pub)
	r.now = func() time.Time { return record.PublishedAt.Add(48 * time.Hour) }

	result := r.MonitorPublishedAlerts(context.Background())

	assert.Equal(t, 0, result.CheckedAlerts)
	assert.NotContains(t, srv.requests, "GET /alerts/ext-1/status")
}
