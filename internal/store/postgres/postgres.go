package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Store is the pgx-backed implementation of store.Store. Readings live
// in the variable_readings table owned by the ingestion pipeline; this
// service only reads from it.
type Store struct {
	connString string
	pool       *pgxpool.Pool
}

func New(connString string) *Store {
	return &Store{connString: connString}
}

func (s *Store) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.connString)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.pool = pool
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

func (s *Store) GetReadings(ctx context.Context, q store.ReadingQuery) ([]models.Reading, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}

	query := `SELECT variable_code, variable_name, location_id, location_name,
                     admin_level, start_date, end_date, value, text, raw_data
              FROM variable_readings WHERE variable_code = $1`
	args := []any{q.VariableCode}

	if q.Start != nil && q.End != nil {
		query += fmt.Sprintf(" AND start_date <= $%d AND end_date >= $%d", len(args)+1, len(args)+2)
		args = append(args, *q.End, *q.Start)
	} else if q.Start != nil {
		query += fmt.Sprintf(" AND end_date >= $%d", len(args)+1)
		args = append(args, *q.Start)
	} else if q.End != nil {
		query += fmt.Sprintf(" AND start_date <= $%d", len(args)+1)
		args = append(args, *q.End)
	}
	if len(q.LocationIDs) > 0 {
		query += fmt.Sprintf(" AND location_id = ANY($%d)", len(args)+1)
		args = append(args, q.LocationIDs)
	}
	if q.AdminLevel != nil {
		query += fmt.Sprintf(" AND admin_level = $%d", len(args)+1)
		args = append(args, *q.AdminLevel)
	}

	// Latest first without a window, chronological with one.
	if q.Start == nil && q.End == nil {
		query += " ORDER BY start_date DESC"
	} else {
		query += " ORDER BY start_date ASC"
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var rawData []byte
		if err := rows.Scan(&r.VariableCode, &r.VariableName, &r.LocationID, &r.LocationName,
			&r.AdminLevel, &r.Start, &r.End, &r.Value, &r.Text, &rawData); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &r.Raw); err != nil {
				return nil, fmt.Errorf("failed to decode raw_data: %w", err)
			}
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *Store) GetDetector(ctx context.Context, id string) (*models.DetectorConfig, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	row := s.pool.QueryRow(ctx, `SELECT id, name, description, variant, active, configuration,
                                        last_run, run_count, detection_count, created_at, updated_at
                                 FROM detectors WHERE id = $1`, id)
	cfg, err := scanDetector(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("detector %s: %w", id, store.ErrNotFound)
	}
	return cfg, err
}

func (s *Store) UpdateDetector(ctx context.Context, cfg *models.DetectorConfig) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	configJSON, err := json.Marshal(cfg.Configuration)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE detectors
              SET name = $2, description = $3, variant = $4, active = $5, configuration = $6,
                  last_run = $7, run_count = $8, detection_count = $9, updated_at = $10
              WHERE id = $1`,
		cfg.ID, cfg.Name, cfg.Description, cfg.Variant, cfg.Active, configJSON,
		nullTime(cfg.LastRun), cfg.RunCount, cfg.DetectionCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update detector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detector %s: %w", cfg.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListDetectors(ctx context.Context, activeOnly bool) ([]*models.DetectorConfig, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	query := `SELECT id, name, description, variant, active, configuration,
                     last_run, run_count, detection_count, created_at, updated_at
              FROM detectors`
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list detectors: %w", err)
	}
	defer rows.Close()

	var out []*models.DetectorConfig
	for rows.Next() {
		cfg, err := scanDetector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) CreateDetection(ctx context.Context, d *models.Detection) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	locJSON, dataJSON, err := encodeDetectionJSON(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO detections
              (id, detector_id, detector_name, title, detection_timestamp, confidence_score,
               category, locations, detection_data, status, alert_id, duplicate_of, created_at, processed_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.DetectorID, d.DetectorName, d.Title, d.Timestamp, d.Confidence,
		d.Category, locJSON, dataJSON, string(d.Status), nullString(d.AlertID),
		nullString(d.DuplicateOf), d.CreatedAt, nullTime(d.ProcessedAt))
	if err != nil {
		return fmt.Errorf("failed to create detection: %w", err)
	}
	return nil
}

func (s *Store) UpdateDetection(ctx context.Context, d *models.Detection) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	locJSON, dataJSON, err := encodeDetectionJSON(d)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE detections
              SET title = $2, detection_timestamp = $3, confidence_score = $4, category = $5,
                  locations = $6, detection_data = $7, status = $8, alert_id = $9,
                  duplicate_of = $10, processed_at = $11
              WHERE id = $1`,
		d.ID, d.Title, d.Timestamp, d.Confidence, d.Category, locJSON, dataJSON,
		string(d.Status), nullString(d.AlertID), nullString(d.DuplicateOf), nullTime(d.ProcessedAt))
	if err != nil {
		return fmt.Errorf("failed to update detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detection %s: %w", d.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetDetection(ctx context.Context, id string) (*models.Detection, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	row := s.pool.QueryRow(ctx, detectionSelect+" WHERE id = $1", id)
	d, err := scanDetection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("detection %s: %w", id, store.ErrNotFound)
	}
	return d, err
}

func (s *Store) ListPendingDetections(ctx context.Context, limit int) ([]*models.Detection, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	query := detectionSelect + ` WHERE status = 'pending' AND duplicate_of IS NULL ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryDetections(ctx, query, args...)
}

func (s *Store) ListPendingByDetector(ctx context.Context, detectorID string, from, to time.Time) ([]*models.Detection, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	query := detectionSelect + ` WHERE detector_id = $1 AND status = 'pending' AND duplicate_of IS NULL
              AND detection_timestamp >= $2 AND detection_timestamp <= $3 ORDER BY created_at`
	return s.queryDetections(ctx, query, detectorID, from, to)
}

func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	locJSON, err := json.Marshal(a.Locations)
	if err != nil {
		return fmt.Errorf("failed to encode locations: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO alerts
              (id, title, text, category, event_date, severity, locations, source,
               confidence_score, valid_from, valid_until, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Title, a.Text, a.Category, a.EventDate, a.Severity, locJSON, a.Source,
		a.Confidence, a.ValidFrom, a.ValidUntil, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	var a models.Alert
	var locJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT id, title, text, category, event_date, severity, locations,
                                        source, confidence_score, valid_from, valid_until, created_at
                                 FROM alerts WHERE id = $1`, id).
		Scan(&a.ID, &a.Title, &a.Text, &a.Category, &a.EventDate, &a.Severity, &locJSON,
			&a.Source, &a.Confidence, &a.ValidFrom, &a.ValidUntil, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if err := json.Unmarshal(locJSON, &a.Locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	return &a, nil
}

func (s *Store) CreatePublishedAlert(ctx context.Context, p *models.PublishedAlert) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO published_alerts
              (id, detection_id, template_id, api_name, external_id, language, status,
               published_at, last_updated, cancelled_at, cancellation_reason,
               publication_metadata, error_message, retry_count, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.DetectionID, p.TemplateID, p.APIName, p.ExternalID, p.Language, string(p.Status),
		nullTime(p.PublishedAt), nullTime(p.LastUpdated), nullTime(p.CancelledAt), p.CancelReason,
		metaJSON, p.LastError, p.RetryCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create published alert: %w", err)
	}
	return nil
}

func (s *Store) UpdatePublishedAlert(ctx context.Context, p *models.PublishedAlert) error {
	if s.pool == nil {
		return store.ErrNotConnected
	}
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE published_alerts
              SET external_id = $2, status = $3, published_at = $4, last_updated = $5,
                  cancelled_at = $6, cancellation_reason = $7, publication_metadata = $8,
                  error_message = $9, retry_count = $10
              WHERE id = $1`,
		p.ID, p.ExternalID, string(p.Status), nullTime(p.PublishedAt), nullTime(p.LastUpdated),
		nullTime(p.CancelledAt), p.CancelReason, metaJSON, p.LastError, p.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to update published alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("published alert %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetPublishedAlert(ctx context.Context, id string) (*models.PublishedAlert, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	row := s.pool.QueryRow(ctx, publishedSelect+" WHERE id = $1", id)
	p, err := scanPublished(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("published alert %s: %w", id, store.ErrNotFound)
	}
	return p, err
}

func (s *Store) FindPublishedAlert(ctx context.Context, detectionID, apiName, language string) (*models.PublishedAlert, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	row := s.pool.QueryRow(ctx, publishedSelect+" WHERE detection_id = $1 AND api_name = $2 AND language = $3",
		detectionID, apiName, language)
	p, err := scanPublished(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (s *Store) ListPublishedSince(ctx context.Context, cutoff time.Time) ([]*models.PublishedAlert, error) {
	if s.pool == nil {
		return nil, store.ErrNotConnected
	}
	rows, err := s.pool.Query(ctx, publishedSelect+` WHERE status = 'published' AND external_id <> ''
              AND published_at >= $1 ORDER BY published_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list published alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.PublishedAlert
	for rows.Next() {
		p, err := scanPublished(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsAncestor walks the location hierarchy with a recursive CTE.
func (s *Store) IsAncestor(ctx context.Context, ancestorID, descendantID string) (bool, error) {
	if s.pool == nil {
		return false, store.ErrNotConnected
	}
	var found bool
	err := s.pool.QueryRow(ctx, `WITH RECURSIVE ancestors AS (
              SELECT id, parent_id FROM locations WHERE id = $1
              UNION ALL
              SELECT l.id, l.parent_id FROM locations l
              JOIN ancestors a ON l.id = a.parent_id
            )
            SELECT EXISTS (SELECT 1 FROM ancestors WHERE parent_id = $2 OR (id = $2 AND id <> $1))`,
		descendantID, ancestorID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("hierarchy lookup failed: %w", err)
	}
	return found, nil
}

const detectionSelect = `SELECT id, detector_id, detector_name, title, detection_timestamp,
       confidence_score, category, locations, detection_data, status, alert_id,
       duplicate_of, created_at, processed_at
       FROM detections`

const publishedSelect = `SELECT id, detection_id, template_id, api_name, external_id, language,
       status, published_at, last_updated, cancelled_at, cancellation_reason,
       publication_metadata, error_message, retry_count, created_at
       FROM published_alerts`

func (s *Store) queryDetections(ctx context.Context, query string, args ...any) ([]*models.Detection, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []*models.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDetector(row pgx.Row) (*models.DetectorConfig, error) {
	var cfg models.DetectorConfig
	var configJSON []byte
	var lastRun *time.Time
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Variant, &cfg.Active, &configJSON,
		&lastRun, &cfg.RunCount, &cfg.DetectionCount, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan detector: %w", err)
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &cfg.Configuration); err != nil {
			return nil, fmt.Errorf("failed to decode configuration: %w", err)
		}
	}
	if lastRun != nil {
		cfg.LastRun = *lastRun
	}
	return &cfg, nil
}

func scanDetection(row pgx.Row) (*models.Detection, error) {
	var d models.Detection
	var locJSON, dataJSON []byte
	var status string
	var alertID, duplicateOf *string
	var processedAt *time.Time
	if err := row.Scan(&d.ID, &d.DetectorID, &d.DetectorName, &d.Title, &d.Timestamp,
		&d.Confidence, &d.Category, &locJSON, &dataJSON, &status, &alertID,
		&duplicateOf, &d.CreatedAt, &processedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan detection: %w", err)
	}
	d.Status = models.DetectionStatus(status)
	if err := json.Unmarshal(locJSON, &d.Locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &d.Data); err != nil {
			return nil, fmt.Errorf("failed to decode detection_data: %w", err)
		}
	}
	if alertID != nil {
		d.AlertID = *alertID
	}
	if duplicateOf != nil {
		d.DuplicateOf = *duplicateOf
	}
	if processedAt != nil {
		d.ProcessedAt = *processedAt
	}
	return &d, nil
}

func scanPublished(row pgx.Row) (*models.PublishedAlert, error) {
	var p models.PublishedAlert
	var status string
	var metaJSON []byte
	var publishedAt, lastUpdated, cancelledAt *time.Time
	if err := row.Scan(&p.ID, &p.DetectionID, &p.TemplateID, &p.APIName, &p.ExternalID, &p.Language,
		&status, &publishedAt, &lastUpdated, &cancelledAt, &p.CancelReason,
		&metaJSON, &p.LastError, &p.RetryCount, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan published alert: %w", err)
	}
	p.Status = models.PublishStatus(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode publication_metadata: %w", err)
		}
	}
	if publishedAt != nil {
		p.PublishedAt = *publishedAt
	}
	if lastUpdated != nil {
		p.LastUpdated = *lastUpdated
	}
	if cancelledAt != nil {
		p.CancelledAt = *cancelledAt
	}
	return &p, nil
}

func encodeDetectionJSON(d *models.Detection) (locJSON, dataJSON []byte, err error) {
	locJSON, err = json.Marshal(d.Locations)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode locations: %w", err)
	}
	dataJSON, err = json.Marshal(d.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode detection_data: %w", err)
	}
	return locJSON, dataJSON, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
