package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// Prediction is the output of an opaque classification model for one
// input text: a binary label (1 = alert) and the probability of that
// label.
type Prediction struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

// Scorer classifies a batch of texts.
type Scorer interface {
	Score(ctx context.Context, texts []string) ([]Prediction, error)
}

// ScorerLoader materialises a scorer for a model path.
type ScorerLoader func(modelPath string) (Scorer, error)

// ScorerCache loads scorers lazily and keeps one per model path. The
// cache is owned by the process and injected into detector deps, so
// model lifetime is explicit rather than hidden in package state.
type ScorerCache struct {
	mu      sync.Mutex
	loader  ScorerLoader
	scorers map[string]Scorer
}

func NewScorerCache(loader ScorerLoader) *ScorerCache {
	return &ScorerCache{loader: loader, scorers: make(map[string]Scorer)}
}

func (c *ScorerCache) Get(modelPath string) (Scorer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scorers[modelPath]; ok {
		return s, nil
	}
	log.Printf("Loading scorer for model %s", modelPath)
	s, err := c.loader(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scorer for %s: %w", modelPath, err)
	}
	c.scorers[modelPath] = s
	return s, nil
}

// HTTPScorer calls a model-serving endpoint that hosts the resolved
// model and returns per-text predictions.
type HTTPScorer struct {
	baseURL   string
	modelPath string
	client    *http.Client
}

// NewHTTPScorerLoader returns a ScorerLoader backed by a model-serving
// service. A nil client gets a 30 second timeout.
func NewHTTPScorerLoader(baseURL string, client *http.Client) ScorerLoader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(modelPath string) (Scorer, error) {
		if modelPath == "" {
			return nil, &ConfigError{Field: "model_path", Reason: "required"}
		}
		return &HTTPScorer{baseURL: strings.TrimSuffix(baseURL, "/"), modelPath: modelPath, client: client}, nil
	}
}

func (s *HTTPScorer) Score(ctx context.Context, texts []string) ([]Prediction, error) {
	body, err := json.Marshal(map[string]any{"model": s.modelPath, "texts": texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scoring request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, string(b))
	}

	var decoded struct {
		Predictions []Prediction `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode scoring response: %w", err)
	}
	if len(decoded.Predictions) != len(texts) {
		return nil, fmt.Errorf("scoring service returned %d predictions for %d texts", len(decoded.Predictions), len(texts))
	}
	return decoded.Predictions, nil
}

// Classifier delegates detection to an external classification model:
// each reading's text is scored, and texts classified as alerts above
// the confidence threshold become detections.
type Classifier struct {
	cfg      classifierConfig
	readings store.ReadingSource
	scorers  *ScorerCache
}

type classifierConfig struct {
	ModelPath           string            `json:"model_path" validate:"required"`
	VariableCode        string            `json:"variable_code" validate:"required"`
	TextField           string            `json:"text_field"`
	ConfidenceThreshold float64           `json:"confidence_threshold" validate:"gte=0,lte=1"`
	AdminLevel          *int              `json:"admin_level" validate:"omitempty,gte=0,lte=5"`
	CategoryKeywords    map[string]string `json:"category_keywords"`
}

func NewClassifier(cfg *models.DetectorConfig, deps Deps) (Detector, error) {
	cc := classifierConfig{ConfidenceThreshold: 0.5}
	if err := decodeConfig(cfg.Configuration, &cc); err != nil {
		return nil, err
	}
	if err := validateConfig(cc); err != nil {
		return nil, err
	}
	if deps.Scorers == nil {
		return nil, &ConfigError{Field: "model_path", Reason: "no scorer cache available"}
	}
	return &Classifier{cfg: cc, readings: deps.Readings, scorers: deps.Scorers}, nil
}

func (d *Classifier) Detect(ctx context.Context, start, end time.Time) ([]Candidate, error) {
	scorer, err := d.scorers.Get(d.cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	readings, err := d.readings.GetReadings(ctx, store.ReadingQuery{
		VariableCode: d.cfg.VariableCode,
		Start:        &start,
		End:          &end,
		AdminLevel:   d.cfg.AdminLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	var texts []string
	var scored []models.Reading
	for _, r := range readings {
		text := d.textOf(r)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		scored = append(scored, r)
	}
	if len(texts) == 0 {
		log.Printf("No texts found for classification")
		return nil, nil
	}

	log.Printf("Classifying %d texts with model %s", len(texts), d.cfg.ModelPath)
	predictions, err := scorer.Score(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	var out []Candidate
	for i, p := range predictions {
		if p.Label != 1 || p.Probability < d.cfg.ConfidenceThreshold {
			continue
		}
		r := scored[i]
		var locs []models.LocationRef
		if r.LocationID != "" {
			locs = append(locs, models.LocationRef{ID: r.LocationID, Name: r.LocationName, AdminLevel: r.AdminLevel})
		}
		out = append(out, Candidate{
			Title:      truncate(texts[i], 120),
			Timestamp:  r.EventTime(),
			Confidence: p.Probability,
			Category:   d.categoryFor(texts[i]),
			Locations:  locs,
			Data: map[string]any{
				"variable_code": r.VariableCode,
				"text":          texts[i],
				"probability":   p.Probability,
				"model_path":    d.cfg.ModelPath,
				"detector_type": VariantClassifier,
			},
		})
	}
	log.Printf("Classification complete: detections=%d texts=%d", len(out), len(texts))
	return out, nil
}

func (d *Classifier) textOf(r models.Reading) string {
	if d.cfg.TextField != "" {
		if v, ok := r.Raw[d.cfg.TextField].(string); ok && v != "" {
			return v
		}
	}
	return r.Text
}

func (d *Classifier) categoryFor(text string) string {
	lower := strings.ToLower(text)
	keywords := make([]string, 0, len(d.cfg.CategoryKeywords))
	for k := range d.cfg.CategoryKeywords {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return d.cfg.CategoryKeywords[keyword]
		}
	}
	return categorize(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func classifierSchema() Schema {
	return Schema{
		Title: "Classifier Detector Configuration",
		Fields: map[string]Field{
			"model_path":           {Type: TypeString, Required: true, Description: "Path identifying the classification model"},
			"variable_code":        {Type: TypeString, Required: true, Description: "Variable code of the text data to classify"},
			"text_field":           {Type: TypeString, Description: "Raw payload field holding the text (falls back to the reading text)"},
			"confidence_threshold": {Type: TypeNumber, Min: bound(0), Max: bound(1), Default: 0.5, Description: "Minimum alert probability to fire"},
			"admin_level":          {Type: TypeInteger, Min: bound(0), Max: bound(5), Description: "Administrative level filter"},
			"category_keywords":    {Type: TypeObject, Description: "Keyword to alert category mapping"},
		},
	}
}
