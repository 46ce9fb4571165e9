package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/models"
)

type stubScorer struct {
	predictions []Prediction
	err         error
	gotTexts    []string
}

func (s *stubScorer) Score(_ context.Context, texts []string) ([]Prediction, error) {
	s.gotTexts = texts
	if s.err != nil {
		return nil, s.err
	}
	return s.predictions, nil
}

func stubCache(s Scorer) *ScorerCache {
	return NewScorerCache(func(string) (Scorer, error) { return s, nil })
}

func newClassifierDetector(t *testing.T, cfg map[string]any, src *fakeSource, scorer Scorer) Detector {
	t.Helper()
	det, err := NewClassifier(&models.DetectorConfig{
		Name:          "report-classifier",
		Variant:       VariantClassifier,
		Configuration: cfg,
	}, Deps{Readings: src, Scorers: stubCache(scorer)})
	require.NoError(t, err)
	return det
}

func textReading(locID, locName, text string) models.Reading {
	r := reading("field_reports", locID, locName, day(1), 0)
	r.Text = text
	return r
}

func TestClassifier_FiresOnPositivePredictions(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		textReading("loc-1", "Northville", "Armed conflict reported near the border"),
		textReading("loc-2", "Southport", "Market prices stable this week"),
	}}
	scorer := &stubScorer{predictions: []Prediction{
		{Label: 1, Probability: 0.92},
		{Label: 0, Probability: 0.88},
	}}

	det := newClassifierDetector(t, map[string]any{
		"model_path":    "models/event-classifier-v2",
		"variable_code": "field_reports",
	}, src, scorer)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Armed conflict reported near the border", out[0].Title)
	assert.Equal(t, 0.92, out[0].Confidence)
	assert.Equal(t, "Conflict", out[0].Category)
	assert.Equal(t, []string{
		"Armed conflict reported near the border",
		"Market prices stable this week",
	}, scorer.gotTexts)
}

func TestClassifier_ThresholdFiltersLowProbability(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		textReading("loc-1", "Northville", "Possible unrest"),
	}}
	scorer := &stubScorer{predictions: []Prediction{{Label: 1, Probability: 0.6}}}

	det := newClassifierDetector(t, map[string]any{
		"model_path":           "models/event-classifier-v2",
		"variable_code":        "field_reports",
		"confidence_threshold": 0.8,
	}, src, scorer)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestClassifier_CategoryKeywordsOverrideDefault(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		textReading("loc-1", "Northville", "Severe flooding displaced hundreds"),
	}}
	scorer := &stubScorer{predictions: []Prediction{{Label: 1, Probability: 0.9}}}

	det := newClassifierDetector(t, map[string]any{
		"model_path":        "models/event-classifier-v2",
		"variable_code":     "field_reports",
		"category_keywords": map[string]any{"flood": "Natural disaster"},
	}, src, scorer)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Natural disaster", out[0].Category)
}

func TestClassifier_TextFieldFromRawPayload(t *testing.T) {
	r := reading("field_reports", "loc-1", "Northville", day(1), 0)
	r.Raw = map[string]any{"headline": "Clashes erupt in the capital"}
	scorer := &stubScorer{predictions: []Prediction{{Label: 1, Probability: 0.9}}}

	det := newClassifierDetector(t, map[string]any{
		"model_path":    "models/event-classifier-v2",
		"variable_code": "field_reports",
		"text_field":    "headline",
	}, &fakeSource{readings: []models.Reading{r}}, scorer)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Clashes erupt in the capital", out[0].Title)
}

func TestClassifier_EmptyTextsSkipScoring(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		reading("field_reports", "loc-1", "Northville", day(1), 0),
	}}
	scorer := &stubScorer{}

	det := newClassifierDetector(t, map[string]any{
		"model_path":    "models/event-classifier-v2",
		"variable_code": "field_reports",
	}, src, scorer)

	out, err := det.Detect(context.Background(), day(0), day(2))

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Nil(t, scorer.gotTexts, "no texts means the model is never called")
}

func TestClassifier_ScoringFailurePropagates(t *testing.T) {
	src := &fakeSource{readings: []models.Reading{
		textReading("loc-1", "Northville", "report"),
	}}
	scorer := &stubScorer{err: errors.New("model unavailable")}

	det := newClassifierDetector(t, map[string]any{
		"model_path":    "models/event-classifier-v2",
		"variable_code": "field_reports",
	}, src, scorer)

	_, err := det.Detect(context.Background(), day(0), day(2))

	assert.Error(t, err)
}

func TestClassifier_RequiresScorerCache(t *testing.T) {
	_, err := NewClassifier(&models.DetectorConfig{
		Variant: VariantClassifier,
		Configuration: map[string]any{
			"model_path":    "models/event-classifier-v2",
			"variable_code": "field_reports",
		},
	}, Deps{Readings: &fakeSource{}})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestScorerCache_LoadsOncePerModel(t *testing.T) {
	loads := 0
	cache := NewScorerCache(func(string) (Scorer, error) {
		loads++
		return &stubScorer{}, nil
	})

	first, err := cache.Get("models/a")
	require.NoError(t, err)
	second, err := cache.Get("models/a")
	require.NoError(t, err)
	_, err = cache.Get("models/b")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, loads)
}

func TestHTTPScorer_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Texts []string `json:"texts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "models/event-classifier-v2", req.Model)

		preds := make([]Prediction, len(req.Texts))
		for i := range preds {
			preds[i] = Prediction{Label: 1, Probability: 0.9}
		}
		json.NewEncoder(w).Encode(map[string]any{"predictions": preds})
	}))
	defer srv.Close()

	loader := NewHTTPScorerLoader(srv.URL, srv.Client())
	scorer, err := loader("models/event-classifier-v2")
	require.NoError(t, err)

	preds, err := scorer.Score(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, 1, preds[0].Label)
	assert.Equal(t, 0.9, preds[0].Probability)
}

func TestHTTPScorer_PredictionCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"predictions": []Prediction{}})
	}))
	defer srv.Close()

	loader := NewHTTPScorerLoader(srv.URL, srv.Client())
	scorer, err := loader("models/event-classifier-v2")
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), []string{"a"})

	assert.Error(t, err)
}

func TestHTTPScorer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	loader := NewHTTPScorerLoader(srv.URL, srv.Client())
	scorer, err := loader("models/missing")
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 120))
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 120)
	assert.Len(t, got, 120)
	assert.Equal(t, "...", got[117:])
}
