package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/models"
	"github.com/earlywatch/sentinel/internal/store"
)

// fakeSource serves canned readings with the same query semantics as
// the real stores: variable, window, location, and limit filters.
type fakeSource struct {
	readings []models.Reading
	queries  []store.ReadingQuery
	err      error
}

func (f *fakeSource) GetReadings(_ context.Context, q store.ReadingQuery) ([]models.Reading, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	var out []models.Reading
	for _, r := range f.readings {
		if q.VariableCode != "" && r.VariableCode != q.VariableCode {
			continue
		}
		if q.Start != nil && r.EventTime().Before(*q.Start) {
			continue
		}
		if q.End != nil && r.EventTime().After(*q.End) {
			continue
		}
		if q.AdminLevel != nil && r.AdminLevel != *q.AdminLevel {
			continue
		}
		if len(q.LocationIDs) > 0 && !containsID(q.LocationIDs, r.LocationID) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func reading(variable, locID, locName string, t time.Time, value float64) models.Reading {
	return models.Reading{
		VariableCode: variable,
		VariableName: variable,
		LocationID:   locID,
		LocationName: locName,
		AdminLevel:   2,
		Start:        t,
		End:          t,
		Value:        value,
	}
}

func TestRegistry_NewUnknownVariant(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.New(&models.DetectorConfig{Variant: "nonsense"}, Deps{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestRegistry_VariantsSorted(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{
		VariantClassifier,
		VariantPassthrough,
		VariantScenario,
		VariantSurge,
		VariantThreshold,
		VariantZScore,
	}, r.Variants())
}

func TestRegistry_ValidateConfig(t *testing.T) {
	r := DefaultRegistry()

	err := r.ValidateConfig(VariantThreshold, map[string]any{
		"variable_code":   "displacement",
		"threshold_value": 100.0,
	})
	assert.NoError(t, err)

	err = r.ValidateConfig("nonsense", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestFactory_InvalidConfigRejectedAtBuild(t *testing.T) {
	r := DefaultRegistry()

	// threshold_value is required; the factory must fail, not Detect.
	_, err := r.New(&models.DetectorConfig{
		Name:          "broken",
		Variant:       VariantThreshold,
		Configuration: map[string]any{"variable_code": "displacement"},
	}, Deps{Readings: &fakeSource{}})

	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
