package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlywatch/sentinel/internal/models"
)

func TestTruncatePeriod_WeeklyStartsMonday(t *testing.T) {
	// 2025-06-05 is a Thursday; its week starts Monday 2025-06-02.
	thursday := time.Date(2025, 6, 5, 14, 30, 0, 0, time.UTC)

	got := truncatePeriod(thursday, "1W")

	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestTruncatePeriod_Monthly(t *testing.T) {
	got := truncatePeriod(time.Date(2025, 6, 17, 9, 0, 0, 0, time.UTC), "1M")
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestResample_GroupsPerLocationAndAggregates(t *testing.T) {
	readings := []models.Reading{
		reading("displacement", "loc-b", "Beta", day(0), 10),
		reading("displacement", "loc-a", "Alpha", day(0), 4),
		reading("displacement", "loc-a", "Alpha", day(0).Add(6*time.Hour), 6),
		reading("displacement", "loc-a", "Alpha", day(1), 8),
	}

	series := resample(readings, "1D", "sum")

	require.Len(t, series, 2)
	// Locations come back in stable ID order.
	assert.Equal(t, "loc-a", series[0].LocationID)
	assert.Equal(t, "loc-b", series[1].LocationID)

	require.Len(t, series[0].Points, 2)
	assert.Equal(t, day(0), series[0].Points[0].Period)
	assert.Equal(t, 10.0, series[0].Points[0].Value, "same-day readings are summed")
	assert.Equal(t, 8.0, series[0].Points[1].Value)
}

func TestResample_MeanIsDefaultAggregation(t *testing.T) {
	readings := []models.Reading{
		reading("displacement", "loc-a", "Alpha", day(0), 4),
		reading("displacement", "loc-a", "Alpha", day(0).Add(time.Hour), 6),
	}

	series := resample(readings, "1D", "mean")

	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	assert.Equal(t, 5.0, series[0].Points[0].Value)
}

func TestResample_SkipsReadingsWithoutLocation(t *testing.T) {
	readings := []models.Reading{
		reading("displacement", "", "", day(0), 4),
	}
	assert.Empty(t, resample(readings, "1D", "mean"))
}

func TestRollingBaseline_ExcludesCurrentObservation(t *testing.T) {
	values := []float64{10, 10, 10, 100}

	b := rollingBaseline(values, 3, 30, 0.1)

	assert.Equal(t, 10.0, b.Mean, "spike at idx must not contaminate its own baseline")
	assert.Equal(t, 3, b.Periods)
}

func TestRollingBaseline_FirstObservationNeverAnomalous(t *testing.T) {
	b := rollingBaseline([]float64{42}, 0, 30, 0.1)

	assert.Equal(t, 42.0, b.Mean)
	assert.Equal(t, 0.1, b.Std)
	assert.Equal(t, 0, b.Periods)
}

func TestRollingBaseline_StdFloor(t *testing.T) {
	// Constant history has zero sample deviation; the floor keeps the
	// z-score finite.
	b := rollingBaseline([]float64{10, 10, 10, 10, 20}, 4, 30, 0.1)
	assert.Equal(t, 0.1, b.Std)
}

func TestRollingBaseline_WindowLimit(t *testing.T) {
	values := []float64{100, 100, 1, 2, 3, 50}

	b := rollingBaseline(values, 5, 3, 0.1)

	assert.Equal(t, 3, b.Periods, "only the window-most-recent priors count")
	assert.Equal(t, 2.0, b.Mean)
}

func TestSampleStd_UsesSampleVariance(t *testing.T) {
	s, ok := sampleStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.True(t, ok)
	assert.InDelta(t, 2.138, s, 0.001)

	_, ok = sampleStd([]float64{1})
	assert.False(t, ok)
}

func TestAggregate_Functions(t *testing.T) {
	vals := []float64{1, 2, 3, 4}

	assert.Equal(t, 10.0, aggregate(vals, "sum"))
	assert.Equal(t, 4.0, aggregate(vals, "max"))
	assert.Equal(t, 1.0, aggregate(vals, "min"))
	assert.Equal(t, 4.0, aggregate(vals, "count"))
	assert.Equal(t, 2.5, aggregate(vals, "mean"))
}
