package detector

import (
	"math"
	"sort"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
)

// Rolling time-series helpers shared by the statistical variants.

type point struct {
	Period time.Time
	Value  float64
}

type series struct {
	LocationID   string
	LocationName string
	AdminLevel   int
	Points       []point
}

// resample groups readings per location into period buckets and
// aggregates each bucket. Points come back in chronological order;
// irregular spacing is preserved (empty periods are not filled in), so
// the baseline window counts observations, not calendar periods.
func resample(readings []models.Reading, freq, agg string) []series {
	type bucketKey struct {
		loc    string
		period time.Time
	}
	buckets := make(map[bucketKey][]float64)
	meta := make(map[string]models.Reading)

	for _, r := range readings {
		if r.LocationID == "" {
			continue
		}
		k := bucketKey{loc: r.LocationID, period: truncatePeriod(r.EventTime(), freq)}
		buckets[k] = append(buckets[k], r.Value)
		meta[r.LocationID] = r
	}

	byLoc := make(map[string][]point)
	for k, vals := range buckets {
		byLoc[k.loc] = append(byLoc[k.loc], point{Period: k.period, Value: aggregate(vals, agg)})
	}

	out := make([]series, 0, len(byLoc))
	for loc, pts := range byLoc {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Period.Before(pts[j].Period) })
		r := meta[loc]
		out = append(out, series{
			LocationID:   loc,
			LocationName: r.LocationName,
			AdminLevel:   r.AdminLevel,
			Points:       pts,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

func truncatePeriod(t time.Time, freq string) time.Time {
	t = t.UTC()
	switch freq {
	case "1W":
		// Weeks start on Monday.
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case "1M":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // 1D
		return t.Truncate(24 * time.Hour)
	}
}

func aggregate(vals []float64, agg string) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch agg {
	case "sum":
		return sum(vals)
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m
	case "std":
		s, ok := sampleStd(vals)
		if !ok {
			return 0
		}
		return s
	case "count":
		return float64(len(vals))
	default: // mean
		return sum(vals) / float64(len(vals))
	}
}

// baseline holds rolling statistics over the observations preceding a
// point, never including the point itself.
type baseline struct {
	Mean    float64
	Std     float64
	Periods int
}

// rollingBaseline computes the trailing-window baseline for values[idx]
// from up to window prior observations. The standard deviation is the
// sample deviation, floored at minStd; with fewer than two prior
// observations it falls back to minStd. The very first observation has
// no history: its mean defaults to its own value so it can never score
// as anomalous.
func rollingBaseline(values []float64, idx, window int, minStd float64) baseline {
	lo := idx - window
	if lo < 0 {
		lo = 0
	}
	prior := values[lo:idx]

	b := baseline{Std: minStd, Periods: len(prior)}
	if len(prior) == 0 {
		b.Mean = values[idx]
		return b
	}
	b.Mean = sum(prior) / float64(len(prior))
	if s, ok := sampleStd(prior); ok {
		b.Std = math.Max(s, minStd)
	}
	return b
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

// sampleStd returns the sample standard deviation (n-1 divisor).
// Undefined for fewer than two values.
func sampleStd(vals []float64) (float64, bool) {
	n := len(vals)
	if n < 2 {
		return 0, false
	}
	mean := sum(vals) / float64(n)
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1)), true
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
