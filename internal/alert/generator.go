package alert

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/earlywatch/sentinel/internal/detector"
	"github.com/earlywatch/sentinel/internal/models"
)

// Generator builds alerts from processed detections. A matching
// template drives the title and text; without one a readable default is
// generated. Severity and validity period are derived per detector
// variant.
type Generator struct {
	templates *TemplateSet
	now       func() time.Time
}

func NewGenerator(templates *TemplateSet) *Generator {
	if templates == nil {
		templates = NewTemplateSet()
	}
	return &Generator{templates: templates, now: time.Now}
}

func (g *Generator) Generate(d *models.Detection) *models.Alert {
	a := models.NewAlert()
	a.Category = d.Category
	a.EventDate = d.Timestamp
	a.Locations = append([]models.LocationRef(nil), d.Locations...)
	a.Source = d.DetectorName
	a.Confidence = d.Confidence
	a.Severity = severityFor(d)
	a.ValidFrom = g.now().UTC()
	a.ValidUntil = a.ValidFrom.AddDate(0, 0, validityDaysFor(d))

	variant, _ := d.Data["detector_type"].(string)
	if t := g.templates.Find(d.Category, variant); t != nil {
		a.Title, a.Text = t.Render(templateContext(d))
		return a
	}

	a.Title, a.Text = defaultContent(d)
	log.Printf("No alert template for category %q, using default content", d.Category)
	return a
}

func templateContext(d *models.Detection) map[string]any {
	names := make([]string, 0, len(d.Locations))
	for _, l := range d.Locations {
		names = append(names, l.Name)
	}
	context := map[string]any{
		"detector_name":       d.DetectorName,
		"detection_timestamp": d.Timestamp.Format("2006-01-02"),
		"confidence_score":    fmt.Sprintf("%.0f%%", d.Confidence*100),
		"location_names":      strings.Join(names, ", "),
		"category":            d.Category,
	}
	if len(names) > 0 {
		context["primary_location"] = names[0]
	}
	// Detection data keys are available to templates directly.
	for k, v := range d.Data {
		if _, taken := context[k]; !taken {
			context[k] = v
		}
	}
	return context
}

func defaultContent(d *models.Detection) (title, text string) {
	names := make([]string, 0, len(d.Locations))
	for _, l := range d.Locations {
		names = append(names, l.Name)
	}
	where := "Unknown location"
	if len(names) > 0 {
		where = strings.Join(names, ", ")
	}

	category := d.Category
	if category == "" {
		category = "Alert"
	}

	title = d.Title
	if title == "" {
		title = fmt.Sprintf("%s detected in %s", category, where)
	}

	text = fmt.Sprintf("A %s condition has been detected in %s on %s.",
		strings.ToLower(category), where, d.Timestamp.Format("2006-01-02"))
	if d.Confidence > 0 {
		text += fmt.Sprintf(" Detection confidence: %.1f%%", d.Confidence*100)
	}
	text += fmt.Sprintf("\n\nDetected by: %s", d.DetectorName)
	if headline, ok := d.Data["text"].(string); ok && headline != "" {
		if len(headline) > 200 {
			headline = headline[:200]
		}
		text += fmt.Sprintf("\n\nSource: %s", headline)
	}
	return title, text
}

// severityFor maps a detection to a 1-5 severity. Statistical variants
// carry their own signal strength in the detection data; everything
// else falls back to confidence bands.
func severityFor(d *models.Detection) int {
	switch d.Data["detector_type"] {
	case detector.VariantZScore:
		if level, ok := asInt(d.Data["alert_level"]); ok {
			return level + 1
		}
	case detector.VariantThreshold:
		return thresholdSeverity(d)
	case detector.VariantSurge:
		if factor, ok := asFloat(d.Data["surge_factor"]); ok {
			return surgeSeverity(factor)
		}
	}
	// zscore detections written before detector_type tagging still
	// carry alert_level.
	if level, ok := asInt(d.Data["alert_level"]); ok {
		return level + 1
	}
	return confidenceSeverity(d.Confidence)
}

func confidenceSeverity(confidence float64) int {
	switch {
	case confidence == 0:
		return 3
	case confidence >= 0.8:
		return 4
	case confidence >= 0.6:
		return 3
	case confidence >= 0.4:
		return 2
	default:
		return 1
	}
}

func thresholdSeverity(d *models.Detection) int {
	value, okV := asFloat(d.Data["value"])
	threshold, okT := asFloat(d.Data["threshold_value"])
	operator, _ := d.Data["operator"].(string)
	if !okV || !okT {
		return 3
	}
	if operator == "eq" || operator == "ne" {
		return 3
	}

	var diffPercent float64
	if threshold == 0 {
		diffPercent = math.Abs(value-threshold) * 100
	} else {
		diffPercent = math.Abs((value-threshold)/threshold) * 100
	}
	switch {
	case diffPercent >= 100:
		return 5
	case diffPercent >= 50:
		return 4
	case diffPercent >= 20:
		return 3
	case diffPercent >= 10:
		return 2
	default:
		return 1
	}
}

func surgeSeverity(factor float64) int {
	switch {
	case factor >= 5.0:
		return 5
	case factor >= 3.0:
		return 4
	case factor >= 2.0:
		return 3
	case factor >= 1.5:
		return 2
	default:
		return 1
	}
}

// validityDaysFor: higher-level statistical alerts stay valid longer;
// everything else expires after a week.
func validityDaysFor(d *models.Detection) int {
	if level, ok := asInt(d.Data["alert_level"]); ok {
		switch level {
		case 1:
			return 3
		case 2:
			return 5
		case 3:
			return 7
		case 4:
			return 10
		}
	}
	return 7
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
