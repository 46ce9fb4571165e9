// Package alert turns processed detections into alerts and publishes
// them to external alerting systems.
package alert

import (
	"fmt"
	"regexp"
	"strings"
)

// Template renders alert title and text from a detection context using
// {{placeholder}} interpolation. Unknown placeholders render empty.
type Template struct {
	ID              string
	Name            string
	Category        string
	DetectorVariant string // empty matches any variant
	Language        string
	Title           string
	Text            string
	Active          bool
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

func (t *Template) Render(context map[string]any) (title, text string) {
	return interpolate(t.Title, context), interpolate(t.Text, context)
}

func interpolate(s string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := strings.TrimSpace(strings.Trim(m, "{}"))
		v, ok := context[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// TemplateSet holds the configured alert templates and resolves the
// most specific active match for a detection: category plus detector
// variant first, then category alone.
type TemplateSet struct {
	templates []*Template
}

func NewTemplateSet(templates ...*Template) *TemplateSet {
	return &TemplateSet{templates: templates}
}

func (s *TemplateSet) Add(t *Template) {
	s.templates = append(s.templates, t)
}

func (s *TemplateSet) Find(category, detectorVariant string) *Template {
	var fallback *Template
	for _, t := range s.templates {
		if !t.Active || t.Category != category {
			continue
		}
		if t.DetectorVariant == detectorVariant {
			return t
		}
		if t.DetectorVariant == "" && fallback == nil {
			fallback = t
		}
	}
	return fallback
}

func (s *TemplateSet) Len() int {
	return len(s.templates)
}
