package detector

import (
	"encoding/json"
	"fmt"
	"slices"
)

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBool    FieldType = "boolean"
	TypeList    FieldType = "list"
	TypeObject  FieldType = "object"
)

// Field describes one configuration key of a detector variant.
type Field struct {
	Type        FieldType
	Required    bool
	Enum        []string
	Min         *float64
	Max         *float64
	Default     any
	Description string
}

// Schema describes the configuration surface of a detector variant.
// Validation is strict: keys not named in the schema are rejected so
// that typos in stored configuration surface immediately.
type Schema struct {
	Title  string
	Fields map[string]Field
}

// Common keys every variant accepts regardless of its own schema.
var sharedFields = map[string]Field{
	"disable_deduplication": {Type: TypeBool, Description: "Skip duplicate suppression for this detector"},
}

func (s Schema) Validate(raw map[string]any) error {
	for name, f := range s.Fields {
		v, ok := raw[name]
		if !ok {
			if f.Required {
				return &ConfigError{Field: name, Reason: "required"}
			}
			continue
		}
		if err := checkField(name, f, v); err != nil {
			return err
		}
	}
	for name := range raw {
		if _, ok := s.Fields[name]; ok {
			continue
		}
		if _, ok := sharedFields[name]; ok {
			continue
		}
		return &ConfigError{Field: name, Reason: "unknown configuration key"}
	}
	return nil
}

func checkField(name string, f Field, v any) error {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return &ConfigError{Field: name, Reason: "expected string"}
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("must be one of %v", f.Enum)}
		}
	case TypeNumber, TypeInteger:
		n, ok := asFloat(v)
		if !ok {
			return &ConfigError{Field: name, Reason: "expected number"}
		}
		if f.Type == TypeInteger && n != float64(int64(n)) {
			return &ConfigError{Field: name, Reason: "expected integer"}
		}
		if f.Min != nil && n < *f.Min {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("must be >= %v", *f.Min)}
		}
		if f.Max != nil && n > *f.Max {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("must be <= %v", *f.Max)}
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return &ConfigError{Field: name, Reason: "expected boolean"}
		}
	case TypeList:
		if _, ok := v.([]any); !ok {
			return &ConfigError{Field: name, Reason: "expected list"}
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return &ConfigError{Field: name, Reason: "expected object"}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func bound(v float64) *float64 { return &v }
