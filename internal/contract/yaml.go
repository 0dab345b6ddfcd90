package contract

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Spec is a YAML payload contract:
//
//	event: ScoreRequested
//	version: 1
//	strictMode: true
//	fields:
//	  request_id: string!
//	  score:
//	    type: double
//	    min: 0
//	    max: 100
type Spec struct {
	Event       string            `yaml:"event"`
	Version     int               `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	StrictMode  bool              `yaml:"strictMode,omitempty"`
	Fields      map[string]*Field `yaml:"fields"`
}

// Field accepts a shorthand scalar ("int32!") or a mapping with a type key.
// Types: string, bool, int32, int64, float, double. "!" marks it required.
type Field struct {
	Type      string        `yaml:"type"`
	Kind      string        `yaml:"-"`
	Required  bool          `yaml:"required,omitempty"`
	Enum      []interface{} `yaml:"enum,omitempty"`
	Min       *float64      `yaml:"min,omitempty"`
	Max       *float64      `yaml:"max,omitempty"`
	MinLength *int          `yaml:"minLength,omitempty"`
	MaxLength *int          `yaml:"maxLength,omitempty"`
	Pattern   string        `yaml:"pattern,omitempty"`

	pattern *regexp.Regexp
}

func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseType(value.Value)
	}

	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)
	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.parseType(f.Type)
}

func (f *Field) parseType(s string) error {
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}
	switch s {
	case "string":
		f.Type = "string"
	case "bool":
		f.Type = "boolean"
	case "int32", "int64", "float", "double":
		f.Type = "number"
		f.Kind = s
	default:
		return fmt.Errorf("unsupported type %q (must be: string, bool, int32, int64, float, double)", s)
	}
	return nil
}

// parseSpec decodes and checks a YAML definition against its lookup key.
func parseSpec(key Key, definition []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(definition, &spec); err != nil {
		return nil, fmt.Errorf("parse yaml contract %s: %w", key, err)
	}
	if spec.Event != key.EventType {
		return nil, fmt.Errorf("contract %s declares event %q", key, spec.Event)
	}
	if spec.Version != key.Version {
		return nil, fmt.Errorf("contract %s declares version %d", key, spec.Version)
	}
	if len(spec.Fields) == 0 {
		return nil, fmt.Errorf("contract %s defines no fields", key)
	}
	for name, field := range spec.Fields {
		if field == nil {
			return nil, fmt.Errorf("contract %s: field %q has no type", key, name)
		}
		if err := field.check(); err != nil {
			return nil, fmt.Errorf("contract %s: field %q: %w", key, name, err)
		}
	}
	return &spec, nil
}

func (f *Field) check() error {
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min %v > max %v", *f.Min, *f.Max)
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("minLength %d > maxLength %d", *f.MinLength, *f.MaxLength)
	}
	if f.Type != "string" && (f.Pattern != "" || f.MinLength != nil || f.MaxLength != nil) {
		return fmt.Errorf("string constraints on %s field", f.Type)
	}
	if f.Type != "number" && (f.Min != nil || f.Max != nil) {
		return fmt.Errorf("numeric constraints on %s field", f.Type)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		f.pattern = re
	}
	return nil
}

func (s *Spec) validate(payload map[string]interface{}, v *violations) {
	if s.StrictMode {
		for name := range payload {
			if _, ok := s.Fields[name]; !ok {
				v.add(name, "unknown field")
			}
		}
	}

	for name, field := range s.Fields {
		value, present := payload[name]
		if !present || value == nil {
			if field.Required {
				v.add(name, "required field missing")
			}
			continue
		}
		field.validate(name, value, v)
	}
}

func (f *Field) validate(name string, value interface{}, v *violations) {
	switch f.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			v.typeMismatch(name, "string", value)
			return
		}
		n := utf8.RuneCountInString(s)
		if f.MinLength != nil && n < *f.MinLength {
			v.add(name, "length %d below minimum %d", n, *f.MinLength)
		}
		if f.MaxLength != nil && n > *f.MaxLength {
			v.add(name, "length %d above maximum %d", n, *f.MaxLength)
		}
		if f.pattern != nil && !f.pattern.MatchString(s) {
			v.add(name, "does not match pattern %q", f.Pattern)
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			v.typeMismatch(name, "bool", value)
			return
		}

	case "number":
		n, ok := toFloat(value)
		if !ok {
			v.typeMismatch(name, f.Kind, value)
			return
		}
		switch f.Kind {
		case "int32":
			if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
				v.add(name, "%v is not a valid int32", n)
				return
			}
		case "int64":
			if n != math.Trunc(n) || n < -(1<<63) || n >= 1<<63 {
				v.add(name, "%v is not a valid int64", n)
				return
			}
		case "float":
			if math.Abs(n) > math.MaxFloat32 {
				v.add(name, "%v overflows float", n)
				return
			}
		}
		if f.Min != nil && n < *f.Min {
			v.add(name, "%v below minimum %v", n, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			v.add(name, "%v above maximum %v", n, *f.Max)
		}
	}

	if len(f.Enum) > 0 && !inEnum(f.Enum, value) {
		v.add(name, "value %v not in enum", value)
	}
}

func inEnum(enum []interface{}, value interface{}) bool {
	for _, want := range enum {
		if wn, ok := toFloat(want); ok {
			if gn, ok := toFloat(value); ok && wn == gn {
				return true
			}
			continue
		}
		if want == value {
			return true
		}
	}
	return false
}
