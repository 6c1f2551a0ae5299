package settings

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// ValueType is the declared type of a settings entry, inferred from its default.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeBool   ValueType = "bool"
)

// Entry is a single declared settings key: its type, default value, optional
// validation constraints and a human-readable description.
type Entry struct {
	Key         string
	Type        ValueType
	Default     interface{}
	Description string
	Min         *float64
	Max         *float64
	Enum        []interface{}
}

// Schema is a module's ordered set of declared settings entries.
type Schema struct {
	Entries []Entry
}

type rawEntry struct {
	Default     interface{}   `toml:"default"`
	Description string        `toml:"description"`
	Min         *float64      `toml:"min"`
	Max         *float64      `toml:"max"`
	Enum        []interface{} `toml:"enum"`
}

// ParseSchemaFile reads and parses a settings_schema.toml file.
func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema parses a settings schema document. Each top-level table declares
// one key:
//
//	[retries]
//	default = 3
//	description = "How many times to retry a failed request."
//	min = 0
//	max = 10
func ParseSchema(data []byte) (*Schema, error) {
	var raw map[string]rawEntry
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings schema: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	schema := &Schema{Entries: make([]Entry, 0, len(raw))}
	for _, key := range keys {
		re := raw[key]
		if re.Default == nil {
			return nil, &ValidationError{Key: key, Reason: "schema entry must declare a default"}
		}
		vt, err := typeOf(re.Default)
		if err != nil {
			return nil, &ValidationError{Key: key, Reason: err.Error()}
		}
		entry := Entry{
			Key:         key,
			Type:        vt,
			Default:     normalize(re.Default),
			Description: re.Description,
			Min:         re.Min,
			Max:         re.Max,
			Enum:        re.Enum,
		}
		if err := entry.validate(entry.Default); err != nil {
			return nil, fmt.Errorf("schema default for %q: %w", key, err)
		}
		schema.Entries = append(schema.Entries, entry)
	}
	return schema, nil
}

// typeOf infers the entry type from a decoded TOML value.
func typeOf(v interface{}) (ValueType, error) {
	switch v.(type) {
	case string:
		return TypeString, nil
	case int64, int:
		return TypeInt, nil
	case float64:
		return TypeFloat, nil
	case bool:
		return TypeBool, nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// normalize widens decoded integers to int64 so stored values compare cleanly.
func normalize(v interface{}) interface{} {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}

// validate checks a value against the entry's type and constraints.
func (e Entry) validate(value interface{}) error {
	value = normalize(value)
	switch e.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
	case TypeInt:
		if _, ok := value.(int64); !ok {
			return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("expected integer, got %T", value)}
		}
	case TypeFloat:
		switch value.(type) {
		case float64, int64:
			// integers are acceptable where floats are declared
		default:
			return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("expected float, got %T", value)}
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
	}

	if e.Min != nil || e.Max != nil {
		if n, ok := asFloat(value); ok {
			if e.Min != nil && n < *e.Min {
				return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("value %v below minimum %v", value, *e.Min)}
			}
			if e.Max != nil && n > *e.Max {
				return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("value %v above maximum %v", value, *e.Max)}
			}
		}
	}

	if len(e.Enum) > 0 {
		for _, allowed := range e.Enum {
			if normalize(allowed) == value {
				return nil
			}
		}
		return &ValidationError{Key: e.Key, Reason: fmt.Sprintf("value %v not in allowed set %v", value, e.Enum)}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
