package schema

import (
	"encoding/json"
	"fmt"

	"github.com/acteon/acteon/internal/fault"
)

// Validate checks params against the schema: required fields present and
// non-nil, and each present field's runtime kind matching its declared
// type. Failures aggregate into a single validation error carrying every
// reason found.
func Validate(params map[string]any, s Schema) error {
	var details []string

	for _, name := range s.Required {
		v, ok := params[name]
		if !ok || v == nil {
			details = append(details, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	for name, v := range params {
		p, declared := s.Properties[name]
		if !declared {
			continue
		}
		if v == nil {
			continue
		}
		if !kindMatches(v, p.Type) {
			details = append(details, fmt.Sprintf("parameter %q: expected %s, got %s", name, p.Type, kindName(v)))
		}
	}

	if len(details) > 0 {
		return fault.Validation(details...)
	}
	return nil
}

func kindMatches(v any, declared string) bool {
	switch declared {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		// Arrays are not objects even though both decode from JSON compounds.
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func kindName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
