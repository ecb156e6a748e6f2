package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sdko-org/query-gateway/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// validateParams checks supplied values against the declared schema:
// unknown names are rejected, required names must be present, optional
// names fall back to their defaults, and every value is coerced to the
// declared type.
func validateParams(schema models.ParameterSchema, supplied map[string]interface{}) (map[string]interface{}, error) {
	for name := range supplied {
		if _, ok := schema[name]; !ok {
			return nil, validationError(fmt.Sprintf("unknown parameter %q", name))
		}
	}

	validated := make(map[string]interface{}, len(schema))
	for name, spec := range schema {
		value, present := supplied[name]
		if !present {
			if spec.Default != nil {
				value = spec.Default
			} else if spec.Required {
				return nil, validationError(fmt.Sprintf("missing required parameter %q", name))
			} else {
				continue
			}
		}

		coerced, err := coerceValue(spec.Type, value)
		if err != nil {
			return nil, validationError(fmt.Sprintf("parameter %q: %v", name, err))
		}
		validated[name] = coerced
	}

	return validated, nil
}

func coerceValue(typ string, value interface{}) (interface{}, error) {
	switch typ {
	case "string":
		switch v := value.(type) {
		case string:
			return v, nil
		case float64, int, int64, bool:
			return fmt.Sprintf("%v", v), nil
		}
	case "int", "integer":
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return parsed, nil
		}
	case "float", "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return parsed, nil
		}
	case "bool", "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return parsed, nil
		}
	default:
		return nil, fmt.Errorf("unsupported type %q", typ)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, typ)
}

// bindTemplate rewrites {{name}} placeholders into bound query parameters
// and returns the argument list in placeholder order. Values never get
// spliced into the SQL text; a repeated placeholder reuses its argument.
func bindTemplate(template string, params map[string]interface{}) (string, []interface{}, error) {
	var args []interface{}
	seen := make(map[string]int)
	var missing string

	bound := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		if pos, ok := seen[name]; ok {
			return fmt.Sprintf("$%d", pos)
		}
		args = append(args, value)
		seen[name] = len(args)
		return fmt.Sprintf("$%d", len(args))
	})

	if missing != "" {
		return "", nil, validationError(fmt.Sprintf("parameter %q has no value", missing))
	}
	return bound, args, nil
}

func validationError(detail string) *ExecutionError {
	return &ExecutionError{Kind: KindValidation, Detail: detail}
}
