package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`           // Field that failed validation
	Value   any    `json:"value,omitempty"` // Value that was provided
	Message string `json:"message"`         // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate checks args against params: unexpected names (unless allowExtra),
// missing required parameters, JSON type mismatches and enum membership.
// Parameters are checked in declaration order so the first error is stable.
func Validate(params []Parameter, args map[string]any, allowExtra bool) error {
	if !allowExtra {
		known := make(map[string]struct{}, len(params))
		for _, p := range params {
			known[p.Name] = struct{}{}
		}
		var extra []string
		for k := range args {
			if _, ok := known[k]; !ok {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return &ValidationError{Field: extra[0], Value: args[extra[0]], Message: "unexpected parameter"}
		}
	}

	for _, p := range params {
		value, exists := args[p.Name]
		if !exists {
			if p.Required {
				return &ValidationError{Field: p.Name, Message: "required parameter is missing"}
			}
			continue
		}
		if value == nil {
			if p.Required {
				return &ValidationError{Field: p.Name, Message: "required parameter must not be null"}
			}
			continue
		}

		if !isValidType(value, p.Type) {
			return &ValidationError{
				Field:   p.Name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %s", p.Type, describe(value)),
			}
		}

		if len(p.Enum) > 0 && value != nil && !enumContains(p.Enum, value) {
			return &ValidationError{
				Field:   p.Name,
				Value:   value,
				Message: fmt.Sprintf("value must be one of %v", p.Enum),
			}
		}
	}

	return nil
}

var (
	validateOnce sync.Once
	structCheck  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structCheck = validator.New(validator.WithRequiredStructEnabled())
		structCheck.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := jsonTagName(f.Tag.Get("json"))
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return structCheck
}

// Bind decodes args (with parameter defaults filled in) into a new value of
// type t and runs `validate` struct tag constraints on it. The returned value
// has type t.
func Bind(t reflect.Type, params []Parameter, args map[string]any) (reflect.Value, error) {
	merged := make(map[string]any, len(args)+len(params))
	for _, p := range params {
		if p.Default != nil {
			merged[p.Name] = p.Default
		}
	}
	for k, v := range args {
		if _, hasDefault := merged[k]; hasDefault && v == nil {
			continue
		}
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return reflect.Value{}, &ValidationError{Message: fmt.Sprintf("arguments are not JSON encodable: %v", err)}
	}

	base := deref(t)
	ptr := reflect.New(base)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, decodeError(err)
	}

	if base.Kind() == reflect.Struct {
		if err := structValidator().Struct(ptr.Interface()); err != nil {
			return reflect.Value{}, constraintError(err)
		}
	}

	if t.Kind() == reflect.Ptr {
		return ptr, nil
	}
	return ptr.Elem(), nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("cannot use %s as %s", typeErr.Value, typeErr.Type),
		}
	}
	return &ValidationError{Message: err.Error()}
}

func constraintError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param())
		}
		return &ValidationError{Field: fieldPath(fe.Namespace()), Value: fe.Value(), Message: msg}
	}
	return &ValidationError{Message: err.Error()}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true // nil is valid for any type
	}

	switch expectedType {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float32:
			return v == float32(int64(v))
		case float64: // JSON unmarshaling often produces float64 for numbers
			return v == float64(int64(v))
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case TypeObject:
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct ||
			(rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Struct)
	default:
		return true // TypeAny and unknown types are unconstrained
	}
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, json.Number:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func enumContains(enum []any, v any) bool {
	if f, ok := toFloat(v); ok {
		for _, e := range enum {
			if ef, ok := toFloat(e); ok && ef == f {
				return true
			}
		}
		return false
	}
	s := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
