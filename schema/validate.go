package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationError reports the first value that failed its schema.
type ValidationError struct {
	// Path locates the offending value, e.g. "a", "user.email" or "items[2]".
	// It is empty for the root value.
	Path string
	// Constraint describes what was expected, e.g. "number" or ">= 1".
	Constraint string
	// Value is the offending value; nil for a missing required field.
	Value any
}

const constraintRequired = "required"

func (e *ValidationError) Error() string {
	path := e.Path
	if path == "" {
		path = "(root)"
	}
	if e.Constraint == constraintRequired {
		return fmt.Sprintf("invalid arguments: %s: required field is missing", path)
	}
	return fmt.Sprintf("invalid arguments: %s: expected %s, got %s", path, e.Constraint, describe(e.Value))
}

// Validate checks value against s and returns the coerced value: absent
// optional fields with defaults are filled in and undeclared object keys
// are dropped. value is expected to be the result of decoding JSON into an
// interface value. The input is not modified.
func Validate(s *Schema, value any) (any, error) {
	if s == nil {
		return value, nil
	}
	return validate("", s, value)
}

// ValidateJSON decodes raw and validates it against s. An empty or null
// payload is treated as an empty object so that argument-less invocations
// validate against object schemas.
func ValidateJSON(s *Schema, raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, &ValidationError{Constraint: "JSON object", Value: string(trimmed)}
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, &ValidationError{Constraint: "object", Value: decoded}
	}
	out, err := Validate(s, decoded)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, &ValidationError{Constraint: "object", Value: out}
	}
	return m, nil
}

func validate(path string, s *Schema, v any) (any, error) {
	switch s.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(path, "string", v)
		}
		return str, validateString(path, s, str)

	case TypeNumber, TypeInteger:
		n, ok := toFloat(v)
		if !ok {
			return nil, mismatch(path, string(s.Type), v)
		}
		return n, validateNumber(path, s, n)

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, "boolean", v)
		}
		return b, validateEnum(path, s, b)

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, "object", v)
		}
		return validateObject(path, s, m)

	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, "array", v)
		}
		return validateArray(path, s, arr)
	}

	// Untyped nodes accept any value.
	return v, validateEnum(path, s, v)
}

func validateObject(path string, s *Schema, m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		fieldPath := joinPath(path, f.Name)
		val, present := m[f.Name]
		if !present {
			if f.Required {
				return nil, &ValidationError{Path: fieldPath, Constraint: constraintRequired}
			}
			if f.Schema != nil && f.Schema.HasDefault {
				out[f.Name] = normalize(f.Schema.Default)
			}
			continue
		}
		if f.Schema == nil {
			out[f.Name] = val
			continue
		}
		coerced, err := validate(fieldPath, f.Schema, val)
		if err != nil {
			return nil, err
		}
		out[f.Name] = coerced
	}
	return out, nil
}

func validateArray(path string, s *Schema, arr []any) ([]any, error) {
	if s.MinItems != nil && len(arr) < *s.MinItems {
		return nil, &ValidationError{Path: path, Constraint: fmt.Sprintf("at least %d items", *s.MinItems), Value: arr}
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		return nil, &ValidationError{Path: path, Constraint: fmt.Sprintf("at most %d items", *s.MaxItems), Value: arr}
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		if s.Items == nil {
			out[i] = el
			continue
		}
		coerced, err := validate(fmt.Sprintf("%s[%d]", path, i), s.Items, el)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func validateString(path string, s *Schema, str string) error {
	if err := validateEnum(path, s, str); err != nil {
		return err
	}
	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		return &ValidationError{Path: path, Constraint: fmt.Sprintf("length >= %d", *s.MinLength), Value: str}
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return &ValidationError{Path: path, Constraint: fmt.Sprintf("length <= %d", *s.MaxLength), Value: str}
	}
	switch s.Format {
	case FormatEmail:
		if !isEmail(str) {
			return &ValidationError{Path: path, Constraint: "email address", Value: str}
		}
	case FormatURL:
		if !isURL(str) {
			return &ValidationError{Path: path, Constraint: "URL", Value: str}
		}
	}
	if s.Pattern != nil && !s.Pattern.MatchString(str) {
		return &ValidationError{Path: path, Constraint: "match for pattern " + s.Pattern.String(), Value: str}
	}
	return nil
}

func validateNumber(path string, s *Schema, n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return mismatch(path, "finite number", n)
	}
	if s.Type == TypeInteger && n != math.Trunc(n) {
		return mismatch(path, "integer", n)
	}
	if err := validateEnum(path, s, n); err != nil {
		return err
	}
	if s.Positive && n <= 0 {
		return &ValidationError{Path: path, Constraint: "> 0", Value: n}
	}
	if s.Minimum != nil && n < *s.Minimum {
		return &ValidationError{Path: path, Constraint: ">= " + formatFloat(*s.Minimum), Value: n}
	}
	if s.Maximum != nil && n > *s.Maximum {
		return &ValidationError{Path: path, Constraint: "<= " + formatFloat(*s.Maximum), Value: n}
	}
	return nil
}

func validateEnum(path string, s *Schema, v any) error {
	if len(s.Enum) == 0 {
		return nil
	}
	for _, allowed := range s.Enum {
		if scalarEqual(allowed, v) {
			return nil
		}
	}
	opts := make([]string, len(s.Enum))
	for i, e := range s.Enum {
		opts[i] = describe(e)
	}
	return &ValidationError{Path: path, Constraint: "one of " + strings.Join(opts, ", "), Value: v}
}

func mismatch(path, want string, v any) *ValidationError {
	return &ValidationError{Path: path, Constraint: want, Value: v}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize converts Go numeric defaults to float64 so handlers see the
// same representation as decoded JSON.
func normalize(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func scalarEqual(a, b any) bool {
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if f, ok := toFloat(v); ok {
		return formatFloat(f)
	}
	return fmt.Sprintf("%v", v)
}
