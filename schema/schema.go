// Package schema describes capability inputs as a declarative tree and
// validates decoded JSON values against it.
//
// A schema is built from constructors and options:
//
//	s := schema.Object(
//	    schema.Required("a", schema.Number(schema.Describe("First number"))),
//	    schema.Required("b", schema.Number()),
//	    schema.Optional("steps", schema.Integer(schema.Positive(), schema.Default(5))),
//	)
//
// Validation walks object fields in declared order and array elements in
// index order and stops at the first violation, so the reported field is
// deterministic.
package schema

import (
	"fmt"
	"regexp"
)

// Type is the JSON type a schema node accepts.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// Format is a named string format constraint.
type Format string

const (
	FormatEmail Format = "email"
	FormatURL   Format = "uri"
)

// Schema is one node of a declarative schema tree. Nodes are built with the
// constructors in this package and must not be modified once in use.
type Schema struct {
	Type        Type
	Description string

	Enum []any

	Minimum  *float64
	Maximum  *float64
	Positive bool

	MinLength *int
	MaxLength *int
	Format    Format
	Pattern   *regexp.Regexp

	Fields []Field

	Items    *Schema
	MinItems *int
	MaxItems *int

	Default    any
	HasDefault bool
}

// Field is a named member of an object schema.
type Field struct {
	Name     string
	Schema   *Schema
	Required bool
}

// Option configures a schema node.
type Option func(*Schema)

func newNode(t Type, opts []Option) *Schema {
	s := &Schema{Type: t}
	for _, o := range opts {
		o(s)
	}
	return s
}

// String returns a string node.
func String(opts ...Option) *Schema { return newNode(TypeString, opts) }

// Number returns a node accepting any JSON number.
func Number(opts ...Option) *Schema { return newNode(TypeNumber, opts) }

// Integer returns a node accepting JSON numbers without a fractional part.
func Integer(opts ...Option) *Schema { return newNode(TypeInteger, opts) }

// Boolean returns a boolean node.
func Boolean(opts ...Option) *Schema { return newNode(TypeBoolean, opts) }

// Array returns an array node whose elements must satisfy items.
func Array(items *Schema, opts ...Option) *Schema {
	s := newNode(TypeArray, opts)
	s.Items = items
	return s
}

// Object returns an object node with the given fields in declared order.
// Field names must be unique.
func Object(fields ...Field) *Schema {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate field %q", f.Name))
		}
		seen[f.Name] = struct{}{}
	}
	return &Schema{Type: TypeObject, Fields: fields}
}

// With applies additional options to s and returns it. It is meant for
// decorating Object and Array nodes at construction time.
func (s *Schema) With(opts ...Option) *Schema {
	for _, o := range opts {
		o(s)
	}
	return s
}

// Required declares a field that must be present.
func Required(name string, s *Schema) Field {
	return Field{Name: name, Schema: s, Required: true}
}

// Optional declares a field that may be absent. If its schema carries a
// default, the default is filled in when the field is absent.
func Optional(name string, s *Schema) Field {
	return Field{Name: name, Schema: s}
}

// Describe sets the human readable description.
func Describe(desc string) Option {
	return func(s *Schema) { s.Description = desc }
}

// Enum restricts values to the given set. Numbers compare by value, so
// Enum(1, 2) accepts a decoded float64(1).
func Enum(values ...any) Option {
	return func(s *Schema) { s.Enum = append([]any(nil), values...) }
}

// Min sets an inclusive lower bound for numbers.
func Min(v float64) Option {
	return func(s *Schema) { s.Minimum = &v }
}

// Max sets an inclusive upper bound for numbers.
func Max(v float64) Option {
	return func(s *Schema) { s.Maximum = &v }
}

// Positive requires numbers to be strictly greater than zero.
func Positive() Option {
	return func(s *Schema) { s.Positive = true }
}

// MinLength sets the minimum string length in runes.
func MinLength(n int) Option {
	return func(s *Schema) { s.MinLength = &n }
}

// MaxLength sets the maximum string length in runes.
func MaxLength(n int) Option {
	return func(s *Schema) { s.MaxLength = &n }
}

// WithFormat requires strings to match a named format.
func WithFormat(f Format) Option {
	return func(s *Schema) { s.Format = f }
}

// Pattern requires strings to match expr. It panics if expr does not compile.
func Pattern(expr string) Option {
	re := regexp.MustCompile(expr)
	return func(s *Schema) { s.Pattern = re }
}

// MinItems sets the minimum array length.
func MinItems(n int) Option {
	return func(s *Schema) { s.MinItems = &n }
}

// MaxItems sets the maximum array length.
func MaxItems(n int) Option {
	return func(s *Schema) { s.MaxItems = &n }
}

// Default sets the value used when an optional field is absent.
func Default(v any) Option {
	return func(s *Schema) {
		s.Default = v
		s.HasDefault = true
	}
}
