// Package schema derives tool parameter schemas from Go types and validates
// and binds model supplied arguments against them.
package schema

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// Parameter types. TypeAny carries no constraints.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// ErrUnsupportedType is reported for field types that have no JSON representation.
var ErrUnsupportedType = errors.New("unsupported parameter type")

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Schema is the nested schema of array and object parameters.
	Schema *jsonschema.Schema `json:"-"`
}

// FieldError reports a field whose schema could not be derived. The field is
// still exposed with an unconstrained TypeAny schema.
type FieldError struct {
	Field  string
	GoType string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("schema for field %q (%s): %v", e.Field, e.GoType, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Deriver builds parameter lists from struct types.
type Deriver struct {
	reflector *jsonschema.Reflector
}

// NewDeriver returns a Deriver producing inline (non-referenced) nested schemas.
func NewDeriver() *Deriver {
	return &Deriver{reflector: &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}}
}

// Parameters returns one Parameter per exported field of t in declaration
// order. t may be a struct or pointer to struct; any other type yields no
// parameters. Fields whose schema cannot be derived fall back to TypeAny and
// are reported in the returned slice of *FieldError; the derivation itself
// never fails.
func (d *Deriver) Parameters(t reflect.Type) ([]Parameter, []error) {
	if t == nil {
		return nil, nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, nil
	}

	var (
		params []Parameter
		errs   []error
	)

	d.collect(t, &params, &errs)

	return params, errs
}

func (d *Deriver) collect(t reflect.Type, params *[]Parameter, errs *[]error) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if n, _, _ := strings.Cut(jsonTag, ","); n != "" {
			name = n
		}

		// Embedded structs without an explicit name are flattened like encoding/json does.
		if field.Anonymous && jsonTagName(jsonTag) == "" {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				d.collect(ft, params, errs)
				continue
			}
		}

		if !field.IsExported() {
			continue
		}

		p, err := d.parameter(name, field)
		if err != nil {
			*errs = append(*errs, err)
		}

		*params = append(*params, p)
	}
}

func (d *Deriver) parameter(name string, field reflect.StructField) (Parameter, error) {
	tags := parseTag(field.Tag.Get("jsonschema"))

	p := Parameter{
		Name:        name,
		Description: firstNonEmpty(field.Tag.Get("description"), tags.description, field.Tag.Get("jsonschema_description")),
	}

	// Any field that cannot be described falls back to an unconstrained,
	// optional parameter.
	fallback := func(err error) (Parameter, error) {
		p.Type = TypeAny
		p.Enum, p.Default, p.Schema = nil, nil, nil
		p.Required = false
		return p, &FieldError{Field: name, GoType: field.Type.String(), Err: err}
	}

	ft := field.Type
	pointer := ft.Kind() == reflect.Ptr
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}

	typ, err := jsonType(ft)
	if err != nil {
		return fallback(err)
	}
	p.Type = typ

	if typ == TypeArray || typ == TypeObject {
		s, err := d.nested(ft)
		if err != nil {
			return fallback(err)
		}
		p.Schema = s
	}

	enum := tags.enum
	if raw := field.Tag.Get("enum"); raw != "" {
		enum = append(enum, strings.Split(raw, "|")...)
	}
	for _, e := range enum {
		v, err := parseScalar(ft, e)
		if err != nil {
			return fallback(fmt.Errorf("enum value %q: %w", e, err))
		}
		p.Enum = append(p.Enum, v)
	}

	def := tags.defaultValue
	if raw, ok := field.Tag.Lookup("default"); ok {
		def = &raw
	}
	if def != nil {
		v, err := parseScalar(ft, *def)
		if err != nil {
			return fallback(fmt.Errorf("default %q: %w", *def, err))
		}
		p.Default = v
	}

	p.Required = tags.required || (!hasOmitEmpty(field.Tag.Get("json")) && !pointer && p.Default == nil && typ != TypeAny)

	return p, nil
}

// nested reflects array and object types through invopop/jsonschema. The
// reflector panics on a few exotic shapes; those are reported as errors.
func (d *Deriver) nested(t reflect.Type) (s *jsonschema.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrUnsupportedType, r)
		}
	}()

	s = d.reflector.ReflectFromType(t)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	s.Version = ""
	s.ID = ""
	s.Definitions = nil

	return s, nil
}

// jsonType maps a (dereferenced) Go type to a parameter type.
func jsonType(t reflect.Type) (string, error) {
	if t == timeType {
		return TypeString, nil
	}
	if t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType) {
		if t.Kind() != reflect.Struct && t.Kind() != reflect.Map && t.Kind() != reflect.Slice {
			return TypeString, nil
		}
	}

	switch t.Kind() {
	case reflect.String:
		return TypeString, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger, nil
	case reflect.Float32, reflect.Float64:
		return TypeNumber, nil
	case reflect.Bool:
		return TypeBoolean, nil
	case reflect.Interface:
		return TypeAny, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeString, nil // encoded as base64 by encoding/json
		}
		if _, err := jsonType(deref(t.Elem())); err != nil {
			return "", err
		}
		return TypeArray, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return "", fmt.Errorf("%w: map key %s", ErrUnsupportedType, t.Key())
		}
		if _, err := jsonType(deref(t.Elem())); err != nil {
			return "", err
		}
		return TypeObject, nil
	case reflect.Struct:
		return TypeObject, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t.Kind())
	}
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// parseScalar converts a tag literal to a value of the field's kind.
func parseScalar(t reflect.Type, s string) (any, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(s, 10, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(s, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(s, 64)
	case reflect.Bool:
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

// tagOptions holds the subset of the invopop/jsonschema struct tag syntax
// ("description=...,enum=a,enum=b,default=x,required") used for parameters.
// enum additionally accepts "a|b|c".
type tagOptions struct {
	description  string
	enum         []string
	defaultValue *string
	required     bool
}

func parseTag(tag string) tagOptions {
	var opts tagOptions
	for _, part := range splitEscaped(tag) {
		key, value, _ := strings.Cut(part, "=")
		switch strings.TrimSpace(key) {
		case "description":
			opts.description = value
		case "enum":
			opts.enum = append(opts.enum, strings.Split(value, "|")...)
		case "default":
			v := value
			opts.defaultValue = &v
		case "required":
			opts.required = true
		}
	}
	return opts
}

// splitEscaped splits on commas not preceded by a backslash.
func splitEscaped(s string) []string {
	if s == "" {
		return nil
	}
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == ',':
			cur.WriteByte(',')
			i++
		case s[i] == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(parts, cur.String())
}

func jsonTagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" or "omitzero" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		switch strings.TrimSpace(part) {
		case "omitempty", "omitzero":
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ObjectSchema assembles the JSON schema of an argument object from params.
func ObjectSchema(params []Parameter) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       TypeObject,
		Properties: jsonschema.NewProperties(),
	}
	for _, p := range params {
		s.Properties.Set(p.Name, p.JSONSchema())
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// JSONSchema returns the property schema of a single parameter.
func (p Parameter) JSONSchema() *jsonschema.Schema {
	var s jsonschema.Schema
	if p.Schema != nil {
		s = *p.Schema
	}
	if p.Type != TypeAny {
		s.Type = p.Type
	}
	if p.Description != "" {
		s.Description = p.Description
	}
	if len(p.Enum) > 0 {
		s.Enum = p.Enum
	}
	if p.Default != nil {
		s.Default = p.Default
	}
	return &s
}
