package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"

	"github.com/GCYYfun/MengLong-sub001/internal/schema"
)

var (
	// ErrInvalidTool is returned when a value is not a function of a supported shape.
	ErrInvalidTool = errors.New("invalid tool function")
	// ErrToolNameRequired is returned for anonymous functions registered without WithName.
	ErrToolNameRequired = errors.New("tool name required")
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	freeFormArg = reflect.TypeOf(map[string]any{})

	anonymousFunc = regexp.MustCompile(`^func\d+$`)
)

// Options configure a tool at registration time.
type Options struct {
	// Name overrides the name derived from the function identifier.
	Name string
	// Description is shown to the model.
	Description string
	// Async marks a context-aware tool that is executed on the dispatching
	// goroutine. Tools without the flag are treated as blocking and run on
	// the dispatcher's worker pool.
	Async bool
	// Sequential tools are never run concurrently with other calls of the
	// same model turn; they execute in the order the model emitted them.
	Sequential bool
}

// Option configures a tool registration.
type Option func(o *Options)

// WithName sets an explicit tool name.
func WithName(name string) Option { return func(o *Options) { o.Name = name } }

// WithDescription sets the tool description.
func WithDescription(desc string) Option { return func(o *Options) { o.Description = desc } }

// WithAsync marks the tool as asynchronous (context aware, non-blocking).
func WithAsync() Option { return func(o *Options) { o.Async = true } }

// WithSequential makes calls to the tool act as ordering barriers within a turn.
func WithSequential() Option { return func(o *Options) { o.Sequential = true } }

// Definition is the comparable, callable-free view of a Descriptor.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Async       bool        `json:"async"`
	Sequential  bool        `json:"sequential,omitempty"`
}

// Descriptor is a registered tool: its name, description, parameter schema,
// execution flags and the bound function. Descriptors are immutable.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
	Async       bool
	Sequential  bool

	// SchemaErrors lists fields that fell back to an unconstrained schema.
	SchemaErrors []error

	fn        reflect.Value
	takesCtx  bool
	argsType  reflect.Type // nil when the function takes no arguments
	freeForm  bool
	returnsV  bool
	returnsEr bool
}

// NewDescriptor inspects fn and builds its Descriptor. Parameter schemas are
// derived from the argument struct; fields whose type cannot be described fall
// back to an unconstrained schema instead of failing.
func NewDescriptor(fn any, opts ...Option) (*Descriptor, error) {
	return newDescriptor(schema.NewDeriver(), fn, opts...)
}

func newDescriptor(deriver *schema.Deriver, fn any, opts ...Option) (*Descriptor, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}

	if fn == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidTool)
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is not a function", ErrInvalidTool, ft)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic functions are not supported", ErrInvalidTool)
	}

	d := &Descriptor{
		Description: o.Description,
		Async:       o.Async,
		Sequential:  o.Sequential,
		fn:          fv,
	}

	in := 0
	if ft.NumIn() > in && ft.In(in) == contextType {
		d.takesCtx = true
		in++
	}
	if ft.NumIn() > in {
		at := ft.In(in)
		switch {
		case at == freeFormArg:
			d.freeForm = true
		case at.Kind() == reflect.Struct, at.Kind() == reflect.Ptr && at.Elem().Kind() == reflect.Struct:
		default:
			return nil, fmt.Errorf("%w: argument must be a struct, *struct or map[string]any, got %s", ErrInvalidTool, at)
		}
		d.argsType = at
		in++
	}
	if ft.NumIn() > in {
		return nil, fmt.Errorf("%w: too many parameters (%d)", ErrInvalidTool, ft.NumIn())
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			d.returnsEr = true
		} else {
			d.returnsV = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result must be error, got %s", ErrInvalidTool, ft.Out(1))
		}
		d.returnsV, d.returnsEr = true, true
	default:
		return nil, fmt.Errorf("%w: too many results (%d)", ErrInvalidTool, ft.NumOut())
	}

	d.Name = o.Name
	if d.Name == "" {
		d.Name = functionName(fv)
		if d.Name == "" {
			return nil, fmt.Errorf("%w: anonymous function", ErrToolNameRequired)
		}
	}

	if !d.freeForm {
		d.Parameters, d.SchemaErrors = deriver.Parameters(d.argsType)
	}

	return d, nil
}

// Definition returns the callable-free description of the tool.
func (d *Descriptor) Definition() Definition {
	return Definition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
		Async:       d.Async,
		Sequential:  d.Sequential,
	}
}

// JSONSchema returns the JSON schema of the tool's argument object.
func (d *Descriptor) JSONSchema() *jsonschema.Schema {
	s := schema.ObjectSchema(d.Parameters)
	if d.freeForm {
		s.AdditionalProperties = jsonschema.TrueSchema
	}
	return s
}

// ParametersMap returns the argument schema as a plain map, the shape
// provider SDKs accept for function declarations.
func (d *Descriptor) ParametersMap() map[string]any {
	raw, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props, _ := out["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		out["properties"] = props
	}
	for k, v := range props {
		// Unconstrained parameters marshal as the boolean schema `true`,
		// which not every provider accepts.
		if b, ok := v.(bool); ok && b {
			props[k] = map[string]any{}
		}
	}
	return out
}

// call invokes the bound function. args must be a value of argsType (or the
// zero Value when the function takes no arguments).
func (d *Descriptor) call(ctx context.Context, args reflect.Value) (any, error) {
	in := make([]reflect.Value, 0, 2)
	if d.takesCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	if d.argsType != nil {
		in = append(in, args)
	}

	out := d.fn.Call(in)

	var (
		value any
		err   error
	)
	if d.returnsV {
		value = out[0].Interface()
	}
	if d.returnsEr {
		if e := out[len(out)-1].Interface(); e != nil {
			err = e.(error)
		}
	}
	return value, err
}

// functionName derives a snake_case tool name from a function's symbol name.
// Anonymous functions yield "".
func functionName(fv reflect.Value) string {
	rf := runtime.FuncForPC(fv.Pointer())
	if rf == nil {
		return ""
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "["); i >= 0 { // generic instantiation
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "-fm") // method value
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || anonymousFunc.MatchString(name) {
		return ""
	}
	return toSnakeCase(name)
}

// toSnakeCase converts "GetHTTPStatus" to "get_http_status".
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
