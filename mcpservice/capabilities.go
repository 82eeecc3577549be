package mcpservice

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/schema"
	"github.com/yosida95/uritemplate/v3"
)

// ToolHandler executes a tool with validated arguments. Content appended to
// w is returned to the caller in production order. A non-nil error turns the
// invocation into an error result.
type ToolHandler func(ctx context.Context, w ToolResponseWriter, args Args) error

// Tool is a named, schema-described operation.
type Tool struct {
	Name        string
	Description string
	// Input describes the arguments object. A nil Input accepts any object
	// and passes it through unvalidated.
	Input   *schema.Schema
	Handler ToolHandler
}

func (t Tool) CapabilityName() string { return t.Name }

// Descriptor renders the tool for tools/list.
func (t Tool) Descriptor() mcp.Tool {
	input := t.Input
	if input == nil {
		input = schema.Object()
	}
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: input.JSONSchema(),
	}
}

// ResourceHandler reads the contents behind uri.
type ResourceHandler func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// Resource is a concrete, listable resource addressed by URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

func (r Resource) CapabilityName() string { return r.URI }

// Descriptor renders the resource for resources/list.
func (r Resource) Descriptor() mcp.Resource {
	return mcp.Resource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
}

// TemplateHandler reads a resource matched by a template. vars holds the
// expanded template variables.
type TemplateHandler func(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// ResourceTemplate serves every URI matching an RFC 6570 template.
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
	Handler     TemplateHandler

	tmpl *uritemplate.Template
}

func (t ResourceTemplate) CapabilityName() string { return t.URITemplate }

// Descriptor renders the template for resources/templates/list.
func (t ResourceTemplate) Descriptor() mcp.ResourceTemplate {
	return mcp.ResourceTemplate{URITemplate: t.URITemplate, Name: t.Name, Description: t.Description, MimeType: t.MimeType}
}

func (t *ResourceTemplate) compile() error {
	tmpl, err := uritemplate.New(t.URITemplate)
	if err != nil {
		return fmt.Errorf("invalid resource template %q: %w", t.URITemplate, err)
	}
	t.tmpl = tmpl
	return nil
}

// match reports whether uri is produced by the template and returns the
// extracted variables.
func (t ResourceTemplate) match(uri string) (map[string]string, bool) {
	if t.tmpl == nil {
		return nil, false
	}
	values := t.tmpl.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(map[string]string)
	for _, name := range t.tmpl.Varnames() {
		if v := values.Get(name); v.Valid() {
			vars[name] = v.String()
		}
	}
	return vars, true
}

// PromptHandler builds prompt messages from string arguments. Required
// arguments are guaranteed to be present.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// Prompt is a named, parameterized message template.
type Prompt struct {
	Name        string
	Description string
	Arguments   []mcp.PromptArgument
	Handler     PromptHandler
}

func (p Prompt) CapabilityName() string { return p.Name }

// Descriptor renders the prompt for prompts/list.
func (p Prompt) Descriptor() mcp.Prompt {
	return mcp.Prompt{Name: p.Name, Description: p.Description, Arguments: append([]mcp.PromptArgument(nil), p.Arguments...)}
}

// checkArgs reports the first missing required argument in declared order.
func (p Prompt) checkArgs(args map[string]string) error {
	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			return &schema.ValidationError{Path: a.Name, Constraint: "required"}
		}
	}
	return nil
}

var (
	_ registry.Capability = Tool{}
	_ registry.Capability = Resource{}
	_ registry.Capability = ResourceTemplate{}
	_ registry.Capability = Prompt{}
)

// Args is the validated, default-filled argument object of a tool call.
type Args map[string]any

// String returns the named string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Float returns the named numeric argument or 0.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Int returns the named numeric argument truncated to int. Values outside
// the int range saturate and NaN yields 0.
func (a Args) Int(name string) int {
	f := a.Float(name)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

// Bool returns the named boolean argument or false.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Has reports whether the argument is present after defaults were applied.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}
