package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/schema"
)

// HandlerFault wraps an error returned, or a panic raised, by a capability
// handler. It ends only the invocation that caused it.
type HandlerFault struct {
	Kind  registry.Kind
	Name  string
	Err   error
	Panic any
}

func (f *HandlerFault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("%s %s panicked: %v", f.Kind, f.Name, f.Panic)
	}
	return f.Err.Error()
}

func (f *HandlerFault) Unwrap() error { return f.Err }

// guard runs fn and converts a panic into a *HandlerFault.
func (s *Server) guard(ctx context.Context, kind registry.Kind, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "mcpservice.handler.panic",
				slog.String("kind", string(kind)),
				slog.String("name", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = &HandlerFault{Kind: kind, Name: name, Panic: r}
		}
	}()
	if err := fn(); err != nil {
		return &HandlerFault{Kind: kind, Name: name, Err: err}
	}
	return nil
}

// CallTool invokes the named tool. Every outcome is reported as a result:
// unknown tools, invalid arguments and handler faults come back with
// IsError set and a single explanatory text block.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) *mcp.CallToolResult {
	tool, err := s.tools.Resolve(name)
	if err != nil {
		return Errorf("%s", err.Error())
	}

	values, err := schema.ValidateJSON(tool.Input, args)
	if err != nil {
		return Errorf("%s", err.Error())
	}

	start := time.Now()
	w := newResultBuilder(ctx)
	if err := s.guard(ctx, registry.KindTool, name, func() error {
		return tool.Handler(ctx, w, Args(values))
	}); err != nil {
		s.log.WarnContext(ctx, "mcpservice.call_tool.fault",
			slog.String("tool", name),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		w.Result()
		return Errorf("%s", err.Error())
	}
	return w.Result()
}

// ReadResource returns the contents behind uri. Concrete resources win over
// templates; templates are tried in registration order.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	var contents []mcp.ResourceContents
	if res, err := s.resources.Resolve(uri); err == nil {
		if res.Handler == nil {
			return nil, &registry.NotFoundError{Kind: registry.KindResource, Name: uri}
		}
		err := s.guard(ctx, registry.KindResource, uri, func() error {
			var herr error
			contents, herr = res.Handler(ctx, uri)
			return herr
		})
		if err != nil {
			return nil, s.resourceErr(uri, err)
		}
		return &mcp.ReadResourceResult{Contents: contents}, nil
	}

	for _, tmpl := range s.templates.List() {
		vars, ok := tmpl.match(uri)
		if !ok || tmpl.Handler == nil {
			continue
		}
		err := s.guard(ctx, registry.KindResource, uri, func() error {
			var herr error
			contents, herr = tmpl.Handler(ctx, uri, vars)
			return herr
		})
		if err != nil {
			return nil, s.resourceErr(uri, err)
		}
		return &mcp.ReadResourceResult{Contents: contents}, nil
	}

	return nil, &registry.NotFoundError{Kind: registry.KindResource, Name: uri}
}

// resourceErr lets handlers report a missing resource by returning a
// *registry.NotFoundError themselves.
func (s *Server) resourceErr(uri string, err error) error {
	var nf *registry.NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	return err
}

// HasResource reports whether uri names a concrete resource or matches a
// template.
func (s *Server) HasResource(uri string) bool {
	if _, err := s.resources.Resolve(uri); err == nil {
		return true
	}
	for _, tmpl := range s.templates.List() {
		if _, ok := tmpl.match(uri); ok {
			return true
		}
	}
	return false
}

// GetPrompt renders the named prompt. Missing required arguments yield a
// *schema.ValidationError naming the first one in declared order.
func (s *Server) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	p, err := s.prompts.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := p.checkArgs(args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]string{}
	}

	var res *mcp.GetPromptResult
	if err := s.guard(ctx, registry.KindPrompt, name, func() error {
		var herr error
		res, herr = p.Handler(ctx, args)
		return herr
	}); err != nil {
		return nil, err
	}
	if res == nil {
		res = &mcp.GetPromptResult{}
	}
	if res.Description == "" {
		res.Description = p.Description
	}
	if res.Messages == nil {
		res.Messages = []mcp.PromptMessage{}
	}
	return res, nil
}
