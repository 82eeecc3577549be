package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/schema"
)

func addTool() Tool {
	return Tool{
		Name:        "add",
		Description: "Adds two numbers",
		Input: schema.Object(
			schema.Required("a", schema.Number()),
			schema.Required("b", schema.Number()),
		),
		Handler: func(ctx context.Context, w ToolResponseWriter, args Args) error {
			a, b := args.Float("a"), args.Float("b")
			return w.AppendText(fmt.Sprintf("The sum of %v and %v is %v.", a, b, a+b))
		},
	}
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	srv, err := NewServer(opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("expected content, got none")
	}
	return res.Content[0].Text
}

func TestCallTool_Success(t *testing.T) {
	srv := newTestServer(t, WithTools(addTool()))

	res := srv.CallTool(t.Context(), "add", json.RawMessage(`{"a":2,"b":3}`))
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if want, got := "The sum of 2 and 3 is 5.", textOf(t, res); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, WithTools(addTool()))

	res := srv.CallTool(t.Context(), "nope", nil)
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if want, got := "Unknown tool: nope", textOf(t, res); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCallTool_ValidationFailureCitesField(t *testing.T) {
	called := false
	tool := addTool()
	inner := tool.Handler
	tool.Handler = func(ctx context.Context, w ToolResponseWriter, args Args) error {
		called = true
		return inner(ctx, w, args)
	}
	srv := newTestServer(t, WithTools(tool))

	res := srv.CallTool(t.Context(), "add", json.RawMessage(`{"a":"x","b":3}`))
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if called {
		t.Fatalf("handler must not run on invalid arguments")
	}
	if text := textOf(t, res); !strings.Contains(text, "a: expected number") {
		t.Fatalf("error should cite field a, got %q", text)
	}

	res = srv.CallTool(t.Context(), "add", json.RawMessage(`{"b":3}`))
	if text := textOf(t, res); !strings.Contains(text, "a: required field is missing") {
		t.Fatalf("error should cite missing a, got %q", text)
	}
}

func TestCallTool_HandlerErrorAndPanic(t *testing.T) {
	srv := newTestServer(t, WithTools(
		Tool{Name: "fail", Handler: func(context.Context, ToolResponseWriter, Args) error {
			return errors.New("disk on fire")
		}},
		Tool{Name: "boom", Handler: func(context.Context, ToolResponseWriter, Args) error {
			panic("kaboom")
		}},
	))

	res := srv.CallTool(t.Context(), "fail", nil)
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if want, got := "disk on fire", textOf(t, res); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}

	res = srv.CallTool(t.Context(), "boom", nil)
	if !res.IsError {
		t.Fatalf("expected error result")
	}
	if text := textOf(t, res); !strings.Contains(text, "kaboom") {
		t.Fatalf("panic text should be reported, got %q", text)
	}

	// The server keeps working after a fault.
	srv2 := newTestServer(t, WithTools(addTool()))
	if res := srv2.CallTool(t.Context(), "add", json.RawMessage(`{"a":1,"b":1}`)); res.IsError {
		t.Fatalf("unexpected error after fault: %+v", res)
	}
}

func TestCallTool_ContentOrderPreserved(t *testing.T) {
	srv := newTestServer(t, WithTools(Tool{
		Name: "multi",
		Handler: func(ctx context.Context, w ToolResponseWriter, _ Args) error {
			if err := w.AppendText("first"); err != nil {
				return err
			}
			if err := w.AppendBlocks(ImageContent("AAAA", "image/png")); err != nil {
				return err
			}
			return w.AppendText("last")
		},
	}))

	res := srv.CallTool(t.Context(), "multi", nil)
	if want, got := 3, len(res.Content); want != got {
		t.Fatalf("blocks: want %d, got %d", want, got)
	}
	for i, want := range []string{mcp.ContentTypeText, mcp.ContentTypeImage, mcp.ContentTypeText} {
		if got := res.Content[i].Type; got != want {
			t.Fatalf("block %d: want %q, got %q", i, want, got)
		}
	}
	if want, got := "last", res.Content[2].Text; want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCallTool_DefaultsReachHandler(t *testing.T) {
	var seen Args
	srv := newTestServer(t, WithTools(Tool{
		Name: "defaults",
		Input: schema.Object(
			schema.Optional("steps", schema.Integer(schema.Default(5))),
		),
		Handler: func(_ context.Context, _ ToolResponseWriter, args Args) error {
			seen = args
			return nil
		},
	}))

	if res := srv.CallTool(t.Context(), "defaults", nil); res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
	if want, got := 5, seen.Int("steps"); want != got {
		t.Fatalf("steps: want %d, got %d", want, got)
	}
}

func TestNewServer_DuplicateNames(t *testing.T) {
	_, err := NewServer(WithTools(addTool(), addTool()))
	var dup *registry.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateNameError, got %v", err)
	}
	if want, got := "add", dup.Name; want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestListTools_RegistrationOrder(t *testing.T) {
	srv := newTestServer(t, WithTools(
		Tool{Name: "zeta", Handler: func(context.Context, ToolResponseWriter, Args) error { return nil }},
		addTool(),
		Tool{Name: "alpha", Handler: func(context.Context, ToolResponseWriter, Args) error { return nil }},
	))

	tools := srv.ListTools()
	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name)
		if tl.InputSchema == nil || tl.InputSchema.Type != "object" {
			t.Fatalf("tool %s: expected object input schema", tl.Name)
		}
	}
	if want, got := "zeta,add,alpha", strings.Join(names, ","); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
	if want, got := 2, len(tools[1].InputSchema.Required); want != got {
		t.Fatalf("required: want %d, got %d", want, got)
	}
}

func staticText(uri, text string) ResourceHandler {
	return func(context.Context, string) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: text}}, nil
	}
}

func TestReadResource(t *testing.T) {
	srv := newTestServer(t,
		WithResources(Resource{URI: "test://static/resource/1", Name: "Resource 1", Handler: staticText("test://static/resource/1", "concrete")}),
		WithResourceTemplates(ResourceTemplate{
			URITemplate: "test://static/resource/{id}",
			Name:        "Static Resource",
			Handler: func(_ context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
				if vars["id"] == "404" {
					return nil, &registry.NotFoundError{Kind: registry.KindResource, Name: uri}
				}
				return []mcp.ResourceContents{{URI: uri, Text: "template " + vars["id"]}}, nil
			},
		}),
	)

	t.Run("concrete wins over template", func(t *testing.T) {
		res, err := srv.ReadResource(t.Context(), "test://static/resource/1")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if want, got := "concrete", res.Contents[0].Text; want != got {
			t.Fatalf("want %q, got %q", want, got)
		}
	})

	t.Run("template match", func(t *testing.T) {
		res, err := srv.ReadResource(t.Context(), "test://static/resource/42")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if want, got := "template 42", res.Contents[0].Text; want != got {
			t.Fatalf("want %q, got %q", want, got)
		}
	})

	t.Run("unknown uri", func(t *testing.T) {
		_, err := srv.ReadResource(t.Context(), "test://other/1")
		var nf *registry.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("want NotFoundError, got %v", err)
		}
		if want, got := "Unknown resource: test://other/1", err.Error(); want != got {
			t.Fatalf("want %q, got %q", want, got)
		}
	})

	t.Run("handler reports missing", func(t *testing.T) {
		_, err := srv.ReadResource(t.Context(), "test://static/resource/404")
		var nf *registry.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("want NotFoundError, got %v", err)
		}
	})

	if !srv.HasResource("test://static/resource/7") {
		t.Fatalf("template URI should exist")
	}
	if srv.HasResource("test://nothing") {
		t.Fatalf("unknown URI should not exist")
	}
}

func TestReadResource_HandlerFault(t *testing.T) {
	srv := newTestServer(t, WithResources(Resource{
		URI:  "test://broken",
		Name: "broken",
		Handler: func(context.Context, string) ([]mcp.ResourceContents, error) {
			return nil, errors.New("backend down")
		},
	}))

	_, err := srv.ReadResource(t.Context(), "test://broken")
	var fault *HandlerFault
	if !errors.As(err, &fault) {
		t.Fatalf("want HandlerFault, got %v", err)
	}
	if want, got := "backend down", fault.Error(); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestGetPrompt(t *testing.T) {
	srv := newTestServer(t, WithPrompts(Prompt{
		Name:        "complex_prompt",
		Description: "A prompt with arguments",
		Arguments: []mcp.PromptArgument{
			{Name: "temperature", Required: true},
			{Name: "style"},
		},
		Handler: func(_ context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{{
				Role:    mcp.RoleUser,
				Content: TextContent("temperature=" + args["temperature"] + " style=" + args["style"]),
			}}}, nil
		},
	}))

	res, err := srv.GetPrompt(t.Context(), "complex_prompt", map[string]string{"temperature": "0.7"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want, got := "A prompt with arguments", res.Description; want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
	if want, got := "temperature=0.7 style=", res.Messages[0].Content.Text; want != got {
		t.Fatalf("want %q, got %q", want, got)
	}

	_, err = srv.GetPrompt(t.Context(), "complex_prompt", nil)
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if want, got := "temperature", verr.Path; want != got {
		t.Fatalf("want %q, got %q", want, got)
	}

	_, err = srv.GetPrompt(t.Context(), "missing", nil)
	if want, got := "Unknown prompt: missing", fmt.Sprint(err); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCapabilities(t *testing.T) {
	srv := newTestServer(t, WithTools(addTool()))
	caps := srv.Capabilities()
	if caps.Tools == nil {
		t.Fatalf("tools should be advertised")
	}
	if caps.Resources != nil || caps.Prompts != nil {
		t.Fatalf("empty families should not be advertised: %+v", caps)
	}
}
