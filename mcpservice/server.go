package mcpservice

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/subscriptions"
)

const defaultPageSize = 50

// Server is the immutable set of capabilities exposed to every session.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	pageSize     int
	log          *slog.Logger

	tools     *registry.Registry[Tool]
	resources *registry.Registry[Resource]
	templates *registry.Registry[ResourceTemplate]
	prompts   *registry.Registry[Prompt]
	subs      *subscriptions.Manager
}

// ServerOption configures NewServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	info         mcp.ImplementationInfo
	instructions string
	pageSize     int
	log          *slog.Logger
	subs         *subscriptions.Manager

	tools     []Tool
	resources []Resource
	templates []ResourceTemplate
	prompts   []Prompt
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(c *serverConfig) { c.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(c *serverConfig) { c.instructions = instr }
}

// WithTools registers tools in order.
func WithTools(tools ...Tool) ServerOption {
	return func(c *serverConfig) { c.tools = append(c.tools, tools...) }
}

// WithResources registers resources in order.
func WithResources(resources ...Resource) ServerOption {
	return func(c *serverConfig) { c.resources = append(c.resources, resources...) }
}

// WithResourceTemplates registers resource templates in order. Templates are
// consulted, in order, for URIs that match no concrete resource.
func WithResourceTemplates(templates ...ResourceTemplate) ServerOption {
	return func(c *serverConfig) { c.templates = append(c.templates, templates...) }
}

// WithPrompts registers prompts in order.
func WithPrompts(prompts ...Prompt) ServerOption {
	return func(c *serverConfig) { c.prompts = append(c.prompts, prompts...) }
}

// WithSubscriptions enables resources/subscribe backed by m.
func WithSubscriptions(m *subscriptions.Manager) ServerOption {
	return func(c *serverConfig) { c.subs = m }
}

// WithPageSize sets the maximum number of items per list page.
func WithPageSize(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger used for handler faults.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewServer registers every configured capability. It fails on duplicate
// names or malformed resource templates.
func NewServer(opts ...ServerOption) (*Server, error) {
	cfg := serverConfig{
		info:     mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"},
		pageSize: defaultPageSize,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		info:         cfg.info,
		instructions: cfg.instructions,
		pageSize:     cfg.pageSize,
		log:          cfg.log,
		tools:        registry.New[Tool](registry.KindTool),
		resources:    registry.New[Resource](registry.KindResource),
		templates:    registry.New[ResourceTemplate](registry.KindResource),
		prompts:      registry.New[Prompt](registry.KindPrompt),
		subs:         cfg.subs,
	}

	var errs []error
	for _, t := range cfg.tools {
		if t.Handler == nil {
			errs = append(errs, fmt.Errorf("tool %s has no handler", t.Name))
			continue
		}
		if err := s.tools.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range cfg.resources {
		if err := s.resources.Register(r); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range cfg.templates {
		if err := t.compile(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.templates.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range cfg.prompts {
		if err := s.prompts.Register(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Info returns the server implementation info.
func (s *Server) Info() mcp.ImplementationInfo { return s.info }

// Instructions returns the configured instructions, if any.
func (s *Server) Instructions() string { return s.instructions }

// Subscriptions returns the subscription manager or nil.
func (s *Server) Subscriptions() *subscriptions.Manager { return s.subs }

// Capabilities advertises the capability families that have content.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	caps := mcp.ServerCapabilities{Logging: &struct{}{}}
	if s.tools.Len() > 0 {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if s.resources.Len() > 0 || s.templates.Len() > 0 {
		caps.Resources = &mcp.ResourcesCapability{Subscribe: s.subs != nil}
	}
	if s.prompts.Len() > 0 {
		caps.Prompts = &mcp.PromptsCapability{}
	}
	return caps
}

// ListTools returns every tool descriptor in registration order.
func (s *Server) ListTools() []mcp.Tool {
	return descriptors(s.tools.List(), Tool.Descriptor)
}

// ListResources returns every concrete resource in registration order.
func (s *Server) ListResources() []mcp.Resource {
	return descriptors(s.resources.List(), Resource.Descriptor)
}

// ListResourceTemplates returns every resource template in registration order.
func (s *Server) ListResourceTemplates() []mcp.ResourceTemplate {
	return descriptors(s.templates.List(), ResourceTemplate.Descriptor)
}

// ListPrompts returns every prompt in registration order.
func (s *Server) ListPrompts() []mcp.Prompt {
	return descriptors(s.prompts.List(), Prompt.Descriptor)
}

// ToolsPage returns the page of tools starting at cursor.
func (s *Server) ToolsPage(cursor string) (*mcp.ListToolsResult, error) {
	items, next, err := paginate(s.ListTools(), cursor, s.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

// ResourcesPage returns the page of resources starting at cursor.
func (s *Server) ResourcesPage(cursor string) (*mcp.ListResourcesResult, error) {
	items, next, err := paginate(s.ListResources(), cursor, s.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

// ResourceTemplatesPage returns the page of templates starting at cursor.
func (s *Server) ResourceTemplatesPage(cursor string) (*mcp.ListResourceTemplatesResult, error) {
	items, next, err := paginate(s.ListResourceTemplates(), cursor, s.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

// PromptsPage returns the page of prompts starting at cursor.
func (s *Server) PromptsPage(cursor string) (*mcp.ListPromptsResult, error) {
	items, next, err := paginate(s.ListPrompts(), cursor, s.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListPromptsResult{Prompts: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func descriptors[T any, D any](items []T, fn func(T) D) []D {
	out := make([]D, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}
