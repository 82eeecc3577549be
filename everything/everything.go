// Package everything assembles the reference MCP server: a fixed set of
// tools, one hundred static resources plus a template over them, and three
// prompts. It exercises every feature the server framework offers and is
// what the examples/everything binary serves on each transport.
//
// Optionally, a directory can be exposed as file:// resources with
// FileResources, and WatchDir publishes resources/updated whenever a file in
// it changes.
package everything

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/subscriptions"
)

const (
	ServerName    = "example-servers/everything"
	ServerVersion = "1.0.0"
)

const instructions = "This server exercises every feature of the protocol: tools with progress, " +
	"annotated content, static and templated resources with subscriptions, and prompts."

// NewServer builds the reference server. subs may be nil, in which case
// resource subscriptions are not advertised. extra options are applied last,
// so callers can add FileResources or override the logger.
func NewServer(subs *subscriptions.Manager, extra ...mcpservice.ServerOption) (*mcpservice.Server, error) {
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion}),
		mcpservice.WithInstructions(instructions),
		mcpservice.WithTools(Tools()...),
		mcpservice.WithResources(Resources()...),
		mcpservice.WithResourceTemplates(Template()),
		mcpservice.WithPrompts(Prompts()...),
	}
	if subs != nil {
		opts = append(opts, mcpservice.WithSubscriptions(subs))
	}
	return mcpservice.NewServer(append(opts, extra...)...)
}

// RunUpdates publishes a resources/updated event for every subscribed URI
// each interval until ctx is done.
func RunUpdates(ctx context.Context, subs *subscriptions.Manager, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, uri := range subs.URIs() {
			if err := subs.Publish(ctx, uri); err != nil {
				log.WarnContext(ctx, "everything.updates.publish.fail", slog.String("uri", uri), slog.String("err", err.Error()))
			}
		}
	}
}
