package everything

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/schema"
)

// Tools returns the reference tool set in listing order.
func Tools() []mcpservice.Tool {
	return []mcpservice.Tool{
		{
			Name:        "echo",
			Description: "Echoes back the input",
			Input: schema.Object(
				schema.Required("message", schema.String(schema.Describe("Message to echo"))),
			),
			Handler: echo,
		},
		{
			Name:        "add",
			Description: "Adds two numbers",
			Input: schema.Object(
				schema.Required("a", schema.Number(schema.Describe("First number"))),
				schema.Required("b", schema.Number(schema.Describe("Second number"))),
			),
			Handler: add,
		},
		{
			Name:        "longRunningOperation",
			Description: "Demonstrates a long running operation with progress updates",
			Input: schema.Object(
				schema.Optional("duration", schema.Number(schema.Min(0), schema.Max(maxOperationSeconds), schema.Default(10.0), schema.Describe("Duration of the operation in seconds"))),
				schema.Optional("steps", schema.Integer(schema.Min(1), schema.Max(maxOperationSteps), schema.Default(5), schema.Describe("Number of steps in the operation"))),
			),
			Handler: longRunningOperation,
		},
		{
			Name:        "printEnv",
			Description: "Prints all environment variables, helpful for debugging MCP server configuration",
			Handler:     printEnv,
		},
		{
			Name:        "getTinyImage",
			Description: "Returns the MCP_TINY_IMAGE",
			Handler:     getTinyImage,
		},
		{
			Name:        "annotatedMessage",
			Description: "Demonstrates how annotations can be used to provide metadata about content",
			Input: schema.Object(
				schema.Required("messageType", schema.String(
					schema.Enum("error", "success", "debug"),
					schema.Describe("Type of message to demonstrate different annotation patterns"),
				)),
				schema.Optional("includeImage", schema.Boolean(schema.Default(false), schema.Describe("Whether to include an example image"))),
			),
			Handler: annotatedMessage,
		},
		{
			Name:        "getResourceReference",
			Description: "Returns a resource reference that can be used by MCP clients",
			Input: schema.Object(
				schema.Required("resourceId", schema.Integer(
					schema.Min(1), schema.Max(staticResourceCount),
					schema.Describe("ID of the resource to reference (1-100)"),
				)),
			),
			Handler: getResourceReference,
		},
	}
}

// Bounds for longRunningOperation.
const (
	maxOperationSeconds = 3600
	maxOperationSteps   = 1000
)

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func echo(_ context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
	return w.AppendText("Echo: " + args.String("message"))
}

func add(_ context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
	a, b := args.Float("a"), args.Float("b")
	return w.AppendText(fmt.Sprintf("The sum of %s and %s is %s.", formatNumber(a), formatNumber(b), formatNumber(a+b)))
}

func longRunningOperation(ctx context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
	duration := args.Float("duration")
	steps := args.Int("steps")
	stepDuration := time.Duration(duration / float64(steps) * float64(time.Second))

	t := time.NewTimer(stepDuration)
	defer t.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := w.SendProgress(float64(i), float64(steps)); err != nil {
			return err
		}
		t.Reset(stepDuration)
	}
	return w.AppendText(fmt.Sprintf("Long running operation completed. Duration: %s seconds, Steps: %d.", formatNumber(duration), steps))
}

func printEnv(_ context.Context, w mcpservice.ToolResponseWriter, _ mcpservice.Args) error {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return w.AppendText(string(b))
}

func getTinyImage(_ context.Context, w mcpservice.ToolResponseWriter, _ mcpservice.Args) error {
	return w.AppendBlocks(
		mcpservice.TextContent("This is a tiny image:"),
		mcpservice.ImageContent(tinyImage, "image/png"),
		mcpservice.TextContent("The image above is the MCP tiny image."),
	)
}

func annotated(block mcp.ContentBlock, priority float64, audience ...mcp.Role) mcp.ContentBlock {
	block.Annotations = &mcp.Annotations{Priority: &priority, Audience: audience}
	return block
}

func annotatedMessage(_ context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
	var blocks []mcp.ContentBlock
	switch args.String("messageType") {
	case "error":
		blocks = append(blocks, annotated(mcpservice.TextContent("Error: Operation failed"), 1.0, mcp.RoleUser, mcp.RoleAssistant))
	case "success":
		blocks = append(blocks, annotated(mcpservice.TextContent("Operation completed successfully"), 0.7, mcp.RoleUser))
	case "debug":
		blocks = append(blocks, annotated(mcpservice.TextContent("Debug: Cache hit ratio 0.95, latency 150ms"), 0.3, mcp.RoleAssistant))
	}
	if args.Bool("includeImage") {
		blocks = append(blocks, annotated(mcpservice.ImageContent(tinyImage, "image/png"), 0.5, mcp.RoleUser))
	}
	return w.AppendBlocks(blocks...)
}

func getResourceReference(_ context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
	id := args.Int("resourceId")
	rc := staticContents(id)
	return w.AppendBlocks(
		mcpservice.TextContent(fmt.Sprintf("Returning resource reference for Resource %d:", id)),
		mcpservice.EmbeddedResource(rc),
		mcpservice.TextContent(fmt.Sprintf("You can access this resource using the URI: %s", rc.URI)),
	)
}
