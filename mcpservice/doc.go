// Package mcpservice is the execution dispatcher of an MCP server. It owns
// the tool, resource and prompt registries, validates invocation arguments
// against declared schemas and turns handler outcomes into protocol
// results.
//
// Quick start:
//
//	echo := mcpservice.Tool{
//	    Name:        "echo",
//	    Description: "Echoes back the input",
//	    Input: schema.Object(
//	        schema.Required("message", schema.String(schema.Describe("Message to echo"))),
//	    ),
//	    Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
//	        return w.AppendText("Echo: " + args.String("message"))
//	    },
//	}
//
//	srv, err := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithTools(echo),
//	)
//
// The returned Server is immutable and safe for concurrent use by any number
// of sessions. Transport bindings reach it through internal/engine.
//
// Tool failures never surface as errors: CallTool always returns a result
// and marks failures with IsError. Resource reads and prompt fetches return
// typed errors (*registry.NotFoundError, *schema.ValidationError,
// *HandlerFault) that the engine maps onto JSON-RPC error codes.
package mcpservice
