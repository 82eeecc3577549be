// Package mcp contains protocol data types and constants shared across
// transports and capability implementations. It mirrors the wire
// representation of the Model Context Protocol while keeping the surface
// Go-friendly: exported structs with json tags and string constants for
// method names and enumerations.
//
// The package is free of transport logic. The stdio, sse and streaminghttp
// bindings import these types but implement their own framing and session
// handling, and mcpservice builds results from them.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request and result envelopes.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// Example (progress notification object):
//
//	prog := mcp.ProgressNotificationParams{ProgressToken: "op1", Progress: 42, Total: 100}
package mcp
