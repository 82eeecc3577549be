// Package streaminghttp implements the MCP streamable HTTP transport. It mounts
// as a standard net/http handler on a single endpoint and multiplexes many
// sessions through a sessions.Manager.
//
// Responsibilities
//   - Session creation on initialize and validation via the Mcp-Session-Id header
//   - Authentication (optional auth.Authenticator guarding every method)
//   - Per-request response streams: progress notifications precede the result
//   - A standalone GET stream for server-initiated notifications such as
//     resources/updated
//   - Session termination on DELETE
//
// Construction
//
//	h := streaminghttp.New(server,
//	    streaminghttp.WithEndpoint("/mcp"),
//	    streaminghttp.WithLogger(logger),
//	)
//	http.ListenAndServe(":3001", h)
//
// # Status codes
//
// Transport-level failures map to HTTP status codes before any JSON-RPC
// exchange happens:
//
//	missing Mcp-Session-Id        400
//	unknown or foreign session    404
//	initialize on a live session  409
//	second GET stream             409
//	GET without text/event-stream 406
//	non-JSON POST body            415
//
// An undecodable body is answered with 400 and a JSON-RPC error object
// (-32700 or -32600) carrying a null id. Everything else is a JSON-RPC
// response.
//
// # Protected Resource Metadata
//
// WithProtectedResourceMetadata serves an RFC 9728 document under
// /.well-known/oauth-protected-resource<endpoint> so clients can bootstrap
// authorization without out-of-band configuration.
package streaminghttp
