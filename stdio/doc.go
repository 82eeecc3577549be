// Package stdio implements the persistent-stream MCP binding over
// stdin/stdout. It serves exactly one session per process and is meant for
// servers launched as subprocesses by a client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : OS user (lightweight implicit principal)
//	Sessions         : one, closed on EOF
//	Framing          : newline-delimited JSON-RPC
//
// Requests are served concurrently; every write to the output stream is
// serialized so that progress notifications of a request always precede its
// response.
//
// Example:
//
//	srv, err := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	    mcpservice.WithTools(myTool),
//	)
//	if err != nil { log.Fatal(err) }
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// For multi-client deployments use the sse or streaminghttp bindings.
package stdio
