package streaminghttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-everything-go/auth"
	"github.com/ggoodman/mcp-everything-go/auth/authtest"
	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/schema"
	"github.com/ggoodman/mcp-everything-go/streaminghttp"
	"github.com/ggoodman/mcp-everything-go/subscriptions"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tmaxmax/go-sse"
)

const (
	acceptBoth = "application/json, text/event-stream"
	acceptJSON = "application/json"
)

func TestInitialize_CreatesSession(t *testing.T) {
	srv, h := mustServer(t, newMCPServer(t, mcpservice.WithSubscriptions(subscriptions.NewManager())))

	resp := post(t, srv, "", acceptBoth, initializeBody(1))
	defer resp.Body.Close()

	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatalf("missing Mcp-Session-Id header")
	}
	if want, got := "2025-06-18", resp.Header.Get("Mcp-Protocol-Version"); want != got {
		t.Fatalf("protocol version header: want %q, got %q", want, got)
	}

	var res jsonrpc.Response
	decodeJSON(t, resp.Body, &res)
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if want, got := "http-test", initRes.ServerInfo.Name; want != got {
		t.Fatalf("server name: want %q, got %q", want, got)
	}
	if initRes.Capabilities.Resources == nil || !initRes.Capabilities.Resources.Subscribe {
		t.Fatalf("expected resource subscriptions to be advertised, got %#v", initRes.Capabilities.Resources)
	}
	if want, got := 1, h.Sessions().Len(); want != got {
		t.Fatalf("sessions: want %d, got %d", want, got)
	}
}

func TestPOST_Rejections(t *testing.T) {
	srv, _ := mustServer(t, newMCPServer(t))
	sessID := initialize(t, srv)

	tests := []struct {
		name    string
		session string
		ctype   string
		version string
		body    string
		status  int
	}{
		{"missing session", "", "application/json", "", rpcBody(2, "ping", nil), http.StatusBadRequest},
		{"unknown session", "nope", "application/json", "", rpcBody(2, "ping", nil), http.StatusNotFound},
		{"reinitialize", sessID, "application/json", "", initializeBody(2), http.StatusConflict},
		{"content type", sessID, "text/plain", "", rpcBody(2, "ping", nil), http.StatusUnsupportedMediaType},
		{"protocol mismatch", sessID, "application/json", "2024-11-05", rpcBody(2, "ping", nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/mcp", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			req.Header.Set("Content-Type", tt.ctype)
			req.Header.Set("Accept", acceptBoth)
			if tt.session != "" {
				req.Header.Set("Mcp-Session-Id", tt.session)
			}
			if tt.version != "" {
				req.Header.Set("Mcp-Protocol-Version", tt.version)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			defer resp.Body.Close()
			if want, got := tt.status, resp.StatusCode; want != got {
				t.Fatalf("status: want %d, got %d", want, got)
			}
		})
	}
}

func TestPOST_MalformedBody(t *testing.T) {
	srv, _ := mustServer(t, newMCPServer(t))

	tests := []struct {
		name string
		body string
		code jsonrpc.ErrorCode
	}{
		{"parse error", `{"jsonrpc":`, jsonrpc.ErrorCodeParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, jsonrpc.ErrorCodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, jsonrpc.ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, "", acceptJSON, tt.body)
			defer resp.Body.Close()
			if want, got := http.StatusBadRequest, resp.StatusCode; want != got {
				t.Fatalf("status: want %d, got %d", want, got)
			}
			var res jsonrpc.Response
			decodeJSON(t, resp.Body, &res)
			if res.Error == nil {
				t.Fatalf("expected JSON-RPC error body")
			}
			if want, got := tt.code, res.Error.Code; want != got {
				t.Fatalf("code: want %d, got %d", want, got)
			}
			if !res.ID.IsNil() {
				t.Fatalf("want null id, got %s", res.ID.String())
			}
		})
	}
}

func TestPOST_NotificationAccepted(t *testing.T) {
	srv, _ := mustServer(t, newMCPServer(t))
	sessID := initialize(t, srv)

	resp := post(t, srv, sessID, acceptBoth, rpcBody(nil, string(mcp.InitializedNotificationMethod), nil))
	defer resp.Body.Close()
	if want, got := http.StatusAccepted, resp.StatusCode; want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
}

func TestPOST_JSONResponse(t *testing.T) {
	srv, _ := mustServer(t, newMCPServer(t))
	sessID := initialize(t, srv)

	resp := post(t, srv, sessID, acceptJSON, rpcBody(2, string(mcp.ToolsCallMethod), map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"message": "hi"},
	}))
	defer resp.Body.Close()

	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type: want application/json, got %q", ct)
	}
	var res jsonrpc.Response
	decodeJSON(t, resp.Body, &res)
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if want, got := "Echo: hi", out.Content[0].Text; want != got {
		t.Fatalf("text: want %q, got %q", want, got)
	}
}

func TestPOST_StreamedProgressPrecedesResponse(t *testing.T) {
	srv, _ := mustServer(t, newMCPServer(t))
	sessID := initialize(t, srv)

	resp := post(t, srv, sessID, acceptBoth, rpcBody(7, string(mcp.ToolsCallMethod), map[string]any{
		"name":  "slow",
		"_meta": map[string]any{"progressToken": "p-1"},
	}))
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: want text/event-stream, got %q", ct)
	}

	var got []jsonrpc.AnyMessage
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		got = append(got, msg)
	}

	if want, n := 3, len(got); want != n {
		t.Fatalf("events: want %d, got %d", want, n)
	}
	for i, want := range []float64{1, 2} {
		if got[i].Method != string(mcp.ProgressNotificationMethod) {
			t.Fatalf("event %d: want progress, got %+v", i, got[i])
		}
		var p mcp.ProgressNotificationParams
		if err := json.Unmarshal(got[i].Params, &p); err != nil {
			t.Fatalf("decode progress: %v", err)
		}
		if p.Progress != want || p.ProgressToken != "p-1" {
			t.Fatalf("event %d: unexpected progress %+v", i, p)
		}
	}
	if want, got := "7", got[2].ID.String(); want != got {
		t.Fatalf("response id: want %s, got %s", want, got)
	}
}

func TestGET_StandaloneStream(t *testing.T) {
	subs := subscriptions.NewManager()
	srv, _ := mustServer(t, newMCPServer(t, mcpservice.WithSubscriptions(subs)))
	sessID := initialize(t, srv)

	t.Run("not acceptable", func(t *testing.T) {
		resp := get(t, t.Context(), srv, sessID, "application/json")
		defer resp.Body.Close()
		if want, got := http.StatusNotAcceptable, resp.StatusCode; want != got {
			t.Fatalf("status: want %d, got %d", want, got)
		}
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	stream := get(t, ctx, srv, sessID, "text/event-stream")
	defer stream.Body.Close()
	if want, got := http.StatusOK, stream.StatusCode; want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}

	t.Run("second stream conflicts", func(t *testing.T) {
		resp := get(t, t.Context(), srv, sessID, "text/event-stream")
		defer resp.Body.Close()
		if want, got := http.StatusConflict, resp.StatusCode; want != got {
			t.Fatalf("status: want %d, got %d", want, got)
		}
	})

	events := make(chan sse.Event, 4)
	go func() {
		for ev, err := range sse.Read(stream.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()

	resp := post(t, srv, sessID, acceptJSON, rpcBody(3, string(mcp.ResourcesSubscribeMethod), map[string]any{"uri": "test://doc"}))
	resp.Body.Close()
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("subscribe status: want %d, got %d", want, got)
	}

	if want, got := 1, subs.Notify(t.Context(), "test://doc"); want != got {
		t.Fatalf("deliveries: want %d, got %d", want, got)
	}

	select {
	case ev := <-events:
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if want, got := string(mcp.ResourcesUpdatedNotificationMethod), msg.Method; want != got {
			t.Fatalf("method: want %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for resources/updated")
	}
}

func TestDELETE_ClosesOnlyThatSession(t *testing.T) {
	subs := subscriptions.NewManager()
	srv, h := mustServer(t, newMCPServer(t, mcpservice.WithSubscriptions(subs)))
	a := initialize(t, srv)
	b := initialize(t, srv)

	resp := post(t, srv, a, acceptJSON, rpcBody(2, string(mcp.ResourcesSubscribeMethod), map[string]any{"uri": "test://doc"}))
	resp.Body.Close()

	if want, got := http.StatusNoContent, del(t, srv, a); want != got {
		t.Fatalf("delete: want %d, got %d", want, got)
	}
	if want, got := http.StatusNotFound, del(t, srv, a); want != got {
		t.Fatalf("second delete: want %d, got %d", want, got)
	}
	if want, got := 0, subs.Len(); want != got {
		t.Fatalf("subscriptions after delete: want %d, got %d", want, got)
	}
	if want, got := 1, h.Sessions().Len(); want != got {
		t.Fatalf("sessions: want %d, got %d", want, got)
	}

	resp = post(t, srv, a, acceptJSON, rpcBody(3, "ping", nil))
	resp.Body.Close()
	if want, got := http.StatusNotFound, resp.StatusCode; want != got {
		t.Fatalf("post after delete: want %d, got %d", want, got)
	}
	resp = post(t, srv, b, acceptJSON, rpcBody(3, "ping", nil))
	resp.Body.Close()
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("other session: want %d, got %d", want, got)
	}
}

func TestDELETE_MidCallDiscardsLaterMessages(t *testing.T) {
	release := make(chan struct{})
	outcome := make(chan error, 1)
	srv, h := mustServer(t, newMCPServer(t, mcpservice.WithTools(heldTool(release, outcome))))
	sessID := initialize(t, srv)

	resp := post(t, srv, sessID, acceptBoth, rpcBody(7, string(mcp.ToolsCallMethod), map[string]any{
		"name":  "held",
		"_meta": map[string]any{"progressToken": "p-1"},
	}))
	defer resp.Body.Close()

	events := make(chan sse.Event, 4)
	go func() {
		defer close(events)
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("stream ended before first progress")
		}
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if want, got := string(mcp.ProgressNotificationMethod), msg.Method; want != got {
			t.Fatalf("first event: want %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first progress")
	}

	if want, got := http.StatusNoContent, del(t, srv, sessID); want != got {
		t.Fatalf("delete: want %d, got %d", want, got)
	}
	if want, got := 0, h.Sessions().Len(); want != got {
		t.Fatalf("sessions: want %d, got %d", want, got)
	}
	close(release)

	select {
	case err := <-outcome:
		if err != nil {
			t.Fatalf("invocation should complete after session close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("invocation did not complete")
	}

	for ev := range events {
		t.Fatalf("delivered after DELETE: %s", ev.Data)
	}
}

func TestGET_StreamHeadersPrecedeNotifications(t *testing.T) {
	subs := subscriptions.NewManager()
	srv, _ := mustServer(t, newMCPServer(t, mcpservice.WithSubscriptions(subs)))
	sessID := initialize(t, srv)

	resp := post(t, srv, sessID, acceptJSON, rpcBody(2, string(mcp.ResourcesSubscribeMethod), map[string]any{"uri": "test://doc"}))
	resp.Body.Close()

	// Publish continuously so an update can land while the stream attaches.
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			subs.Notify(ctx, "test://doc")
			time.Sleep(time.Millisecond)
		}
	}()

	stream := get(t, ctx, srv, sessID, "text/event-stream")
	defer stream.Body.Close()
	if want, got := http.StatusOK, stream.StatusCode; want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
	if ct := stream.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: want text/event-stream, got %q", ct)
	}
}

func TestAuthentication(t *testing.T) {
	users := auth.AuthenticatorFunc(func(_ context.Context, tok string) (auth.UserInfo, error) {
		if tok == "bad" {
			return nil, auth.ErrUnauthorized
		}
		return auth.StaticUser(tok), nil
	})
	prm := auth.ProtectedResourceMetadata{Resource: "https://api.example.com/mcp", AuthorizationServers: []string{"https://issuer.example.com"}}
	srv, _ := mustServer(t, newMCPServer(t),
		streaminghttp.WithAuthenticator(users, auth.WithResourceMetadata("https://api.example.com/.well-known/oauth-protected-resource/mcp")),
		streaminghttp.WithProtectedResourceMetadata(prm),
	)

	do := func(token, sessID, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", acceptJSON)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if sessID != "" {
			req.Header.Set("Mcp-Session-Id", sessID)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do("", "", initializeBody(1))
	if want, got := http.StatusUnauthorized, resp.StatusCode; want != got {
		t.Fatalf("no token: want %d, got %d", want, got)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "resource_metadata=") {
		t.Fatalf("challenge missing resource_metadata: %q", got)
	}
	if want, got := http.StatusUnauthorized, do("bad", "", initializeBody(1)).StatusCode; want != got {
		t.Fatalf("bad token: want %d, got %d", want, got)
	}

	resp = do("alice", "", initializeBody(1))
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("alice initialize: want %d, got %d", want, got)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")

	if want, got := http.StatusOK, do("alice", sessID, rpcBody(2, "ping", nil)).StatusCode; want != got {
		t.Fatalf("owner ping: want %d, got %d", want, got)
	}
	if want, got := http.StatusNotFound, do("mallory", sessID, rpcBody(2, "ping", nil)).StatusCode; want != got {
		t.Fatalf("foreign ping: want %d, got %d", want, got)
	}

	mr, err := http.Get(srv.URL + "/.well-known/oauth-protected-resource/mcp")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	defer mr.Body.Close()
	var doc auth.ProtectedResourceMetadata
	decodeJSON(t, mr.Body, &doc)
	if want, got := prm.Resource, doc.Resource; want != got {
		t.Fatalf("resource: want %q, got %q", want, got)
	}
}

func TestGoSDKClient(t *testing.T) {
	ctx := t.Context()
	srv, _ := mustServer(t, newMCPServer(t), streaminghttp.WithAuthenticator(authtest.NewNoAuth("")))

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: authRT{base: http.DefaultTransport}},
	}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	if want, got := "http-test", cs.InitializeResult().ServerInfo.Name; want != got {
		t.Fatalf("server name: want %q, got %q", want, got)
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if want, got := 2, len(lt.Tools); want != got {
		t.Fatalf("tools: want %d, got %d", want, got)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("unexpected call result: %+v", res)
	}

	lr, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if want, got := 1, len(lr.Resources); want != got {
		t.Fatalf("resources: want %d, got %d", want, got)
	}
	if _, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: lr.Resources[0].URI}); err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
}

// ============================================================================
// Test Server Utility
// ============================================================================

type authRT struct{ base http.RoundTripper }

func (a authRT) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer test-token")
	return a.base.RoundTrip(r)
}

func newMCPServer(t *testing.T, opts ...mcpservice.ServerOption) *mcpservice.Server {
	t.Helper()
	base := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "http-test", Version: "1.0.0"}),
		mcpservice.WithTools(
			mcpservice.Tool{
				Name:  "echo",
				Input: schema.Object(schema.Required("message", schema.String())),
				Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
					return w.AppendText("Echo: " + args.String("message"))
				},
			},
			mcpservice.Tool{
				Name: "slow",
				Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, _ mcpservice.Args) error {
					for i := 1; i <= 2; i++ {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(20 * time.Millisecond):
						}
						if err := w.SendProgress(float64(i), 2); err != nil {
							return err
						}
					}
					return w.AppendText("slow done")
				},
			},
		),
		mcpservice.WithResources(mcpservice.Resource{
			URI:  "test://doc",
			Name: "doc",
			Handler: func(context.Context, string) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{URI: "test://doc", MimeType: "text/plain", Text: "v1"}}, nil
			},
		}),
	}
	srv, err := mcpservice.NewServer(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// heldTool reports progress once, waits for release, then reports again.
// The error from the second report, or the cancellation cause, is sent on
// outcome.
func heldTool(release <-chan struct{}, outcome chan<- error) mcpservice.Tool {
	return mcpservice.Tool{
		Name: "held",
		Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, _ mcpservice.Args) error {
			if err := w.SendProgress(1, 2); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				outcome <- context.Cause(ctx)
				return ctx.Err()
			case <-release:
			}
			err := w.SendProgress(2, 2)
			outcome <- err
			if err != nil {
				return err
			}
			return w.AppendText("held done")
		},
	}
}

func mustServer(t *testing.T, srv *mcpservice.Server, opts ...streaminghttp.Option) (*httptest.Server, *streaminghttp.Handler) {
	t.Helper()
	base := []streaminghttp.Option{
		streaminghttp.WithLogger(slog.New(testLogHandler(t))),
		streaminghttp.WithKeepAlive(0),
	}
	h := streaminghttp.New(srv, append(base, opts...)...)
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return ts, h
}

func rpcBody(id any, method string, params any) string {
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func initializeBody(id any) string {
	return rpcBody(id, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: "2025-06-18",
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "1.0.0"},
	})
}

func post(t *testing.T, srv *httptest.Server, sessID, accept, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if sessID != "" {
		req.Header.Set("Mcp-Session-Id", sessID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func get(t *testing.T, ctx context.Context, srv *httptest.Server, sessID, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return resp
}

func del(t *testing.T, srv *httptest.Server, sessID string) int {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodDelete, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// initialize performs the handshake and returns the session id.
func initialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := post(t, srv, "", acceptJSON, initializeBody(1))
	defer resp.Body.Close()
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("initialize status: want %d, got %d", want, got)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	note := post(t, srv, sessID, acceptJSON, rpcBody(nil, string(mcp.InitializedNotificationMethod), nil))
	note.Body.Close()
	return sessID
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// logBridge routes slog output to t.Log.
type logBridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return b
}
