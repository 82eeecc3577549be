package sse_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/schema"
	"github.com/ggoodman/mcp-everything-go/sse"
	"github.com/ggoodman/mcp-everything-go/subscriptions"
	gosse "github.com/tmaxmax/go-sse"
)

type client struct {
	t        *testing.T
	srv      *httptest.Server
	endpoint string
	events   chan gosse.Event
	cancel   context.CancelFunc
}

// connect opens the event stream and waits for the endpoint event.
func connect(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("get: %v", err)
	}
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		cancel()
		t.Fatalf("status: want %d, got %d", want, got)
	}

	c := &client{t: t, srv: srv, events: make(chan gosse.Event, 16), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		for ev, err := range gosse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			c.events <- ev
		}
	}()
	t.Cleanup(cancel)

	ev := c.next()
	if want, got := "endpoint", ev.Type; want != got {
		t.Fatalf("first event: want %q, got %q", want, got)
	}
	c.endpoint = ev.Data
	return c
}

func (c *client) next() gosse.Event {
	c.t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(2 * time.Second):
		c.t.Fatalf("timed out waiting for event")
		return gosse.Event{}
	}
}

func (c *client) post(id any, method string, params any) int {
	c.t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	b, _ := json.Marshal(msg)
	return postRaw(c.t, c.srv.URL+c.endpoint, "application/json", string(b))
}

func (c *client) response() *jsonrpc.Response {
	c.t.Helper()
	ev := c.next()
	if want, got := "message", ev.Type; want != got {
		c.t.Fatalf("event type: want %q, got %q", want, got)
	}
	var res jsonrpc.Response
	if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
	return &res
}

func (c *client) sessionID() string {
	c.t.Helper()
	u, err := url.Parse(c.endpoint)
	if err != nil {
		c.t.Fatalf("parse endpoint: %v", err)
	}
	return u.Query().Get("sessionId")
}

func postRaw(t *testing.T, url, ctype, body string) int {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", ctype)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
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

func newTestServer(t *testing.T, opts ...mcpservice.ServerOption) (*httptest.Server, *sse.Handler) {
	t.Helper()
	base := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "sse-test", Version: "1.0.0"}),
		mcpservice.WithTools(mcpservice.Tool{
			Name:  "echo",
			Input: schema.Object(schema.Required("message", schema.String())),
			Handler: func(ctx context.Context, w mcpservice.ToolResponseWriter, args mcpservice.Args) error {
				return w.AppendText("Echo: " + args.String("message"))
			},
		}),
		mcpservice.WithResources(mcpservice.Resource{
			URI:  "test://doc",
			Name: "doc",
			Handler: func(context.Context, string) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{URI: "test://doc", Text: "v1"}}, nil
			},
		}),
	}
	srv, err := mcpservice.NewServer(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := sse.New(srv, sse.WithLogger(slog.New(slog.DiscardHandler)), sse.WithKeepAlive(0))
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		ts.Close()
		h.Close()
	})
	return ts, h
}

func TestEndpointEvent(t *testing.T) {
	srv, h := newTestServer(t)
	c := connect(t, srv)

	if !strings.HasPrefix(c.endpoint, "/message?sessionId=") {
		t.Fatalf("unexpected endpoint %q", c.endpoint)
	}
	if want, got := 1, h.Sessions().Len(); want != got {
		t.Fatalf("sessions: want %d, got %d", want, got)
	}
}

func TestEndpointEvent_WriterAlreadyAttached(t *testing.T) {
	srv, h := newTestServer(t)
	c := connect(t, srv)

	sess, ok := h.Sessions().Get(c.sessionID())
	if !ok {
		t.Fatalf("session %q not registered", c.sessionID())
	}
	if !sess.HasWriter() {
		t.Fatalf("endpoint announced before the stream was attached")
	}
}

func TestRequestResponseOverStream(t *testing.T) {
	srv, _ := newTestServer(t)
	c := connect(t, srv)

	if want, got := http.StatusAccepted, c.post(1, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      mcp.ImplementationInfo{Name: "c", Version: "1"},
	}); want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
	res := c.response()
	if res.Error != nil {
		t.Fatalf("initialize: %+v", res.Error)
	}
	var init mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &init); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want, got := "2024-11-05", init.ProtocolVersion; want != got {
		t.Fatalf("protocol version: want %q, got %q", want, got)
	}

	if want, got := http.StatusAccepted, c.post(nil, string(mcp.InitializedNotificationMethod), nil); want != got {
		t.Fatalf("notification status: want %d, got %d", want, got)
	}

	c.post(2, string(mcp.ToolsCallMethod), map[string]any{"name": "echo", "arguments": map[string]any{"message": "hi"}})
	res = c.response()
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want, got := "Echo: hi", out.Content[0].Text; want != got {
		t.Fatalf("text: want %q, got %q", want, got)
	}
}

func TestMalformedMessage_ParseErrorOnStream(t *testing.T) {
	srv, _ := newTestServer(t)
	c := connect(t, srv)

	if want, got := http.StatusAccepted, postRaw(t, srv.URL+c.endpoint, "application/json", `{"jsonrpc":`); want != got {
		t.Fatalf("status: want %d, got %d", want, got)
	}
	res := c.response()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("want parse error, got %+v", res.Error)
	}

	c.post(2, string(mcp.PingMethod), nil)
	if res := c.response(); res.Error != nil {
		t.Fatalf("ping after parse error: %+v", res.Error)
	}
}

func TestMessageRejections(t *testing.T) {
	srv, _ := newTestServer(t)
	c := connect(t, srv)

	tests := []struct {
		name   string
		url    string
		ctype  string
		status int
	}{
		{"missing session", srv.URL + "/message", "application/json", http.StatusBadRequest},
		{"unknown session", srv.URL + "/message?sessionId=nope", "application/json", http.StatusNotFound},
		{"content type", srv.URL + c.endpoint, "text/plain", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if want, got := tt.status, postRaw(t, tt.url, tt.ctype, `{"jsonrpc":"2.0","id":1,"method":"ping"}`); want != got {
				t.Fatalf("status: want %d, got %d", want, got)
			}
		})
	}
}

func TestDisconnect_ClosesSession(t *testing.T) {
	subs := subscriptions.NewManager()
	srv, h := newTestServer(t, mcpservice.WithSubscriptions(subs))
	c := connect(t, srv)

	c.post(1, string(mcp.ResourcesSubscribeMethod), map[string]any{"uri": "test://doc"})
	if res := c.response(); res.Error != nil {
		t.Fatalf("subscribe: %+v", res.Error)
	}
	if want, got := 1, subs.Notify(t.Context(), "test://doc"); want != got {
		t.Fatalf("deliveries: want %d, got %d", want, got)
	}
	ev := c.next()
	if !strings.Contains(ev.Data, string(mcp.ResourcesUpdatedNotificationMethod)) {
		t.Fatalf("want resources/updated, got %q", ev.Data)
	}

	c.cancel()

	deadline := time.Now().Add(2 * time.Second)
	for h.Sessions().Len() > 0 || subs.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not closed after disconnect: sessions=%d subs=%d", h.Sessions().Len(), subs.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if want, got := http.StatusNotFound, postRaw(t, srv.URL+c.endpoint, "application/json", `{"jsonrpc":"2.0","id":1,"method":"ping"}`); want != got {
		t.Fatalf("post after disconnect: want %d, got %d", want, got)
	}
}

func TestSessionClose_InvocationCompletes(t *testing.T) {
	release := make(chan struct{})
	outcome := make(chan error, 1)
	srv, h := newTestServer(t, mcpservice.WithTools(heldTool(release, outcome)))
	c := connect(t, srv)

	c.post(1, string(mcp.ToolsCallMethod), map[string]any{
		"name":  "held",
		"_meta": map[string]any{"progressToken": "p-1"},
	})
	if ev := c.next(); !strings.Contains(ev.Data, string(mcp.ProgressNotificationMethod)) {
		t.Fatalf("want progress, got %q", ev.Data)
	}

	h.Sessions().Close(c.sessionID())
	close(release)

	select {
	case err := <-outcome:
		if err != nil {
			t.Fatalf("invocation should complete after session close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("invocation did not complete")
	}

	select {
	case ev := <-c.events:
		t.Fatalf("delivered after session close: %q", ev.Data)
	case <-time.After(100 * time.Millisecond):
	}
}
