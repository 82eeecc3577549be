// Package engine routes decoded JSON-RPC messages of one session to the
// execution dispatcher. It is transport-agnostic: bindings own framing and
// sessions, the engine owns protocol semantics.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/internal/logctx"
	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/schema"
	"github.com/ggoodman/mcp-everything-go/sessions"
)

var (
	// ErrCancelled is the cancellation cause of requests aborted by the client.
	ErrCancelled = errors.New("request cancelled")
	// ErrSessionClosed is returned for requests that need a live session.
	ErrSessionClosed = errors.New("session closed")
)

// Engine is the JSON-RPC router shared by every binding.
type Engine struct {
	srv *mcpservice.Server
	log *slog.Logger

	rps   float64
	burst int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRateLimit bounds every session to rps requests per second with the
// given burst. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		e.rps = rps
		e.burst = max(burst, 1)
	}
}

// New builds an engine over srv.
func New(srv *mcpservice.Server, opts ...Option) *Engine {
	e := &Engine{srv: srv, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Server returns the dispatcher behind the engine.
func (e *Engine) Server() *mcpservice.Server { return e.srv }

// Attach prepares sess for routing. Closing the session drops all of its
// resource subscriptions. In-flight invocations run to completion; anything
// they emit afterwards is discarded by the session.
func (e *Engine) Attach(sess *sessions.Session) {
	e.state(sess)
	sess.OnClose(func() {
		if subs := e.srv.Subscriptions(); subs != nil {
			if n := subs.CloseSession(sess.ID()); n > 0 {
				e.log.Debug("engine.session.unsubscribed", slog.String("session_id", sess.ID()), slog.Int("count", n))
			}
		}
	})
}

// HandleMessage processes one inbound message. It returns the response to
// write for requests and for undecodable input, and nil otherwise. w
// receives notifications emitted while serving the request (progress, log
// messages); when nil they go through the session.
func (e *Engine) HandleMessage(ctx context.Context, sess *sessions.Session, raw []byte, w sessions.MessageWriter) *jsonrpc.Response {
	msg, err := jsonrpc.Decode(raw)
	if err != nil {
		code, text := jsonrpc.ErrorCodeInvalidRequest, "invalid request"
		if !errors.Is(err, jsonrpc.ErrBatchUnsupported) && !json.Valid(raw) {
			code, text = jsonrpc.ErrorCodeParseError, "parse error"
		}
		e.log.InfoContext(ctx, "engine.handle_message.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(nil, code, text, err.Error())
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	switch msg.Type() {
	case jsonrpc.KindRequest:
		return e.HandleRequest(ctx, sess, msg.AsRequest(), w)
	case jsonrpc.KindNotification:
		e.HandleNotification(ctx, sess, msg.AsRequest())
	default:
		// The server never issues client-directed requests, so responses
		// have nothing to correlate with.
		e.log.DebugContext(ctx, "engine.handle_message.unexpected_response")
	}
	return nil
}

// HandleRequest serves one request and returns its response. Notifications
// produced while serving it are written to w before HandleRequest returns.
// A request cancelled by the client yields a nil response.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request, w sessions.MessageWriter) *jsonrpc.Response {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))
	st := e.state(sess)
	sess.Touch()

	if !st.allow() {
		log.WarnContext(ctx, "engine.handle_request.rate_limited")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeRateLimited, "rate limit exceeded", nil)
	}

	if w == nil {
		w = sessions.MessageWriterFunc(sess.Send)
	} else {
		w = gatedWriter{sess: sess, w: w}
	}

	res, err := e.dispatch(ctx, sess, st, req, w)
	var cancelled *cancelledError
	if errors.As(err, &cancelled) {
		log.InfoContext(ctx, "engine.handle_request.cancelled", slog.String("err", cancelled.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil
	}
	if err != nil {
		resp := errorResponse(req.ID, err)
		if resp.Error.Code == jsonrpc.ErrorCodeInternalError {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		} else {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		}
		return resp
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.encode_fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return resp
}

// gatedWriter discards writes once its session has closed, matching
// Session.Send for writers supplied by a transport.
type gatedWriter struct {
	sess *sessions.Session
	w    sessions.MessageWriter
}

func (g gatedWriter) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	if g.sess.Closed() {
		return nil
	}
	return g.w.WriteMessage(ctx, msg)
}

// rpcError carries an explicit JSON-RPC error out of dispatch.
type rpcError struct {
	code    jsonrpc.ErrorCode
	message string
	data    any
}

func (e *rpcError) Error() string { return e.message }

// cancelledError marks a request aborted by notifications/cancelled or by
// its transport going away. No response is sent for it.
type cancelledError struct{ cause error }

func (e *cancelledError) Error() string { return e.cause.Error() }
func (e *cancelledError) Unwrap() error { return e.cause }

func invalidParams(msg string) error {
	return &rpcError{code: jsonrpc.ErrorCodeInvalidParams, message: msg}
}

func (e *Engine) dispatch(ctx context.Context, sess *sessions.Session, st *sessionState, req *jsonrpc.Request, w sessions.MessageWriter) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, st, req)
	case mcp.PingMethod:
		return mcp.EmptyResult{}, nil
	case mcp.ToolsListMethod:
		var p mcp.ListToolsRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.srv.ToolsPage(p.Cursor)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, st, req, w)
	case mcp.ResourcesListMethod:
		var p mcp.ListResourcesRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.srv.ResourcesPage(p.Cursor)
	case mcp.ResourcesTemplatesListMethod:
		var p mcp.ListResourceTemplatesRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.srv.ResourceTemplatesPage(p.Cursor)
	case mcp.ResourcesReadMethod:
		var p mcp.ReadResourceRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.URI == "" {
			return nil, invalidParams("missing uri")
		}
		return e.srv.ReadResource(ctx, p.URI)
	case mcp.ResourcesSubscribeMethod:
		return e.handleSubscribe(ctx, sess, req)
	case mcp.ResourcesUnsubscribeMethod:
		return e.handleUnsubscribe(sess, req)
	case mcp.PromptsListMethod:
		var p mcp.ListPromptsRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.srv.PromptsPage(p.Cursor)
	case mcp.PromptsGetMethod:
		var p mcp.GetPromptRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, invalidParams("missing name")
		}
		return e.srv.GetPrompt(ctx, p.Name, p.Arguments)
	case mcp.LoggingSetLevelMethod:
		return e.handleSetLevel(ctx, st, req)
	}
	return nil, &rpcError{code: jsonrpc.ErrorCodeMethodNotFound, message: "method not found: " + req.Method}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

func (e *Engine) handleInitialize(ctx context.Context, st *sessionState, req *jsonrpc.Request) (any, error) {
	var p mcp.InitializeRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	version := mcp.NegotiateProtocolVersion(p.ProtocolVersion)

	st.mu.Lock()
	st.protocolVersion = version
	st.clientInfo = p.ClientInfo
	st.mu.Unlock()

	e.log.InfoContext(ctx, "engine.initialize",
		slog.String("client_name", p.ClientInfo.Name),
		slog.String("client_version", p.ClientInfo.Version),
		slog.String("requested_version", p.ProtocolVersion),
		slog.String("protocol_version", version))

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	}, nil
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, st *sessionState, req *jsonrpc.Request, w sessions.MessageWriter) (any, error) {
	var p mcp.CallToolRequestReceived
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, invalidParams("missing tool name")
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: p.Name})

	reqID := req.ID.String()
	toolCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)
	if !st.track(reqID, cancel) {
		return nil, &rpcError{code: jsonrpc.ErrorCodeInvalidRequest, message: "duplicate request id " + reqID}
	}
	defer st.untrack(reqID)

	var emitter *mcpservice.ProgressEmitter
	if p.Meta != nil && p.Meta.ProgressToken != nil {
		if release, ok := st.acquireToken(p.Meta.ProgressToken); ok {
			defer release()
			emitter = mcpservice.NewProgressEmitter(p.Meta.ProgressToken, progressSink(w))
			toolCtx = mcpservice.WithProgressReporter(toolCtx, emitter)
		} else {
			e.log.WarnContext(ctx, "engine.progress.token_in_use", slog.Any("token", p.Meta.ProgressToken))
		}
	}
	toolCtx = mcpservice.WithClientLogger(toolCtx, e.clientLogger(st, w))

	res := e.srv.CallTool(toolCtx, p.Name, p.Arguments)

	if toolCtx.Err() != nil {
		emitter.Abandon()
		return nil, &cancelledError{cause: context.Cause(toolCtx)}
	}
	if res.IsError {
		emitter.Abandon()
		return res, nil
	}
	if err := emitter.Finish(ctx); err != nil {
		e.log.InfoContext(ctx, "engine.progress.finish_fail", slog.String("err", err.Error()))
	}
	return res, nil
}

func (e *Engine) handleSubscribe(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, error) {
	subs := e.srv.Subscriptions()
	if subs == nil {
		return nil, &rpcError{code: jsonrpc.ErrorCodeMethodNotFound, message: "resource subscriptions not supported"}
	}
	var p mcp.SubscribeRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, invalidParams("missing uri")
	}
	if !e.srv.HasResource(p.URI) {
		return nil, &registry.NotFoundError{Kind: registry.KindResource, Name: p.URI}
	}
	if sess.Closed() {
		return nil, ErrSessionClosed
	}

	isNew := subs.Subscribe(sess.ID(), p.URI, func(ctx context.Context, uri string) error {
		return sess.Notify(ctx, string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: uri})
	})
	if sess.Closed() {
		// Close may have run its cleanups between the check above and Subscribe.
		subs.Unsubscribe(sess.ID(), p.URI)
		return nil, ErrSessionClosed
	}
	e.log.InfoContext(ctx, "engine.resources.subscribe", slog.String("uri", p.URI), slog.Bool("new", isNew))
	return mcp.EmptyResult{}, nil
}

func (e *Engine) handleUnsubscribe(sess *sessions.Session, req *jsonrpc.Request) (any, error) {
	subs := e.srv.Subscriptions()
	if subs == nil {
		return nil, &rpcError{code: jsonrpc.ErrorCodeMethodNotFound, message: "resource subscriptions not supported"}
	}
	var p mcp.UnsubscribeRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, invalidParams("missing uri")
	}
	subs.Unsubscribe(sess.ID(), p.URI)
	return mcp.EmptyResult{}, nil
}

func (e *Engine) handleSetLevel(ctx context.Context, st *sessionState, req *jsonrpc.Request) (any, error) {
	var p mcp.SetLevelRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	level, err := mcpservice.SlogLevel(p.Level)
	if err != nil {
		return nil, invalidParams(err.Error() + ": " + string(p.Level))
	}
	st.mu.Lock()
	st.logLevel = level
	st.mu.Unlock()
	e.log.InfoContext(ctx, "engine.logging.set_level", slog.String("level", string(p.Level)))
	return mcp.EmptyResult{}, nil
}

// HandleNotification processes a client notification. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, note *jsonrpc.Request) {
	st := e.state(sess)
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		st.mu.Lock()
		st.initialized = true
		st.mu.Unlock()
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var p mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &p); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(p.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		cause := ErrCancelled
		if p.Reason != "" {
			cause = errors.New(p.Reason)
		}
		hadRequest := st.cancel(id.String(), cause)
		e.log.InfoContext(ctx, "engine.request.cancel", slog.String("request_id", id.String()), slog.Bool("in_flight", hadRequest))
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	}
}

func progressSink(w sessions.MessageWriter) mcpservice.ProgressSink {
	return func(ctx context.Context, params mcp.ProgressNotificationParams) error {
		return writeNotification(ctx, w, string(mcp.ProgressNotificationMethod), params)
	}
}

func (e *Engine) clientLogger(st *sessionState, w sessions.MessageWriter) mcpservice.ClientLogger {
	return func(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error {
		lvl, err := mcpservice.SlogLevel(level)
		if err != nil {
			return err
		}
		if lvl < st.level() {
			return nil
		}
		return writeNotification(ctx, w, string(mcp.LoggingMessageNotificationMethod), mcp.LoggingMessageNotification{Level: level, Logger: logger, Data: data})
	}
}

func writeNotification(ctx context.Context, w sessions.MessageWriter, method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.WriteMessage(ctx, b)
}

// errorResponse maps dispatcher errors onto JSON-RPC error codes.
func errorResponse(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var (
		rpcErr *rpcError
		nf     *registry.NotFoundError
		verr   *schema.ValidationError
		fault  *mcpservice.HandlerFault
	)
	switch {
	case errors.As(err, &rpcErr):
		return jsonrpc.NewErrorResponse(id, rpcErr.code, rpcErr.message, rpcErr.data)
	case errors.As(err, &nf):
		if nf.Kind == registry.KindResource {
			return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeResourceNotFound, "Resource not found", map[string]string{"uri": nf.Name})
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, nf.Error(), nil)
	case errors.As(err, &verr):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, verr.Error(), nil)
	case errors.Is(err, mcpservice.ErrInvalidCursor):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	case errors.As(err, &fault):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, fault.Error(), nil)
	}
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal error", nil)
}

// ProtocolVersion returns the protocol version negotiated on sess, or ""
// before initialize.
func (e *Engine) ProtocolVersion(sess *sessions.Session) string {
	st := e.state(sess)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.protocolVersion
}

// Initialized reports whether the client sent notifications/initialized.
func (e *Engine) Initialized(sess *sessions.Session) bool {
	st := e.state(sess)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.initialized
}
