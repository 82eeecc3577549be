package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-everything-go/auth"
	"github.com/ggoodman/mcp-everything-go/internal/engine"
	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/internal/logctx"
	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/sessions"
)

// Binding is the session binding name used by this package.
const Binding = "streamableHttp"

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	ErrSessionHeaderMissing = errors.New("missing mcp-session-id header")
	ErrInvalidSession       = errors.New("invalid mcp session")
	ErrStreamAttached       = errors.New("notification stream already attached")
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	maxBodyBytes = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError answers an undecodable body with a JSON-RPC error object.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	endpoint  string
	logger    *slog.Logger
	authn     auth.Authenticator
	authOpts  []auth.MiddlewareOption
	prm       *auth.ProtectedResourceMetadata
	manager   *sessions.Manager
	keepAlive time.Duration
	rps       float64
	burst     int
}

// WithEndpoint sets the path the MCP endpoint is mounted on. Default "/mcp".
func WithEndpoint(path string) Option {
	return func(c *config) {
		if path != "" {
			c.endpoint = "/" + strings.Trim(path, "/")
		}
	}
}

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuthenticator guards every MCP request with bearer authentication.
func WithAuthenticator(a auth.Authenticator, opts ...auth.MiddlewareOption) Option {
	return func(c *config) {
		c.authn = a
		c.authOpts = opts
	}
}

// WithProtectedResourceMetadata serves doc under
// /.well-known/oauth-protected-resource<endpoint>.
func WithProtectedResourceMetadata(doc auth.ProtectedResourceMetadata) Option {
	return func(c *config) { c.prm = &doc }
}

// WithSessionManager supplies the session registry, for example to share
// idle-timeout settings. By default the handler owns a fresh one.
func WithSessionManager(m *sessions.Manager) Option {
	return func(c *config) { c.manager = m }
}

// WithKeepAlive sets the interval of comment frames on the standalone
// notification stream. Zero disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// WithRateLimit bounds each session to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) { c.rps, c.burst = rps, burst }
}

// Handler implements the streamable HTTP transport of the Model Context
// Protocol on a single endpoint.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	eng      *engine.Engine
	sessions *sessions.Manager
	endpoint string

	keepAlive time.Duration
}

// New builds a handler serving srv.
func New(srv *mcpservice.Server, opts ...Option) *Handler {
	cfg := &config{endpoint: "/mcp", logger: slog.New(slog.DiscardHandler), keepAlive: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	log := slog.New(logctx.Wrap(cfg.logger.Handler()))
	if cfg.manager == nil {
		cfg.manager = sessions.NewManager(sessions.WithManagerLogger(log))
	}

	engOpts := []engine.Option{engine.WithLogger(log)}
	if cfg.rps > 0 {
		engOpts = append(engOpts, engine.WithRateLimit(cfg.rps, cfg.burst))
	}

	h := &Handler{
		log:       log,
		eng:       engine.New(srv, engOpts...),
		sessions:  cfg.manager,
		endpoint:  cfg.endpoint,
		keepAlive: cfg.keepAlive,
	}

	guard := func(fn http.HandlerFunc) http.Handler { return fn }
	if cfg.authn != nil {
		mw := auth.Middleware(cfg.authn, append([]auth.MiddlewareOption{auth.WithLogger(log)}, cfg.authOpts...)...)
		guard = func(fn http.HandlerFunc) http.Handler { return mw(fn) }
	}

	mux := http.NewServeMux()
	mux.Handle(fmt.Sprintf("POST %s", h.endpoint), guard(h.handlePost))
	mux.Handle(fmt.Sprintf("GET %s", h.endpoint), guard(h.handleGet))
	mux.Handle(fmt.Sprintf("DELETE %s", h.endpoint), guard(h.handleDelete))
	if cfg.prm != nil {
		prmPath := "/.well-known/oauth-protected-resource" + strings.TrimSuffix(h.endpoint, "/")
		mh := auth.MetadataHandler(*cfg.prm)
		mux.Handle("GET "+prmPath, mh)
		mux.Handle("OPTIONS "+prmPath, mh)
	}
	h.mux = mux
	return h
}

// Sessions exposes the session registry.
func (h *Handler) Sessions() *sessions.Manager { return h.sessions }

// Close terminates every session.
func (h *Handler) Close() { h.sessions.CloseAll() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func userID(ctx context.Context) string {
	if ui, ok := auth.UserFromContext(ctx); ok {
		return ui.UserID()
	}
	return ""
}

// lookupSession resolves the Mcp-Session-Id header. Sessions owned by another
// principal are reported as missing.
func (h *Handler) lookupSession(r *http.Request) (*sessions.Session, error) {
	id := r.Header.Get(mcpSessionIDHeader)
	if id == "" {
		return nil, ErrSessionHeaderMissing
	}
	sess, ok := h.sessions.Get(id)
	if !ok || sess.UserID() != userID(r.Context()) {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

func sessionStatus(err error) int {
	if errors.Is(err, ErrSessionHeaderMissing) {
		return http.StatusBadRequest
	}
	return http.StatusNotFound
}

// handlePost handles client-to-server messages. An initialize request without
// a session header creates the session.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		h.log.WarnContext(ctx, "http.post.body.fail", slog.String("err", err.Error()))
		return
	}
	msg, err := jsonrpc.Decode(raw)
	if err != nil {
		code := jsonrpc.ErrorCodeInvalidRequest
		if !errors.Is(err, jsonrpc.ErrBatchUnsupported) && !json.Valid(raw) {
			code = jsonrpc.ErrorCodeParseError
		}
		writeRPCError(w, http.StatusBadRequest, code, err.Error())
		h.log.WarnContext(ctx, "http.post.jsonrpc.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})
	isInit := msg.Type() == jsonrpc.KindRequest && msg.Method == string(mcp.InitializeMethod)

	if r.Header.Get(mcpSessionIDHeader) == "" && isInit {
		h.initialize(ctx, w, msg.AsRequest(), start)
		return
	}

	sess, err := h.lookupSession(r)
	if err != nil {
		writeJSONError(w, sessionStatus(err), err.Error())
		h.log.InfoContext(ctx, "http.post.session.miss", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: sess.UserID()})

	if isInit {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	spv := h.eng.ProtocolVersion(sess)
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && spv != "" && pv != spv {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}
	if spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}

	if msg.Type() != jsonrpc.KindRequest {
		// Notifications and responses are only acknowledged.
		_ = h.eng.HandleMessage(ctx, sess, raw, nil)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	req := msg.AsRequest()
	if !acceptsEventStream(r) {
		// Plain JSON: notifications emitted while serving go to the standalone stream.
		resp := h.eng.HandleRequest(ctx, sess, req, nil)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	wf, ok := newLockedWriteFlusher(ctx, w)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	stream := sseWriter{wf: wf}
	resp := h.eng.HandleRequest(ctx, sess, req, stream)
	if resp == nil {
		return
	}
	if sess.Closed() {
		h.log.InfoContext(ctx, "rpc.response.dropped", slog.String("reason", "session_closed"), slog.Duration("dur", time.Since(start)))
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := stream.WriteMessage(ctx, b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) initialize(ctx context.Context, w http.ResponseWriter, req *jsonrpc.Request, start time.Time) {
	uid := userID(ctx)
	sess := h.sessions.Create(Binding, sessions.WithUserID(uid), sessions.WithLogger(h.log))
	h.eng.Attach(sess)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: uid})

	resp := h.eng.HandleRequest(ctx, sess, req, nil)
	if resp == nil || resp.Error != nil {
		_ = sess.Close()
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(resp)
		h.log.InfoContext(ctx, "session.initialize.fail")
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	if v := h.eng.ProtocolVersion(sess); v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet attaches the standalone server-to-client notification stream.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must allow text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	sess, err := h.lookupSession(r)
	if err != nil {
		writeJSONError(w, sessionStatus(err), err.Error())
		h.log.InfoContext(ctx, "http.get.session.miss", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: sess.UserID()})

	wf, ok := newLockedWriteFlusher(ctx, w)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	if sess.HasWriter() {
		writeJSONError(w, http.StatusConflict, ErrStreamAttached.Error())
		h.log.InfoContext(ctx, "sse.stream.conflict")
		return
	}

	// Headers precede the writer so every notification lands in an event stream.
	if spv := h.eng.ProtocolVersion(sess); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	detach, err := sess.AttachWriter(sseWriter{wf: wf})
	if err != nil {
		// Lost a race with another GET, or the session closed. The status is
		// already sent, so end the stream with a comment.
		_, _ = wf.Write([]byte(": " + ErrStreamAttached.Error() + "\n\n"))
		wf.Flush()
		h.log.InfoContext(ctx, "sse.stream.conflict", slog.String("err", err.Error()))
		return
	}
	defer detach()
	h.log.InfoContext(ctx, "sse.stream.start")

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		t := time.NewTicker(h.keepAlive)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.session_closed", slog.Duration("dur", time.Since(start)))
			return
		case <-tick:
			if _, err := wf.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			wf.Flush()
		}
	}
}

// handleDelete terminates a session. Other sessions are unaffected.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.lookupSession(r)
	if err != nil {
		w.WriteHeader(sessionStatus(err))
		h.log.InfoContext(ctx, "session.delete.miss", slog.String("err", err.Error()))
		return
	}
	h.sessions.Close(sess.ID())
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", sess.ID()))
}

func acceptsEventStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes)
	return err == nil
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and a context.
// It serializes concurrent writes/flushes and refuses to write after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func newLockedWriteFlusher(ctx context.Context, w http.ResponseWriter) (*lockedWriteFlusher, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}, true
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// sseWriter adapts a stream to sessions.MessageWriter.
type sseWriter struct{ wf *lockedWriteFlusher }

func (s sseWriter) WriteMessage(_ context.Context, msg jsonrpc.Message) error {
	return writeSSEEvent(s.wf, "", msg)
}

// writeSSEEvent writes one message event and flushes. The frame is written in
// a single call so concurrent writers cannot interleave.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	var b strings.Builder
	if msgID != "" {
		fmt.Fprintf(&b, "id: %s\n", msgID)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(wf, b.String()); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	wf.Flush()
	return nil
}
