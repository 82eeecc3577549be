package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-everything-go/auth"
	"github.com/ggoodman/mcp-everything-go/internal/engine"
	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/internal/logctx"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/sessions"
	gosse "github.com/tmaxmax/go-sse"
)

// Binding is the session binding name used by this package.
const Binding = "sse"

const maxBodyBytes = 4 << 20

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	ErrSessionIDMissing = errors.New("missing sessionId query parameter")
	ErrUnknownSession   = errors.New("unknown session")
	errStreamClosed     = errors.New("event stream closed")
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType("text/event-stream")}
)

// Option configures the Handler.
type Option func(*config)

type config struct {
	base      string
	logger    *slog.Logger
	authn     auth.Authenticator
	authOpts  []auth.MiddlewareOption
	manager   *sessions.Manager
	keepAlive time.Duration
	rps       float64
	burst     int
}

// WithBasePath mounts the endpoints under base, e.g. "/v1" serves /v1/sse and
// /v1/message.
func WithBasePath(base string) Option {
	return func(c *config) {
		if b := strings.Trim(base, "/"); b != "" {
			c.base = "/" + b
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

// WithAuthenticator guards both endpoints with bearer authentication.
func WithAuthenticator(a auth.Authenticator, opts ...auth.MiddlewareOption) Option {
	return func(c *config) {
		c.authn = a
		c.authOpts = opts
	}
}

// WithSessionManager supplies the session registry.
func WithSessionManager(m *sessions.Manager) Option {
	return func(c *config) { c.manager = m }
}

// WithKeepAlive sets the interval of comment frames on each stream. Zero
// disables them. Default 15s.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// WithRateLimit bounds each session to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) { c.rps, c.burst = rps, burst }
}

// Handler serves the HTTP+SSE transport: a long-lived event stream per
// session plus a POST endpoint for client messages.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	eng       *engine.Engine
	sessions  *sessions.Manager
	base      string
	keepAlive time.Duration

	// ctx bounds message processing; it ends only on Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a handler serving srv.
func New(srv *mcpservice.Server, opts ...Option) *Handler {
	cfg := &config{logger: slog.New(slog.DiscardHandler), keepAlive: 15 * time.Second}
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

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
		eng:       engine.New(srv, engOpts...),
		sessions:  cfg.manager,
		base:      cfg.base,
		keepAlive: cfg.keepAlive,
	}

	guard := func(fn http.HandlerFunc) http.Handler { return fn }
	if cfg.authn != nil {
		mw := auth.Middleware(cfg.authn, append([]auth.MiddlewareOption{auth.WithLogger(log)}, cfg.authOpts...)...)
		guard = func(fn http.HandlerFunc) http.Handler { return mw(fn) }
	}

	mux := http.NewServeMux()
	mux.Handle(fmt.Sprintf("GET %s/sse", h.base), guard(h.handleStream))
	mux.Handle(fmt.Sprintf("POST %s/message", h.base), guard(h.handleMessage))
	h.mux = mux
	return h
}

// Sessions exposes the session registry.
func (h *Handler) Sessions() *sessions.Manager { return h.sessions }

// Close terminates every session, cancels in-flight messages and waits for
// them to return.
func (h *Handler) Close() {
	h.sessions.CloseAll()
	h.cancel()
	h.wg.Wait()
}

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

// handleStream opens a session and holds its event stream until the client
// disconnects or the session is closed.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			http.Error(w, "accept must allow text/event-stream", http.StatusNotAcceptable)
			h.log.WarnContext(ctx, "sse.stream.not_acceptable")
			return
		}
	}

	up, err := gosse.Upgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.stream.upgrade.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	uid := userID(ctx)
	sess := h.sessions.Create(Binding, sessions.WithUserID(uid), sessions.WithLogger(h.log))
	defer h.sessions.Close(sess.ID())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: uid})

	stream := &eventStream{up: up}
	defer stream.close()

	// The writer is in place before the client learns where to POST.
	h.eng.Attach(sess)
	detach, err := sess.AttachWriter(stream)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.stream.attach.fail", slog.String("err", err.Error()))
		return
	}
	defer detach()

	endpoint := fmt.Sprintf("%s/message?sessionId=%s", h.base, url.QueryEscape(sess.ID()))
	if err := stream.send("endpoint", endpoint); err != nil {
		h.log.ErrorContext(ctx, "sse.stream.endpoint.fail", slog.String("err", err.Error()))
		return
	}

	if h.keepAlive > 0 {
		sess.Every(h.keepAlive, func(context.Context) {
			if err := stream.comment("keepalive"); err != nil {
				h.log.DebugContext(ctx, "sse.stream.keepalive.fail", slog.String("err", err.Error()))
			}
		})
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	select {
	case <-ctx.Done():
		h.log.InfoContext(ctx, "sse.stream.disconnect", slog.Duration("dur", time.Since(start)))
	case <-sess.Done():
		h.log.InfoContext(ctx, "sse.stream.session_closed", slog.Duration("dur", time.Since(start)))
	}
}

// handleMessage accepts one client message. The JSON-RPC response, if any,
// is delivered on the session's event stream.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "sse.message.content_type.unsupported")
		return
	}

	id := r.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, ErrSessionIDMissing.Error(), http.StatusBadRequest)
		h.log.WarnContext(ctx, "sse.message.session_missing")
		return
	}
	sess, ok := h.sessions.Get(id)
	if !ok || sess.UserID() != userID(ctx) {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		h.log.InfoContext(ctx, "sse.message.session_unknown", slog.String("session_id", id))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		h.log.WarnContext(ctx, "sse.message.body.fail", slog.String("err", err.Error()))
		return
	}

	// Processing outlives both the POST and a session close; output for a
	// closed session is dropped by Session.Send.
	mctx := logctx.WithSessionData(h.ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: sess.UserID()})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		resp := h.eng.HandleMessage(mctx, sess, raw, nil)
		if resp == nil {
			return
		}
		b, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(mctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if err := sess.Send(mctx, b); err != nil {
			h.log.ErrorContext(mctx, "sse.message.deliver.fail", slog.String("err", err.Error()))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// eventStream serializes writes to a go-sse session. It refuses writes once
// the owning request has returned.
type eventStream struct {
	mu     sync.Mutex
	up     *gosse.Session
	closed bool
}

func (s *eventStream) WriteMessage(_ context.Context, msg jsonrpc.Message) error {
	return s.send("message", string(msg))
}

func (s *eventStream) send(typ, data string) error {
	m := &gosse.Message{Type: gosse.Type(typ)}
	m.AppendData(data)
	return s.write(m)
}

func (s *eventStream) comment(text string) error {
	m := &gosse.Message{}
	m.AppendComment(text)
	return s.write(m)
}

func (s *eventStream) write(m *gosse.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := s.up.Send(m); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.up.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
