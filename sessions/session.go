package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
)

var (
	// ErrSessionClosed is returned by operations that cannot proceed on a
	// closed session. Send and Notify never return it.
	ErrSessionClosed = errors.New("session closed")
	// ErrWriterAttached is returned when a session already has a writer.
	ErrWriterAttached = errors.New("session writer already attached")
)

// MessageWriter delivers one encoded JSON-RPC message to the peer.
// Implementations must be safe for concurrent use.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

// MessageWriterFunc adapts a function to MessageWriter.
type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}

// Session is the state of one logical client connection.
type Session struct {
	id      string
	binding string
	userID  string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	writer   MessageWriter
	cleanups []func()
	closing  bool

	closeOnce  sync.Once
	closed     atomic.Bool
	lastActive atomic.Int64

	values sync.Map
}

// Option configures a Session.
type Option func(*Session)

// WithWriter sets the initial outbound writer.
func WithWriter(w MessageWriter) Option {
	return func(s *Session) { s.writer = w }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithUserID records the authenticated principal.
func WithUserID(id string) Option {
	return func(s *Session) { s.userID = id }
}

// WithParent derives the session context from ctx instead of
// context.Background. Cancelling ctx does not close the session by itself.
func WithParent(ctx context.Context) Option {
	return func(s *Session) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

// New creates an open session.
func New(id, binding string, opts ...Option) *Session {
	s := &Session{
		id:      id,
		binding: binding,
		log:     slog.New(slog.DiscardHandler),
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(s.ctx))
	s.Touch()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Binding() string { return s.binding }
func (s *Session) UserID() string  { return s.userID }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Touch records activity for idle reaping.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the most recent Touch.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// AttachWriter installs w as the outbound path. It fails with
// ErrWriterAttached if another writer is installed and with ErrSessionClosed
// after Close. The returned detach function removes w if it is still current.
func (s *Session) AttachWriter(w MessageWriter) (detach func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, ErrSessionClosed
	}
	if s.writer != nil {
		return nil, ErrWriterAttached
	}
	s.writer = w
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.writer == w {
				s.writer = nil
			}
		})
	}, nil
}

// HasWriter reports whether an outbound path is attached.
func (s *Session) HasWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

// Send writes msg through the attached writer. It is a silent no-op when the
// session is closed or no writer is attached, and write failures that race
// with Close are swallowed.
func (s *Session) Send(ctx context.Context, msg jsonrpc.Message) error {
	if s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		s.log.DebugContext(ctx, "session.send.dropped", slog.String("session_id", s.id), slog.String("reason", "no_writer"))
		return nil
	}
	if err := w.WriteMessage(ctx, msg); err != nil {
		if s.closed.Load() {
			return nil
		}
		return err
	}
	return nil
}

// Notify encodes a JSON-RPC notification and sends it.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if s.closed.Load() {
		return nil
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.Send(ctx, b)
}

// OnClose registers fn to run when the session closes. Callbacks run in
// reverse registration order. If the session is already closed fn runs
// immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.runCleanup(fn)
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// AfterFunc runs fn once after d unless the session closes first.
func (s *Session) AfterFunc(d time.Duration, fn func()) {
	t := time.AfterFunc(d, func() {
		if !s.closed.Load() {
			fn()
		}
	})
	s.OnClose(func() { t.Stop() })
}

// Every runs fn every d until the session closes.
func (s *Session) Every(d time.Duration, fn func(ctx context.Context)) {
	if d <= 0 {
		return
	}
	stop := make(chan struct{})
	var once sync.Once
	s.OnClose(func() { once.Do(func() { close(stop) }) })
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn(s.ctx)
			}
		}
	}()
}

// Set stores a session-scoped value.
func (s *Session) Set(key, value any) { s.values.Store(key, value) }

// Get loads a session-scoped value.
func (s *Session) Get(key any) (any, bool) { return s.values.Load(key) }

// LoadOrStore returns the existing value for key or stores and returns value.
func (s *Session) LoadOrStore(key, value any) (actual any, loaded bool) {
	return s.values.LoadOrStore(key, value)
}

// Close tears the session down. The cleanup stack runs exactly once no
// matter how many times or from how many goroutines Close is called.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		fns := s.cleanups
		s.cleanups = nil
		s.writer = nil
		s.mu.Unlock()

		s.closed.Store(true)
		s.cancel()

		for i := len(fns) - 1; i >= 0; i-- {
			s.runCleanup(fns[i])
		}
		s.log.Debug("session.close", slog.String("session_id", s.id), slog.String("binding", s.binding), slog.Int("cleanups", len(fns)))
	})
	return nil
}

func (s *Session) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session.cleanup.panic", slog.String("session_id", s.id), slog.Any("panic", r))
		}
	}()
	fn()
}
