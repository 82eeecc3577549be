package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-everything-go/internal/engine"
	"github.com/ggoodman/mcp-everything-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-everything-go/internal/logctx"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/sessions"
	"github.com/google/uuid"
)

// Binding is the session binding name used by this package.
const Binding = "stdio"

// ErrAlreadyServed is returned when Serve is called more than once.
var ErrAlreadyServed = errors.New("stdio: handler already served")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout and identifies the peer as the current OS user.
type Handler struct {
	srv *mcpservice.Server
	r   io.Reader
	w   io.Writer
	l   *slog.Logger

	userProvider UserProvider
	rps          float64
	burst        int

	served atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *mcpservice.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.New(slog.DiscardHandler),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader, a transport fault
// or cancellation of ctx. The session is closed on every exit path and Serve
// waits for in-flight requests before returning. EOF and cancellation are
// clean shutdowns and return nil.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	log := slog.New(logctx.Wrap(h.l.Handler()))

	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		log.WarnContext(ctx, "stdio.user.fail", slog.String("err", err.Error()))
	}

	out := &lineWriter{w: h.w}
	sess := sessions.New(uuid.NewString(), Binding,
		sessions.WithLogger(log),
		sessions.WithUserID(userID),
		sessions.WithParent(ctx),
		sessions.WithWriter(out),
	)
	defer sess.Close()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Binding: Binding, UserID: userID})

	engOpts := []engine.Option{engine.WithLogger(log)}
	if h.rps > 0 {
		engOpts = append(engOpts, engine.WithRateLimit(h.rps, h.burst))
	}
	eng := engine.New(h.srv, engOpts...)
	eng.Attach(sess)

	var (
		wg    sync.WaitGroup
		fault atomic.Pointer[error]
	)
	setFault := func(err error) {
		if fault.CompareAndSwap(nil, &err) {
			sess.Close()
		}
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readLines(sess.Context(), h.r, lines)
	}()

	log.InfoContext(ctx, "stdio.serve.start")
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "stdio.serve.cancelled")
			return nil
		case <-sess.Done():
			if p := fault.Load(); p != nil {
				return *p
			}
			log.InfoContext(ctx, "stdio.serve.stop")
			return nil
		case err := <-readErr:
			wg.Wait()
			if err != nil {
				log.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: read: %w", err)
			}
			log.InfoContext(ctx, "stdio.serve.eof")
			return nil
		case line := <-lines:
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := eng.HandleMessage(ctx, sess, line, out)
				if resp == nil {
					return
				}
				if sess.Closed() {
					log.InfoContext(ctx, "stdio.response.dropped", slog.String("reason", "session_closed"))
					return
				}
				b, err := json.Marshal(resp)
				if err != nil {
					log.ErrorContext(ctx, "stdio.response.marshal.fail", slog.String("err", err.Error()))
					return
				}
				if err := out.WriteMessage(ctx, b); err != nil {
					log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
					setFault(fmt.Errorf("stdio: write: %w", err))
				}
			}()
		}
	}
}

// readLines feeds non-empty lines to out until EOF (nil) or a read error.
func readLines(ctx context.Context, r io.Reader, out chan<- []byte) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// lineWriter frames each message on its own line. Writes are serialized.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) WriteMessage(_ context.Context, msg jsonrpc.Message) error {
	if bytes.ContainsAny(msg, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return fmt.Errorf("failed to compact message: %w", err)
		}
		msg = buf.Bytes()
	}
	frame := make([]byte, 0, len(msg)+1)
	frame = append(append(frame, msg...), '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(frame)
	return err
}
