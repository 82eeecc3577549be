package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/sessions"
	"golang.org/x/time/rate"
)

type stateKey struct{}

// sessionState is the engine's per-session bookkeeping. It lives in the
// session's value store and dies with the session.
type sessionState struct {
	mu              sync.Mutex
	initialized     bool
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	logLevel        slog.Level

	inflight map[string]context.CancelCauseFunc
	tokens   map[string]struct{}

	limiter *rate.Limiter
}

func (e *Engine) state(sess *sessions.Session) *sessionState {
	if v, ok := sess.Get(stateKey{}); ok {
		return v.(*sessionState)
	}
	st := &sessionState{
		logLevel: slog.LevelInfo,
		inflight: make(map[string]context.CancelCauseFunc),
		tokens:   make(map[string]struct{}),
	}
	if e.rps > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(e.rps), e.burst)
	}
	actual, _ := sess.LoadOrStore(stateKey{}, st)
	return actual.(*sessionState)
}

// track registers cancel under id. It reports false if id is already in
// flight on this session.
func (st *sessionState) track(id string, cancel context.CancelCauseFunc) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.inflight[id]; exists {
		return false
	}
	st.inflight[id] = cancel
	return true
}

func (st *sessionState) untrack(id string) {
	st.mu.Lock()
	delete(st.inflight, id)
	st.mu.Unlock()
}

func (st *sessionState) cancel(id string, cause error) bool {
	st.mu.Lock()
	fn, ok := st.inflight[id]
	st.mu.Unlock()
	if ok {
		fn(cause)
	}
	return ok
}

// acquireToken marks a progress token as in use. Tokens are keyed with
// their dynamic type so that "1" and 1 stay distinct.
func (st *sessionState) acquireToken(token mcp.ProgressToken) (release func(), ok bool) {
	key := fmt.Sprintf("%T:%v", token, token)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, busy := st.tokens[key]; busy {
		return nil, false
	}
	st.tokens[key] = struct{}{}
	return func() {
		st.mu.Lock()
		delete(st.tokens, key)
		st.mu.Unlock()
	}, true
}

func (st *sessionState) allow() bool {
	if st.limiter == nil {
		return true
	}
	return st.limiter.Allow()
}

func (st *sessionState) level() slog.Level {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.logLevel
}
