package mcpservice

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-everything-go/mcp"
)

// ProgressReporter reports progress of a long-running operation. The engine
// injects one into the invocation context when the caller supplied a
// progress token; handlers reach it through ToolResponseWriter.SendProgress.
type ProgressReporter interface {
	// Report emits a progress update. total may be zero when unknown.
	Report(ctx context.Context, progress, total float64) error
}

type progressKey struct{}

// WithProgressReporter returns a new context carrying the provided reporter.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves a ProgressReporter from the context if present.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	if v := ctx.Value(progressKey{}); v != nil {
		if pr, ok := v.(ProgressReporter); ok && pr != nil {
			return pr, true
		}
	}
	return nil, false
}

// ProgressSink delivers one progress notification to the caller. It must
// write synchronously so that notifications keep their order relative to
// the final response.
type ProgressSink func(ctx context.Context, params mcp.ProgressNotificationParams) error

// ProgressEmitter turns handler progress reports into progress
// notifications bound to a single token.
//
// The emitted sequence never decreases: reports below the last emitted value
// are dropped and values above a known positive total are clamped to it.
// After Finish every report is dropped.
type ProgressEmitter struct {
	token mcp.ProgressToken
	sink  ProgressSink

	mu       sync.Mutex
	sent     bool
	last     float64
	total    float64
	finished bool
}

var _ ProgressReporter = (*ProgressEmitter)(nil)

// NewProgressEmitter binds sink to token. With a nil token or sink the
// emitter is a no-op.
func NewProgressEmitter(token mcp.ProgressToken, sink ProgressSink) *ProgressEmitter {
	return &ProgressEmitter{token: token, sink: sink}
}

// Active reports whether reports reach a sink.
func (e *ProgressEmitter) Active() bool {
	return e != nil && e.token != nil && e.sink != nil
}

// Report implements ProgressReporter.
func (e *ProgressEmitter) Report(ctx context.Context, progress, total float64) error {
	if !e.Active() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return nil
	}
	if total > 0 {
		e.total = total
	}
	if e.total > 0 && progress > e.total {
		progress = e.total
	}
	if e.sent && progress < e.last {
		return nil
	}
	if err := e.sink(ctx, mcp.ProgressNotificationParams{ProgressToken: e.token, Progress: progress, Total: e.total}); err != nil {
		return err
	}
	e.sent = true
	e.last = progress
	return nil
}

// Finish closes the sequence. When a total is known and the last emitted
// value is below it, a final notification at total is sent first. It is
// meant for successful completions only; on failure the sequence is simply
// abandoned.
func (e *ProgressEmitter) Finish(ctx context.Context) error {
	if !e.Active() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return nil
	}
	e.finished = true
	if e.total > 0 && (!e.sent || e.last < e.total) {
		if err := e.sink(ctx, mcp.ProgressNotificationParams{ProgressToken: e.token, Progress: e.total, Total: e.total}); err != nil {
			return err
		}
		e.sent = true
		e.last = e.total
	}
	return nil
}

// Abandon stops the sequence without topping it up.
func (e *ProgressEmitter) Abandon() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.finished = true
	e.mu.Unlock()
}
