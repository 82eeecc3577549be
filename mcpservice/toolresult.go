package mcpservice

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/ggoodman/mcp-everything-go/mcp"
)

// ToolResponseWriter is handed to a Tool's handler to build its result.
// Content accumulates in call order; once the dispatcher seals the result,
// further appends fail with ErrResultSealed. Appends and progress fail with
// the context error after the invocation is cancelled.
type ToolResponseWriter interface {
	AppendText(text string) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	SetError(isError bool)
	SetMeta(key string, v any)
	// SendProgress reports through the invocation's ProgressReporter. It
	// does nothing when the client supplied no progress token.
	SendProgress(progress, total float64) error
	Result() *mcp.CallToolResult
}

// ErrResultSealed is returned by appends after the result was taken.
var ErrResultSealed = errors.New("tool result already sealed")

// resultBuilder is the ToolResponseWriter behind every CallTool.
type resultBuilder struct {
	ctx context.Context

	mu     sync.Mutex
	res    mcp.CallToolResult
	sealed bool
}

var _ ToolResponseWriter = (*resultBuilder)(nil)

func newResultBuilder(ctx context.Context) *resultBuilder {
	return &resultBuilder{ctx: ctx}
}

func (b *resultBuilder) AppendText(text string) error {
	return b.AppendBlocks(TextContent(text))
}

func (b *resultBuilder) AppendBlocks(blocks ...mcp.ContentBlock) error {
	return b.update(func(res *mcp.CallToolResult) {
		res.Content = append(res.Content, blocks...)
	})
}

func (b *resultBuilder) SetError(isError bool) {
	_ = b.update(func(res *mcp.CallToolResult) { res.IsError = isError })
}

func (b *resultBuilder) SetMeta(key string, v any) {
	if key == "" {
		return
	}
	_ = b.update(func(res *mcp.CallToolResult) {
		if res.Meta == nil {
			res.Meta = make(map[string]any)
		}
		res.Meta[key] = v
	})
}

// update applies fn unless the invocation is over.
func (b *resultBuilder) update(fn func(*mcp.CallToolResult)) error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrResultSealed
	}
	fn(&b.res)
	return nil
}

func (b *resultBuilder) SendProgress(progress, total float64) error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	pr, ok := ProgressFrom(b.ctx)
	if !ok {
		return nil
	}
	return pr.Report(b.ctx, progress, total)
}

// Result seals the builder and returns a copy of what was written. Later
// calls return fresh copies of the same result.
func (b *resultBuilder) Result() *mcp.CallToolResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	out := b.res
	out.Content = slices.Clone(b.res.Content)
	if out.Content == nil {
		out.Content = []mcp.ContentBlock{}
	}
	out.Meta = maps.Clone(b.res.Meta)
	return &out
}
