// Package memory provides an in-process broker.Broker. State is local to
// the process, so it only fans out within a single node.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/ggoodman/mcp-everything-go/broker"
)

const defaultHistory = 1024

// Broker implements broker.Broker with an in-memory log per topic.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	seq     int64
	history int
}

type entry struct {
	seq int64
	env broker.MessageEnvelope
}

type topic struct {
	entries []entry
	wake    chan struct{}
	closed  bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory bounds the number of retained messages per topic.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.history = n
		}
	}
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{topics: make(map[string]*topic), history: defaultHistory}
	for _, o := range opts {
		o(b)
	}
	return b
}

var _ broker.Broker = (*Broker)(nil)

// topicLocked returns the named topic, creating it. b.mu must be held.
func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{wake: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(name)
	b.seq++
	id := strconv.FormatInt(b.seq, 10)
	t.entries = append(t.entries, entry{
		seq: b.seq,
		env: broker.MessageEnvelope{ID: id, Data: append([]byte(nil), data...)},
	})
	if over := len(t.entries) - b.history; over > 0 {
		t.entries = append([]entry(nil), t.entries[over:]...)
	}
	close(t.wake)
	t.wake = make(chan struct{})
	return id, nil
}

func (b *Broker) Subscribe(ctx context.Context, name string, lastEventID string, handler broker.MessageHandler) error {
	b.mu.Lock()
	t := b.topicLocked(name)
	cursor := b.seq
	if lastEventID != "" {
		if n, err := strconv.ParseInt(lastEventID, 10, 64); err == nil {
			cursor = n
		}
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		var pending []broker.MessageEnvelope
		for _, e := range t.entries {
			if e.seq > cursor {
				pending = append(pending, e.env)
				cursor = e.seq
			}
		}
		wake, closed := t.wake, t.closed
		b.mu.Unlock()

		for _, env := range pending {
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (b *Broker) Cleanup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	delete(b.topics, name)
	t.closed = true
	t.entries = nil
	close(t.wake)
	t.wake = make(chan struct{})
	return nil
}
