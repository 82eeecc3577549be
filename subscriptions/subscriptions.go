// Package subscriptions tracks which sessions are subscribed to which
// resource URIs and fans resource-updated events out to them.
//
// Every resource URI owns its own lock, so subscribing to or notifying one
// resource never waits on another. A shared index lock guards only the
// URI-to-entry map and the per-session reverse index and is never held
// while delivering.
//
// When a broker.Broker is configured, Publish appends the change to a
// shared topic and every node running Relay notifies its own local
// subscribers. Without a broker Publish notifies locally.
package subscriptions

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/ggoodman/mcp-everything-go/broker"
)

// DefaultTopic is the broker topic used for resource-updated events.
const DefaultTopic = "resources.updated"

// DeliverFunc pushes a resource-updated notification for uri to one
// subscriber.
type DeliverFunc func(ctx context.Context, uri string) error

// Manager is the subscription table. The zero value is not usable; call
// NewManager.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*resource
	bySession map[string]map[string]struct{}

	broker broker.Broker
	topic  string
	log    *slog.Logger
}

type resource struct {
	mu   sync.Mutex
	dead bool
	subs map[string]DeliverFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithBroker routes Publish through b. Run Relay on every node to deliver
// published events to local subscribers.
func WithBroker(b broker.Broker) Option {
	return func(m *Manager) { m.broker = b }
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(m *Manager) {
		if topic != "" {
			m.topic = topic
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates an empty subscription table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		resources: make(map[string]*resource),
		bySession: make(map[string]map[string]struct{}),
		topic:     DefaultTopic,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers deliver for (sessionID, uri). It reports whether the
// subscription is new; subscribing twice keeps the original delivery func.
func (m *Manager) Subscribe(sessionID, uri string, deliver DeliverFunc) bool {
	for {
		m.mu.Lock()
		r, ok := m.resources[uri]
		if !ok {
			r = &resource{subs: make(map[string]DeliverFunc)}
			m.resources[uri] = r
		}
		set, ok := m.bySession[sessionID]
		if !ok {
			set = make(map[string]struct{})
			m.bySession[sessionID] = set
		}
		set[uri] = struct{}{}
		m.mu.Unlock()

		r.mu.Lock()
		if r.dead {
			// Lost a race with the removal of the last subscriber.
			r.mu.Unlock()
			continue
		}
		_, exists := r.subs[sessionID]
		if !exists {
			r.subs[sessionID] = deliver
		}
		r.mu.Unlock()
		return !exists
	}
}

// Unsubscribe removes (sessionID, uri). It reports whether a subscription
// was removed; unknown pairs are ignored.
func (m *Manager) Unsubscribe(sessionID, uri string) bool {
	m.mu.Lock()
	if set, ok := m.bySession[sessionID]; ok {
		delete(set, uri)
		if len(set) == 0 {
			delete(m.bySession, sessionID)
		}
	}
	r, ok := m.resources[uri]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.detach(uri, r, sessionID)
}

// CloseSession removes every subscription owned by sessionID and returns
// how many were removed.
func (m *Manager) CloseSession(sessionID string) int {
	m.mu.Lock()
	set := m.bySession[sessionID]
	delete(m.bySession, sessionID)
	entries := make(map[string]*resource, len(set))
	for uri := range set {
		if r, ok := m.resources[uri]; ok {
			entries[uri] = r
		}
	}
	m.mu.Unlock()

	removed := 0
	for uri, r := range entries {
		if m.detach(uri, r, sessionID) {
			removed++
		}
	}
	return removed
}

// detach removes sessionID from r and drops r from the index once empty.
func (m *Manager) detach(uri string, r *resource, sessionID string) bool {
	r.mu.Lock()
	_, existed := r.subs[sessionID]
	delete(r.subs, sessionID)
	empty := len(r.subs) == 0
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		r.mu.Lock()
		if len(r.subs) == 0 && m.resources[uri] == r {
			r.dead = true
			delete(m.resources, uri)
		}
		r.mu.Unlock()
		m.mu.Unlock()
	}
	return existed
}

// Notify delivers one update for uri to every current subscriber and
// returns the number of successful deliveries. Failed deliveries are logged
// and do not stop the fan-out.
func (m *Manager) Notify(ctx context.Context, uri string) int {
	m.mu.Lock()
	r, ok := m.resources[uri]
	m.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	type target struct {
		sessionID string
		deliver   DeliverFunc
	}
	targets := make([]target, 0, len(r.subs))
	for id, fn := range r.subs {
		targets = append(targets, target{id, fn})
	}
	r.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.deliver(ctx, uri); err != nil {
			m.log.WarnContext(ctx, "subscriptions.notify.err",
				slog.String("uri", uri),
				slog.String("session_id", t.sessionID),
				slog.String("err", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}

// Publish announces a change to uri. With a broker the event is appended to
// the shared topic and delivered by Relay; otherwise local subscribers are
// notified directly.
func (m *Manager) Publish(ctx context.Context, uri string) error {
	if m.broker == nil {
		m.Notify(ctx, uri)
		return nil
	}
	_, err := m.broker.Publish(ctx, m.topic, []byte(uri))
	return err
}

// Relay consumes the broker topic and notifies local subscribers until ctx
// is done. It returns nil immediately when no broker is configured.
func (m *Manager) Relay(ctx context.Context) error {
	if m.broker == nil {
		return nil
	}
	m.log.InfoContext(ctx, "subscriptions.relay.start", slog.String("topic", m.topic))
	err := m.broker.Subscribe(ctx, m.topic, "", func(ctx context.Context, env broker.MessageEnvelope) error {
		m.Notify(ctx, string(env.Data))
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Subscribers returns the ids of sessions subscribed to uri, sorted.
func (m *Manager) Subscribers(uri string) []string {
	m.mu.Lock()
	r, ok := m.resources[uri]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// URIs returns every URI with at least one subscriber, sorted.
func (m *Manager) URIs() []string {
	m.mu.Lock()
	uris := make([]string, 0, len(m.resources))
	for uri := range m.resources {
		uris = append(uris, uri)
	}
	m.mu.Unlock()
	slices.Sort(uris)
	return uris
}

// Len returns the total number of (session, uri) subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, set := range m.bySession {
		n += len(set)
	}
	return n
}
