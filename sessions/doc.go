// Package sessions defines the lifetime-scoped state shared by every
// transport binding. A Session owns one outbound message path, the cleanup
// callbacks registered against it (subscriptions, per-session limiters) and
// any timers it started.
//
// Lifecycle
//
//	binding creates Session -> engine registers cleanup -> requests flow
//	-> disconnect / DELETE / EOF / idle reap -> Close runs cleanup once
//
// Close is the single teardown path. It is safe to call from any goroutine
// and any number of times; the cleanup stack runs exactly once, in reverse
// registration order. Messages sent to a closed session are dropped without
// error so that in-flight handlers can finish undisturbed.
//
// Bindings that multiplex many sessions (streaminghttp, sse) keep them in a
// Manager, which assigns identifiers and removes sessions once closed.
package sessions
