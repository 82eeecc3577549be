// Package brokertest provides a conformance suite that every
// broker.Broker implementation runs from its own tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-everything-go/broker"
)

// BrokerFactory returns a fresh broker for a single subtest.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests executes the conformance suite against factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("ResumeFromLastEventID", func(t *testing.T) { testResume(t, factory) })
	t.Run("SubscribeStartsAfterExistingMessages", func(t *testing.T) { testStartsAfterExisting(t, factory) })
	t.Run("MultipleSubscribers", func(t *testing.T) { testMultipleSubscribers(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("ContextCancellation", func(t *testing.T) { testContextCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
}

func uniqueTopic(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func cleanup(t *testing.T, b broker.Broker, topic string) {
	t.Cleanup(func() {
		_ = b.Cleanup(context.Background(), topic)
	})
}

// collect subscribes from lastEventID and returns the first n payloads.
func collect(ctx context.Context, t *testing.T, b broker.Broker, topic, lastEventID string, n int) []string {
	t.Helper()
	errStop := errors.New("done")
	var got []string
	err := b.Subscribe(ctx, topic, lastEventID, func(_ context.Context, env broker.MessageEnvelope) error {
		got = append(got, string(env.Data))
		if len(got) == n {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("subscribe ended early: %v (got %v)", err, got)
	}
	return got
}

func testResume(t *testing.T, factory BrokerFactory) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	b := factory(t)
	topic := uniqueTopic(t)
	cleanup(t, b, topic)

	marker, err := b.Publish(ctx, topic, []byte("marker"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i := range 3 {
		if _, err := b.Publish(ctx, topic, []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	got := collect(ctx, t, b, topic, marker, 3)
	for i, want := range []string{"m0", "m1", "m2"} {
		if got[i] != want {
			t.Fatalf("message %d: want %q, got %q", i, want, got[i])
		}
	}
}

func testStartsAfterExisting(t *testing.T, factory BrokerFactory) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	b := factory(t)
	topic := uniqueTopic(t)
	cleanup(t, b, topic)

	if _, err := b.Publish(ctx, topic, []byte("old")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := make(chan string, 1)
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go func() {
		_ = b.Subscribe(subCtx, topic, "", func(_ context.Context, env broker.MessageEnvelope) error {
			select {
			case first <- string(env.Data):
			default:
			}
			return nil
		})
	}()

	// The subscription start races with publishing, so keep publishing until
	// something arrives.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case got := <-first:
			if got == "old" {
				t.Fatalf("subscription without lastEventID replayed an existing message")
			}
			return
		case <-ticker.C:
			if _, err := b.Publish(ctx, topic, []byte("new")); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for delivery")
		}
	}
}

func testMultipleSubscribers(t *testing.T, factory BrokerFactory) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	b := factory(t)
	topic := uniqueTopic(t)
	cleanup(t, b, topic)

	marker, err := b.Publish(ctx, topic, []byte("marker"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topic, []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topic, []byte("b")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var wg sync.WaitGroup
	results := make([][]string, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = collect(ctx, t, b, topic, marker, 2)
		}()
	}
	wg.Wait()

	for i, got := range results {
		if len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Fatalf("subscriber %d: want [a b], got %v", i, got)
		}
	}
}

func testTopicIsolation(t *testing.T, factory BrokerFactory) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	b := factory(t)
	topicA := uniqueTopic(t) + "-a"
	topicB := uniqueTopic(t) + "-b"
	cleanup(t, b, topicA)
	cleanup(t, b, topicB)

	markerA, err := b.Publish(ctx, topicA, []byte("marker"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topicB, []byte("for-b")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topicA, []byte("for-a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := collect(ctx, t, b, topicA, markerA, 1)
	if want := "for-a"; got[0] != want {
		t.Fatalf("want %q, got %q", want, got[0])
	}
}

func testContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	topic := uniqueTopic(t)
	cleanup(t, b, topic)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, "", func(context.Context, broker.MessageEnvelope) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscribe did not return after cancellation")
	}
}

func testHandlerError(t *testing.T, factory BrokerFactory) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	b := factory(t)
	topic := uniqueTopic(t)
	cleanup(t, b, topic)

	marker, err := b.Publish(ctx, topic, []byte("marker"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topic, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, topic, []byte("y")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	boom := errors.New("boom")
	calls := 0
	err = b.Subscribe(ctx, topic, marker, func(context.Context, broker.MessageEnvelope) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want handler error, got %v", err)
	}
	if want, got := 1, calls; want != got {
		t.Fatalf("handler calls: want %d, got %d", want, got)
	}
}
